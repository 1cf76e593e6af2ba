package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculationKind names the calculation variant of a rule. It is the persisted
// and wire representation of a Calculation.
type CalculationKind string

const (
	KindPercentage  CalculationKind = "percentage"
	KindFixedAmount CalculationKind = "fixed_amount"
	KindTiered      CalculationKind = "tiered"
)

func (k CalculationKind) IsValid() bool {
	switch k {
	case KindPercentage, KindFixedAmount, KindTiered:
		return true
	}
	return false
}

// Calculation is the amount formula carried by a deduction or benefit rule.
// The set of implementations is closed: Percentage, FixedAmount and Tiered.
type Calculation interface {
	Kind() CalculationKind
	Validate() error
	compute(base decimal.Decimal) decimal.Decimal
}

// Percentage yields base * Rate / 100.
type Percentage struct {
	Rate decimal.Decimal
}

func (Percentage) Kind() CalculationKind { return KindPercentage }

func (p Percentage) Validate() error {
	if p.Rate.IsNegative() || p.Rate.GreaterThan(hundred) {
		return fmt.Errorf("%w: rate must be between 0 and 100", ErrRuleConfiguration)
	}
	return nil
}

func (p Percentage) compute(base decimal.Decimal) decimal.Decimal {
	return base.Mul(p.Rate).Div(hundred)
}

// FixedAmount yields Amount regardless of the base.
type FixedAmount struct {
	Amount decimal.Decimal
}

func (FixedAmount) Kind() CalculationKind { return KindFixedAmount }

func (f FixedAmount) Validate() error {
	if f.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be non-negative", ErrRuleConfiguration)
	}
	return nil
}

func (f FixedAmount) compute(decimal.Decimal) decimal.Decimal {
	return f.Amount
}

// Band is one slice of a tiered calculation. Max is exclusive of the next
// band's slice; an invalid (null) Max means unbounded.
type Band struct {
	Min  decimal.Decimal     `json:"min"`
	Max  decimal.NullDecimal `json:"max"`
	Rate decimal.Decimal     `json:"rate"`
}

// Tiered applies each band's rate to the part of the base that falls inside it.
type Tiered struct {
	Bands []Band
}

func (Tiered) Kind() CalculationKind { return KindTiered }

func (t Tiered) Validate() error {
	if len(t.Bands) == 0 {
		return fmt.Errorf("%w: tiered calculation needs at least one band", ErrRuleConfiguration)
	}
	for i, b := range t.Bands {
		if b.Min.IsNegative() {
			return fmt.Errorf("%w: band %d min must be non-negative", ErrRuleConfiguration, i+1)
		}
		if b.Rate.IsNegative() || b.Rate.GreaterThan(hundred) {
			return fmt.Errorf("%w: band %d rate must be between 0 and 100", ErrRuleConfiguration, i+1)
		}
		last := i == len(t.Bands)-1
		if !last && !b.Max.Valid {
			return fmt.Errorf("%w: only the last band may be unbounded", ErrRuleConfiguration)
		}
		if b.Max.Valid && !b.Max.Decimal.GreaterThan(b.Min) {
			return fmt.Errorf("%w: band %d max must be greater than min", ErrRuleConfiguration, i+1)
		}
		if i > 0 {
			prev := t.Bands[i-1]
			if !b.Min.Equal(prev.Max.Decimal) {
				return fmt.Errorf("%w: band %d must start where band %d ends", ErrRuleConfiguration, i+1, i)
			}
		}
	}
	return nil
}

func (t Tiered) compute(base decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for i, b := range t.Bands {
		if !b.Min.LessThan(base) {
			continue
		}
		upper := base
		if b.Max.Valid && i < len(t.Bands)-1 {
			upper = decimal.Min(base, b.Max.Decimal)
		}
		slice := upper.Sub(b.Min)
		if slice.IsPositive() {
			total = total.Add(slice.Mul(b.Rate).Div(hundred))
		}
	}
	return total
}

// NewCalculation builds a Calculation from its flat form (kind plus the
// optional rate, amount and bands columns). Exactly the field matching kind
// must be populated.
func NewCalculation(kind CalculationKind, rate, amount *decimal.Decimal, bands []Band) (Calculation, error) {
	var c Calculation
	switch kind {
	case KindPercentage:
		if rate == nil || amount != nil || len(bands) > 0 {
			return nil, fmt.Errorf("%w: percentage rules take only a rate", ErrRuleConfiguration)
		}
		c = Percentage{Rate: *rate}
	case KindFixedAmount:
		if amount == nil || rate != nil || len(bands) > 0 {
			return nil, fmt.Errorf("%w: fixed amount rules take only an amount", ErrRuleConfiguration)
		}
		c = FixedAmount{Amount: *amount}
	case KindTiered:
		if len(bands) == 0 || rate != nil || amount != nil {
			return nil, fmt.Errorf("%w: tiered rules take only bands", ErrRuleConfiguration)
		}
		c = Tiered{Bands: bands}
	default:
		return nil, fmt.Errorf("%w: unknown calculation kind %q", ErrRuleConfiguration, kind)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Flatten is the inverse of NewCalculation.
func Flatten(c Calculation) (kind CalculationKind, rate, amount *decimal.Decimal, bands []Band) {
	switch v := c.(type) {
	case Percentage:
		r := v.Rate
		return KindPercentage, &r, nil, nil
	case FixedAmount:
		a := v.Amount
		return KindFixedAmount, nil, &a, nil
	case Tiered:
		return KindTiered, nil, nil, v.Bands
	}
	return "", nil, nil, nil
}
