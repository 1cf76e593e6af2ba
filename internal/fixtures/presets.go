package fixtures

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yaml
var presetFiles embed.FS

type presetFile struct {
	Version int          `yaml:"version"`
	Presets []presetEntry `yaml:"presets"`
}

type presetEntry struct {
	Code        string     `yaml:"code"`
	Name        string     `yaml:"name"`
	Country     string     `yaml:"country"`
	Description string     `yaml:"description"`
	Deductions  []ruleEntry `yaml:"deductions"`
	Benefits    []ruleEntry `yaml:"benefits"`
}

type ruleEntry struct {
	Code          string     `yaml:"code"`
	Name          string     `yaml:"name"`
	Category      string     `yaml:"category"`
	Kind          string     `yaml:"kind"`
	Rate          string     `yaml:"rate"`
	Amount        string     `yaml:"amount"`
	Bands         []bandEntry `yaml:"bands"`
	MinimumAmount string     `yaml:"minimum_amount"`
	MaximumAmount string     `yaml:"maximum_amount"`
	Condition     string     `yaml:"condition"`
}

type bandEntry struct {
	Min  string `yaml:"min"`
	Max  string `yaml:"max"`
	Rate string `yaml:"rate"`
}

// PresetCatalog holds the statutory rule bundles shipped with the binary.
type PresetCatalog struct {
	presets []payroll.RulePreset
	byCode  map[string]payroll.RulePreset
}

// LoadPresets parses every embedded preset file.
func LoadPresets() (*PresetCatalog, error) {
	files, err := fs.Glob(presetFiles, "presets/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	catalog := &PresetCatalog{byCode: make(map[string]payroll.RulePreset)}
	for _, name := range files {
		b, err := presetFiles.ReadFile(name)
		if err != nil {
			return nil, err
		}
		presets, err := ParsePresetsYAML(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, p := range presets {
			if _, dup := catalog.byCode[p.Code]; dup {
				return nil, fmt.Errorf("%s: duplicate preset %s", name, p.Code)
			}
			catalog.byCode[p.Code] = p
			catalog.presets = append(catalog.presets, p)
		}
	}
	return catalog, nil
}

func ParsePresetsYAML(b []byte) ([]payroll.RulePreset, error) {
	var f presetFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("presets: unsupported version")
	}

	out := make([]payroll.RulePreset, 0, len(f.Presets))
	for _, ps := range f.Presets {
		preset := payroll.RulePreset{
			Code:        strings.ToUpper(ps.Code),
			Name:        ps.Name,
			Country:     ps.Country,
			Description: ps.Description,
		}
		for _, rs := range ps.Deductions {
			rule, err := rs.rule()
			if err != nil {
				return nil, fmt.Errorf("preset %s: %w", ps.Code, err)
			}
			d := payroll.DeductionRule{Rule: rule, Category: payroll.DeductionCategory(rs.Category)}
			if err := d.Validate(); err != nil {
				return nil, fmt.Errorf("preset %s rule %s: %w", ps.Code, rs.Code, err)
			}
			preset.Deductions = append(preset.Deductions, d)
		}
		for _, rs := range ps.Benefits {
			rule, err := rs.rule()
			if err != nil {
				return nil, fmt.Errorf("preset %s: %w", ps.Code, err)
			}
			b := payroll.BenefitRule{Rule: rule, Category: payroll.BenefitCategory(rs.Category)}
			if err := b.Validate(); err != nil {
				return nil, fmt.Errorf("preset %s rule %s: %w", ps.Code, rs.Code, err)
			}
			preset.Benefits = append(preset.Benefits, b)
		}
		out = append(out, preset)
	}
	return out, nil
}

func (rs ruleEntry) rule() (payroll.Rule, error) {
	rate, err := optionalDecimal(rs.Rate)
	if err != nil {
		return payroll.Rule{}, fmt.Errorf("rule %s rate: %w", rs.Code, err)
	}
	amount, err := optionalDecimal(rs.Amount)
	if err != nil {
		return payroll.Rule{}, fmt.Errorf("rule %s amount: %w", rs.Code, err)
	}

	var bands []payroll.Band
	for _, bs := range rs.Bands {
		var band payroll.Band
		if band.Min, err = decimal.NewFromString(bs.Min); err != nil {
			return payroll.Rule{}, fmt.Errorf("rule %s band min: %w", rs.Code, err)
		}
		if band.Rate, err = decimal.NewFromString(bs.Rate); err != nil {
			return payroll.Rule{}, fmt.Errorf("rule %s band rate: %w", rs.Code, err)
		}
		if bs.Max != "" {
			max, err := decimal.NewFromString(bs.Max)
			if err != nil {
				return payroll.Rule{}, fmt.Errorf("rule %s band max: %w", rs.Code, err)
			}
			band.Max = decimal.NewNullDecimal(max)
		}
		bands = append(bands, band)
	}

	calc, err := payroll.NewCalculation(payroll.CalculationKind(rs.Kind), rate, amount, bands)
	if err != nil {
		return payroll.Rule{}, fmt.Errorf("rule %s: %w", rs.Code, err)
	}

	rule := payroll.Rule{
		Code:        strings.ToUpper(rs.Code),
		Name:        rs.Name,
		Calculation: calc,
		Condition:   rs.Condition,
		IsActive:    true,
	}
	if rule.MinimumAmount, err = nullDecimal(rs.MinimumAmount); err != nil {
		return payroll.Rule{}, fmt.Errorf("rule %s minimum_amount: %w", rs.Code, err)
	}
	if rule.MaximumAmount, err = nullDecimal(rs.MaximumAmount); err != nil {
		return payroll.Rule{}, fmt.Errorf("rule %s maximum_amount: %w", rs.Code, err)
	}
	return rule, nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func (c *PresetCatalog) Presets() []payroll.RulePreset {
	return c.presets
}

func (c *PresetCatalog) Preset(code string) (payroll.RulePreset, error) {
	p, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return payroll.RulePreset{}, payroll.ErrRulePresetNotFound
	}
	return p, nil
}
