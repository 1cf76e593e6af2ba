package http

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/handler/http/middleware"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/authz"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/jwt"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type RouterOptions struct {
	AppName        string
	Version        string
	Env            string
	AllowedOrigins []string

	// Redis backs Idempotency-Key handling on POST routes; nil disables it.
	Redis          redis.Cmdable
	IdempotencyTTL time.Duration

	// GenerateRate and GenerateBurst limit payroll runs per company.
	GenerateRate  rate.Limit
	GenerateBurst int
}

func NewRouter(JWTService jwt.Service, authorizer *authz.Authorizer, payrollHandler PayrollHandler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()
	logFormat := httplog.SchemaECS.Concise(opts.Env != "production")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", opts.AppName),
		slog.String("version", opts.Version),
		slog.String("env", opts.Env),
	)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", middleware.IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Link", middleware.IdempotencyReplayedHeader},
		MaxAge:           300,
	}))

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	can := func(p authz.Permission) func(http.Handler) http.Handler {
		return middleware.RequirePermission(authorizer, p)
	}

	r.Route("/api/v1", func(r chi.Router) {

		// Requires authentication
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(JWTService.JWTAuth()))
			r.Use(middleware.AuthRequired)
			r.Use(middleware.RequireCompany)
			if opts.Redis != nil {
				r.Use(middleware.Idempotency(opts.Redis, opts.IdempotencyTTL))
			}

			r.Route("/payroll", func(r chi.Router) {
				r.Route("/deduction-rules", func(r chi.Router) {
					r.With(can(authz.PermissionRulesRead)).Get("/", payrollHandler.ListDeductionRules)
					r.With(can(authz.PermissionRulesWrite)).Post("/", payrollHandler.CreateDeductionRule)
					r.With(can(authz.PermissionRulesRead)).Get("/{id}", payrollHandler.GetDeductionRule)
					r.With(can(authz.PermissionRulesWrite)).Put("/{id}", payrollHandler.UpdateDeductionRule)
					r.With(can(authz.PermissionRulesWrite)).Post("/{id}/disable", payrollHandler.DisableDeductionRule)
				})

				r.Route("/benefit-rules", func(r chi.Router) {
					r.With(can(authz.PermissionRulesRead)).Get("/", payrollHandler.ListBenefitRules)
					r.With(can(authz.PermissionRulesWrite)).Post("/", payrollHandler.CreateBenefitRule)
					r.With(can(authz.PermissionRulesRead)).Get("/{id}", payrollHandler.GetBenefitRule)
					r.With(can(authz.PermissionRulesWrite)).Put("/{id}", payrollHandler.UpdateBenefitRule)
					r.With(can(authz.PermissionRulesWrite)).Post("/{id}/disable", payrollHandler.DisableBenefitRule)
				})

				r.With(can(authz.PermissionRulesRead)).Post("/rules/preview", payrollHandler.PreviewRule)
				r.With(can(authz.PermissionRulesRead)).Get("/rule-presets", payrollHandler.ListRulePresets)
				r.With(can(authz.PermissionRulesWrite)).Post("/rule-presets/{code}/apply", payrollHandler.ApplyRulePreset)

				r.Route("/periods", func(r chi.Router) {
					r.With(can(authz.PermissionPeriodsRead)).Get("/", payrollHandler.ListPeriods)
					r.With(can(authz.PermissionPeriodsWrite)).Post("/", payrollHandler.CreatePeriod)

					r.Route("/{id}", func(r chi.Router) {
						r.With(can(authz.PermissionPeriodsRead)).Get("/", payrollHandler.GetPeriod)
						r.With(can(authz.PermissionPeriodsWrite)).Post("/close", payrollHandler.ClosePeriod)
						r.With(can(authz.PermissionItemsRead)).Get("/summary", payrollHandler.GetPeriodSummary)
						r.With(can(authz.PermissionItemsRead)).Get("/register.csv", payrollHandler.ExportPeriodRegister)
						r.With(
							can(authz.PermissionItemsWrite),
							middleware.RateLimitByCompany(opts.GenerateRate, opts.GenerateBurst),
						).Post("/generate", payrollHandler.GeneratePayroll)
					})
				})

				r.Route("/items", func(r chi.Router) {
					r.With(can(authz.PermissionItemsRead)).Get("/", payrollHandler.ListPayrollItems)
					r.With(can(authz.PermissionItemsApprove)).Post("/approve", payrollHandler.ApprovePayrollItems)
					r.With(can(authz.PermissionItemsPay)).Post("/pay", payrollHandler.MarkPayrollItemsPaid)

					r.Route("/{id}", func(r chi.Router) {
						r.With(can(authz.PermissionItemsRead)).Get("/", payrollHandler.GetPayrollItem)
						r.With(can(authz.PermissionItemsWrite)).Put("/", payrollHandler.UpdatePayrollItem)
						r.With(can(authz.PermissionItemsWrite)).Delete("/", payrollHandler.DeletePayrollItem)
						r.With(can(authz.PermissionItemsRead)).Get("/summary", payrollHandler.GetItemSummary)

						// Draft edits
						r.Group(func(r chi.Router) {
							r.Use(can(authz.PermissionItemsWrite))
							r.Post("/recalculate", payrollHandler.RecalculatePayrollItem)
							r.Post("/earnings", payrollHandler.AddCustomEarning)
							r.Post("/deductions", payrollHandler.AddCustomDeduction)
							r.Post("/benefits", payrollHandler.AddCustomBenefit)
						})

						r.With(can(authz.PermissionItemsApprove)).Post("/approve", payrollHandler.ApprovePayrollItem)
						r.With(can(authz.PermissionItemsPay)).Post("/pay", payrollHandler.MarkPayrollItemPaid)
					})
				})
			})
		})
	})
	return r
}
