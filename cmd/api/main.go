package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/config"
	"github.com/Chrisphine10/intellicash-sub009/internal/fixtures"
	appHTTP "github.com/Chrisphine10/intellicash-sub009/internal/handler/http"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/authz"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/cron"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/database"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/jwt"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/messaging"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/ruleexpr"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/storage"
	"github.com/Chrisphine10/intellicash-sub009/internal/repository/postgresql"
	payrollService "github.com/Chrisphine10/intellicash-sub009/internal/service/payroll"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgreSQLDB(ctx, cfg.DatabaseURL(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	payrollRepo := postgresql.NewPayrollRepository(db)
	outboxRepo := postgresql.NewOutboxRepository(db)
	txManager := postgresql.NewTxManager(db)

	conditions, err := ruleexpr.NewEvaluator()
	if err != nil {
		return fmt.Errorf("init rule evaluator: %w", err)
	}
	presets, err := fixtures.LoadPresets()
	if err != nil {
		return fmt.Errorf("load rule presets: %w", err)
	}
	fileStorage, err := storage.NewLocalStorage(cfg.Storage.BasePath, cfg.Storage.BaseURL)
	if err != nil {
		return fmt.Errorf("init local storage: %w", err)
	}
	authorizer, err := authz.NewAuthorizer()
	if err != nil {
		return fmt.Errorf("init authorizer: %w", err)
	}

	JWTService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiration)

	payrollSvc := payrollService.NewPayrollService(
		payrollRepo,
		txManager,
		outboxRepo,
		conditions,
		presets,
		fileStorage,
		payrollService.Options{
			Workers:    cfg.Payroll.Workers,
			EventTopic: cfg.Kafka.Topic,
		},
	)
	payrollHandler := appHTTP.NewPayrollHandler(payrollSvc)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, idempotency keys fail open", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	scheduler := cron.NewScheduler()
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := messaging.NewPublisher(messaging.NewWriter(cfg.Kafka.Brokers))
		defer publisher.Close()
		cron.NewOutboxJobs(outboxRepo, publisher).RegisterJobs(scheduler, cfg.Payroll.OutboxPollInterval)
	} else {
		slog.Warn("KAFKA_BROKERS not set, payroll events stay in the outbox")
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	opts := appHTTP.RouterOptions{
		AppName:        cfg.App.Name,
		Version:        cfg.App.Version,
		Env:            cfg.App.Env,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		GenerateRate:   rate.Limit(cfg.Payroll.GenerateRate),
		GenerateBurst:  cfg.Payroll.GenerateBurst,
	}
	if rdb != nil {
		opts.Redis = rdb
	}
	router := appHTTP.NewRouter(JWTService, authorizer, payrollHandler, opts)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server running", "addr", server.Addr, "env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
