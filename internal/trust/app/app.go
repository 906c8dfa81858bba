package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sironahealth/sirona/internal/trust/metrics"
	"github.com/sironahealth/sirona/internal/trust/service"
	"github.com/sironahealth/sirona/internal/trust/store"
	"github.com/sironahealth/sirona/internal/trust/store/drivers/sqlite"
	"github.com/sironahealth/sirona/pkg/cryptox"
	"github.com/sironahealth/sirona/pkg/jwtx"
	"github.com/sironahealth/sirona/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the trust subsystem together: store, crypto, services and
// the ops HTTP endpoint for metrics and liveness.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db      store.Store
	signer  *jwtx.Signer
	metrics *metrics.Metrics

	auditService        *service.AuditService
	authService         *service.AuthService
	integrityService    *service.IntegrityService
	housekeepingService *service.HousekeepingService

	server *http.Server
}

// New creates a new Application instance with all dependencies initialized.
// A missing or unloadable signing key is fatal here, never at first use.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "trust-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	pemKey, err := jwtx.LoadOrGenerateKey(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	app.signer, err = jwtx.NewSigner(pemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signer: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, err
	}
	app.initOpsHTTP()

	return app, nil
}

func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	app.db = db
	return nil
}

func (app *Application) initServices() error {
	params := cryptox.DefaultParams()
	if app.cfg.HashMemoryKiB > 0 {
		params.MemoryKiB = uint32(app.cfg.HashMemoryKiB)
	}
	if app.cfg.HashIterations > 0 {
		params.Iterations = uint32(app.cfg.HashIterations)
	}
	if app.cfg.HashParallelism > 0 {
		params.Parallelism = uint8(app.cfg.HashParallelism)
	}

	hasher, err := cryptox.NewHasher(params, app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	app.metrics = metrics.New()

	app.auditService = &service.AuditService{
		Events:     app.db.AuditEvents(),
		Logger:     app.logger,
		Metrics:    app.metrics,
		RetryDelay: app.cfg.AuditRetryDelay,
	}

	throttle := service.NewLoginThrottle(app.cfg.LoginRatePerMinute, app.cfg.LoginRateBurst)

	app.authService = &service.AuthService{
		Store:    app.db,
		Hasher:   hasher,
		Signer:   app.signer,
		Verifier: jwtx.NewVerifier(app.signer.Public(), app.cfg.Issuer),
		TOTP:     &service.TOTPEngine{Issuer: app.cfg.Issuer},
		Audit:    app.auditService,
		Throttle: throttle,
		Metrics:  app.metrics,
		Lockout: service.LockoutPolicy{
			MaxAttempts: app.cfg.LockoutMaxAttempts,
			Duration:    app.cfg.LockoutDuration,
		},
		Issuer:     app.cfg.Issuer,
		PendingTTL: app.cfg.PendingTokenTTL,
		AccessTTL:  app.cfg.AccessTokenTTL,
	}

	app.integrityService = &service.IntegrityService{
		Store:   app.db,
		Audit:   app.auditService,
		Metrics: app.metrics,
	}

	app.housekeepingService = &service.HousekeepingService{
		Store:         app.db,
		Integrity:     app.integrityService,
		Throttle:      throttle,
		Logger:        app.logger,
		Interval:      app.cfg.HousekeepingInterval,
		SweepInterval: app.cfg.SweepInterval,
	}

	return nil
}

// initOpsHTTP exposes operational endpoints only. The business API surface is
// owned by the callers embedding these services.
func (app *Application) initOpsHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		if err := app.db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Auth returns the authentication service.
func (app *Application) Auth() *service.AuthService { return app.authService }

// Integrity returns the record integrity service.
func (app *Application) Integrity() *service.IntegrityService { return app.integrityService }

// Audit returns the audit logging service.
func (app *Application) Audit() *service.AuditService { return app.auditService }

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	ctx := context.Background()
	app.housekeepingService.Start(ctx)

	app.logger.Info("trust service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down trust service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
	}

	app.logger.Info("trust service stopped")
	return nil
}
