// Package server wires the contract and audit databases, the storage disks
// and the sealing, signing and archival services, and runs the HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrijs2005/contractvault/internal/buildinfo"
	"github.com/dmitrijs2005/contractvault/internal/cryptox"
	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/alerts"
	"github.com/dmitrijs2005/contractvault/internal/server/config"
	"github.com/dmitrijs2005/contractvault/internal/server/httpapi"
	"github.com/dmitrijs2005/contractvault/internal/server/metrics"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
	"github.com/dmitrijs2005/contractvault/internal/server/otp"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contractvault/internal/server/services/archive"
	"github.com/dmitrijs2005/contractvault/internal/server/services/sealer"
	"github.com/dmitrijs2005/contractvault/internal/server/services/signing"
	"github.com/dmitrijs2005/contractvault/internal/server/storage"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	contractsDB *sql.DB
	auditDB     *sql.DB
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	repomanager repomanager.RepositoryManager
	sealer      *sealer.Service
	signing     *signing.Service
	archive     *archive.Service
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewJSONLogger(os.Stdout, parseLevel(cfg.LogLevel))

	contractsDB, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("contracts db init error: %w", err)
	}
	auditDB, err := openDB(ctx, cfg.AuditDatabaseDSN)
	if err != nil {
		_ = contractsDB.Close()
		return nil, fmt.Errorf("audit db init error: %w", err)
	}

	app := &App{config: cfg, logger: logger, contractsDB: contractsDB, auditDB: auditDB}
	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	cfg := app.config

	app.repomanager = repomanager.NewPostgresRepositoryManager()
	if err := app.repomanager.RunMigrations(ctx, app.contractsDB, app.auditDB); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	disks, err := newDisks(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage init error: %w", err)
	}

	cipher, err := cryptox.NewCipher(cfg.EnvelopeSecret)
	if err != nil {
		return fmt.Errorf("cipher init error: %w", err)
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	buildinfo.Register(app.registry)
	app.metrics = metrics.New(app.registry)

	app.sealer, err = sealer.NewService(app.contractsDB, app.repomanager, cipher, disks, cfg, app.logger, app.metrics)
	if err != nil {
		return fmt.Errorf("sealer init error: %w", err)
	}

	sink := alerts.NewSink(app.logger, app.metrics)
	app.archive, err = archive.NewService(app.contractsDB, app.auditDB, app.repomanager, cipher, disks, sink, cfg, app.logger, app.metrics)
	if err != nil {
		return fmt.Errorf("archive init error: %w", err)
	}

	provider := otp.NewHTTPProvider(cfg.OTPGatewayURL, cfg.OTPTimeout)
	app.signing = signing.NewService(app.contractsDB, app.repomanager, provider, app.archive, cfg, app.logger, app.metrics)

	app.logger.Info(ctx, "app initialised", "disks", disks.Names(), "retention_years", cfg.RetentionYears)
	return nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newDisks(ctx context.Context, cfg *config.Config) (*storage.Registry, error) {
	s3cfg := func(name, bucket string, retention int) storage.S3Config {
		return storage.S3Config{
			Name:           name,
			Bucket:         bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3BaseEndpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			RetentionYears: retention,
		}
	}

	primary, err := storage.NewS3Disk(ctx, s3cfg(config.DiskPrimary, cfg.PrimaryBucket, 0))
	if err != nil {
		return nil, err
	}
	worm, err := storage.NewS3Disk(ctx, s3cfg(config.DiskWORM, cfg.WORMBucket, max(cfg.RetentionYears, models.RetentionYears)))
	if err != nil {
		return nil, err
	}

	disks := []storage.Disk{primary, worm}
	switch {
	case cfg.FallbackBucket != "":
		fallback, err := storage.NewS3Disk(ctx, s3cfg(config.DiskFallback, cfg.FallbackBucket, 0))
		if err != nil {
			return nil, err
		}
		disks = append(disks, fallback)
	case cfg.FallbackDir != "":
		fallback, err := storage.NewLocalDisk(config.DiskFallback, cfg.FallbackDir)
		if err != nil {
			return nil, err
		}
		disks = append(disks, fallback)
	}

	return storage.NewRegistry(disks...)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Handler builds the HTTP API.
func (app *App) Handler() http.Handler {
	h := httpapi.NewHandler(app.repomanager.Contracts(app.contractsDB), app.sealer, app.signing, app.archive,
		sealer.TextRenderer{}, app.logger)
	// parsed once already by Validate in NewApp
	proxies, _ := app.config.TrustedProxyPrefixes()
	return httpapi.NewRouter(h, httpapi.RouterOptions{
		JWTSecret:      []byte(app.config.JWTSecret),
		RateLimitRPS:   app.config.RateLimitRPS,
		RateLimitBurst: app.config.RateLimitBurst,
		TrustedProxies: proxies,
		Gatherer:       app.registry,
		Metrics:        app.metrics,
		Log:            app.logger,
	})
}

// Run serves the HTTP API until ctx is cancelled, then shuts down
// gracefully and closes both databases.
func (app *App) Run(ctx context.Context) error {
	defer app.close()

	srv := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "starting http server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Sweep archives pending contracts, then verifies every retained document.
// It is the body of the scheduled integrity job.
func (app *App) Sweep(ctx context.Context) (*models.SweepReport, error) {
	defer app.close()

	n, err := app.archive.RetryPending(ctx)
	if err != nil {
		app.logger.Error(ctx, "some pending archivals failed", "archived", n, "error", err)
	}
	return app.archive.Sweep(ctx)
}

func (app *App) close() {
	for _, db := range []*sql.DB{app.contractsDB, app.auditDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			app.logger.Error(context.Background(), "db close error", "error", err)
		}
	}
}
