package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dentalchart-platform/cmd/mainconfig"
	"github.com/wolfman30/dentalchart-platform/internal/api/router"
	"github.com/wolfman30/dentalchart-platform/internal/app/bootstrap"
	"github.com/wolfman30/dentalchart-platform/internal/clinicops"
	"github.com/wolfman30/dentalchart-platform/internal/compliance"
	appconfig "github.com/wolfman30/dentalchart-platform/internal/config"
	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
	"github.com/wolfman30/dentalchart-platform/internal/export"
	httpmiddleware "github.com/wolfman30/dentalchart-platform/internal/http/middleware"
	"github.com/wolfman30/dentalchart-platform/internal/notify"
	"github.com/wolfman30/dentalchart-platform/internal/observability/metrics"
	"github.com/wolfman30/dentalchart-platform/internal/scheduler"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

const rateLimitIdle = 10 * time.Minute

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental chart API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"chart_store", cfg.ChartStore,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.scheduler.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server...")
	app.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type app struct {
	handler   http.Handler
	scheduler *scheduler.Scheduler
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type appMetrics struct {
	handler   http.Handler
	charts    *metrics.ChartMetrics
	scheduler *metrics.SchedulerMetrics
}

func setupMetrics() appMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return appMetrics{
		handler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		charts:    metrics.NewChartMetrics(reg),
		scheduler: metrics.NewSchedulerMetrics(reg),
	}
}

func needsAWS(cfg *appconfig.Config) bool {
	return cfg.ChartStore == bootstrap.StoreDynamo || cfg.ExportBucket != "" || cfg.EmailProvider == "ses"
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{}
	m := setupMetrics()
	readiness := map[string]router.Pinger{}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
		readiness["postgres"] = pool.Ping
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var aws mainconfig.AWSClients
	if needsAWS(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		aws = mainconfig.NewAWSClients(awsCfg, cfg)
	}

	repo, err := bootstrap.BuildChartRepository(cfg, bootstrap.StoreDeps{Pool: pool, Redis: redisClient, Dynamo: aws.Dynamo}, logger)
	if err != nil {
		return nil, err
	}

	var auditor dentalchart.Auditor
	auditDB, err := bootstrap.BuildAuditDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if auditDB != nil {
		a.closers = append(a.closers, func() { _ = auditDB.Close() })
		auditor = compliance.NewAuditService(auditDB)
	}

	var archive *export.Archive
	if aws.S3 != nil && cfg.ExportBucket != "" {
		archive = export.NewArchive(aws.S3, cfg.ExportBucket, logger)
	}
	exporter := export.NewExporter(&export.PDFWriter{ClinicName: cfg.ClinicName}, archive, logger)

	scheme, err := dentalchart.ParseScheme(cfg.DefaultNumberingScheme)
	if err != nil {
		logger.Warn("invalid default numbering scheme; using universal", "value", cfg.DefaultNumberingScheme)
		scheme = dentalchart.SchemeUniversal
	}
	svc := dentalchart.NewService(repo, dentalchart.DefaultCatalog(), dentalchart.ServiceConfig{
		DefaultScheme: scheme,
		Metrics:       m.charts,
		Audit:         auditor,
		Exporter:      exporter,
	}, logger)

	limiter := httpmiddleware.NewRateLimiter(cfg.ExportRatePerSec, cfg.ExportRateBurst)

	a.scheduler = scheduler.New(m.scheduler, logger)
	if err := a.scheduler.Register(scheduler.Task{
		Name:     "evict_rate_limits",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			limiter.Evict(time.Now().Add(-rateLimitIdle))
			return nil
		},
	}); err != nil {
		return nil, err
	}
	if err := registerClinicOps(a.scheduler, cfg, pool, aws, logger); err != nil {
		return nil, err
	}

	a.handler = router.New(&router.Config{
		Logger:              logger,
		Charts:              dentalchart.NewHandler(svc, logger),
		MetricsHandler:      m.handler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		ClinicianAuthSecret: cfg.AdminJWTSecret,
		ExportLimiter:       limiter.Middleware,
		Readiness:           readiness,
	})
	return a, nil
}

func registerClinicOps(s *scheduler.Scheduler, cfg *appconfig.Config, pool *pgxpool.Pool, aws mainconfig.AWSClients, logger *logging.Logger) error {
	if !cfg.SchedulerEnabled {
		return nil
	}
	if pool == nil {
		logger.Warn("clinic scheduler enabled without DATABASE_URL; clinic tasks disabled")
		return nil
	}

	var ses notify.SESAPI
	if aws.SES != nil {
		ses = aws.SES
	}
	email := notify.NewEmailSender(notify.ProviderConfig{
		Provider:  cfg.EmailProvider,
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFromAddress,
		FromName:  cfg.EmailFromName,
	}, ses, logger)

	jobs := clinicops.NewJobs(clinicops.NewStore(pool), email, clinicops.Config{
		NoShowInterval:       cfg.NoShowInterval,
		NoShowGrace:          cfg.NoShowGrace,
		QueueRefreshInterval: cfg.QueueRefreshInterval,
		ReminderInterval:     cfg.ReminderInterval,
		ReminderLeadTime:     cfg.ReminderLeadTime,
		ClinicName:           cfg.ClinicName,
	}, logger)
	for _, task := range jobs.Tasks() {
		if err := s.Register(task); err != nil {
			return err
		}
	}
	return nil
}
