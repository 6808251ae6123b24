package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	billingapp "github.com/schoolerp/backend/internal/application/billing"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/infrastructure/cache"
	"github.com/schoolerp/backend/internal/infrastructure/config"
	"github.com/schoolerp/backend/internal/infrastructure/event"
	"github.com/schoolerp/backend/internal/infrastructure/logger"
	"github.com/schoolerp/backend/internal/infrastructure/notification"
	"github.com/schoolerp/backend/internal/infrastructure/payment"
	"github.com/schoolerp/backend/internal/infrastructure/persistence"
	"github.com/schoolerp/backend/internal/infrastructure/storage"
	"github.com/schoolerp/backend/internal/infrastructure/telemetry"
	"github.com/schoolerp/backend/internal/interfaces/http/handler"
	"github.com/schoolerp/backend/internal/interfaces/http/middleware"
	"github.com/schoolerp/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	shutdownTimeout = 30 * time.Second
	busWorkers      = 4
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	baseLog, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// Telemetry first so every later component logs and traces through it
	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	logProvider, err := telemetry.NewLoggerProvider(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize log export", zap.Error(err))
	}
	log := logProvider.Bridge(baseLog, zapcore.InfoLevel)
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting school billing",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Bool("telemetry", tracerProvider.IsEnabled()),
		zap.String("card_price", cfg.Gateway.CardPrice),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := telemetry.NewDBTracing(cfg.Telemetry, log).Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Repositories
	ledger := persistence.NewGormLedgerStore(db.DB)
	feeCatalog := persistence.NewGormFeeCatalogRepository(db.DB)
	expenses := persistence.NewGormExpenseRepository(db.DB)
	directory := persistence.NewGormSchoolDirectory(db.DB)

	idempotency, err := cache.NewIdempotencyStore(ctx, cfg.Redis, cfg.App.Env != "production", log)
	if err != nil {
		log.Fatal("Failed to initialize idempotency store", zap.Error(err))
	}

	gateway, err := payment.NewPaystackAdapter(&payment.PaystackConfig{
		SecretKey: cfg.Gateway.SecretKey,
		BaseURL:   cfg.Gateway.BaseURL,
		Timeout:   cfg.Gateway.Timeout(),
		Currency:  cfg.Gateway.Currency,
	})
	if err != nil {
		log.Fatal("Failed to configure Paystack", zap.Error(err))
	}

	archive, err := newWebhookArchive(ctx, cfg.Archive, log)
	if err != nil {
		log.Fatal("Failed to configure webhook archive", zap.Error(err))
	}

	// Event bus: receipts and business metrics react to ledger changes
	bus := event.NewInMemoryEventBus(event.BusConfig{Workers: busWorkers, Logger: log})
	metrics, err := telemetry.NewBillingMetrics(meterProvider.Meter(telemetry.TracerName))
	if err != nil {
		log.Fatal("Failed to create billing metrics", zap.Error(err))
	}
	bus.Subscribe(metrics, metrics.EventTypes()...)

	receipts, err := notification.NewReceiptMailer(notification.ReceiptMailerConfig{
		Mailer:     newMailer(cfg.Mail, log),
		Ledger:     ledger,
		Students:   directory,
		Currency:   cfg.Gateway.Currency,
		SchoolName: cfg.App.Name,
		Logger:     log,
	})
	if err != nil {
		log.Fatal("Failed to create receipt mailer", zap.Error(err))
	}
	receiptHandler := event.NewIdempotentHandler("receipt-mailer", receipts, idempotency, 0, log)
	bus.Subscribe(receiptHandler, receipts.EventTypes()...)

	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Application services
	references := billing.NewRandomReferenceGenerator()
	engine := billingapp.NewInvoiceEngine(billingapp.InvoiceEngineConfig{
		Store:          ledger,
		Calendar:       directory,
		FeeCatalog:     feeCatalog,
		References:     references,
		EventPublisher: bus,
		Logger:         log,
	})
	recorder := billingapp.NewPaymentRecorder(billingapp.PaymentRecorderConfig{
		Store:          ledger,
		References:     references,
		EventPublisher: bus,
		Logger:         log,
	})
	reconciliation := billingapp.NewReconciliationService(billingapp.ReconciliationServiceConfig{
		Gateway:     gateway,
		Store:       ledger,
		Recorder:    recorder,
		Students:    directory,
		Idempotency: idempotency,
		Archive:     archive,
		Settings: billingapp.GatewaySettings{
			CallbackURL:         cfg.Gateway.CallbackURL,
			Currency:            cfg.Gateway.Currency,
			FallbackEmailDomain: cfg.Gateway.FallbackEmailDomain,
			WebhookDedupTTL:     cfg.Gateway.WebhookDedupTTL,
		},
		Logger: log,
	})
	catalogService := billingapp.NewFeeCatalogService(feeCatalog, expenses, log)
	reports := billingapp.NewReportService(ledger, ledger, expenses, log)

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	httpEngine := gin.New()
	if err := httpEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	httpEngine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		middleware.Tracing(cfg.Telemetry.ServiceName),
		middleware.SpanAttributes(),
		logger.GinMiddleware(log),
		middleware.HTTPMetrics(meterProvider.Meter("http.server")),
		middleware.Secure(),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
			AllowMethods:     cfg.HTTP.CORSAllowMethods,
			AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	router.Setup(httpEngine, router.Handlers{
		Invoice: handler.NewInvoiceHandler(engine),
		Payment: handler.NewPaymentHandler(recorder, reconciliation),
		Webhook: handler.NewWebhookHandler(reconciliation, metrics),
		Catalog: handler.NewCatalogHandler(catalogService),
		Report:  handler.NewReportHandler(reports),
		Health:  handler.NewHealthHandler(db),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// drain queued receipts before the stores go away
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Error("Event bus did not drain", zap.Error(err))
	}
	if err := idempotency.Close(); err != nil {
		log.Error("Error closing idempotency store", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logs":   logProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			baseLog.Error("Telemetry shutdown failed", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}

func newMailer(cfg config.MailConfig, log *zap.Logger) notification.Mailer {
	if !cfg.Enabled {
		log.Info("Mail disabled, receipts will not be emailed")
		return notification.NopMailer{}
	}
	return notification.NewSendgridMailer(notification.SendgridConfig{
		APIKey:    cfg.SendgridAPIKey,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
	}, log)
}

func newWebhookArchive(ctx context.Context, cfg config.ArchiveConfig, log *zap.Logger) (billing.WebhookArchive, error) {
	if !cfg.Enabled {
		return storage.NopArchive{}, nil
	}
	return storage.NewS3WebhookArchive(ctx, cfg, log)
}
