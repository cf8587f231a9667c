package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yourorg/booking-payments/internal/config"
	"github.com/yourorg/booking-payments/internal/events"
	"github.com/yourorg/booking-payments/internal/httpapi"
	"github.com/yourorg/booking-payments/internal/monitor"
	"github.com/yourorg/booking-payments/internal/orchestrator"
	"github.com/yourorg/booking-payments/internal/orders"
	"github.com/yourorg/booking-payments/internal/policy"
	"github.com/yourorg/booking-payments/internal/provider"
	"github.com/yourorg/booking-payments/internal/provider/circuitbreaker"
	"github.com/yourorg/booking-payments/internal/provider/manual"
	"github.com/yourorg/booking-payments/internal/provider/momo"
	"github.com/yourorg/booking-payments/internal/provider/stripe"
	"github.com/yourorg/booking-payments/internal/provider/vnpay"
	"github.com/yourorg/booking-payments/internal/replay"
	"github.com/yourorg/booking-payments/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	shutdownTracing, err := initTracing()
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		st = pg
		logger.Info("Using Postgres store")
	} else {
		st = store.NewMemory()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBroker != "" {
		kafka, err := events.NewKafka([]string{cfg.KafkaBroker}, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		defer kafka.Close()
		publisher = kafka
		logger.Info("Publishing events to Kafka", zap.String("topic", cfg.KafkaTopic))
	}

	var recorder replay.Recorder = replay.NewMemory()
	if cfg.RedisAddr != "" {
		recorder = replay.NewRedis(cfg.RedisAddr, cfg.ReplayTTL)
		logger.Info("Recording callback deliveries in Redis")
	}

	registry, err := provider.NewRegistry(
		vnpay.New(vnpay.Config{
			TmnCode:    cfg.VNPayTmnCode,
			HashSecret: cfg.VNPayHashSecret,
			PayURL:     cfg.VNPayPayURL,
		}),
		momo.New(momo.Config{
			PartnerCode: cfg.MoMoPartnerCode,
			AccessKey:   cfg.MoMoAccessKey,
			SecretKey:   cfg.MoMoSecretKey,
			Endpoint:    cfg.MoMoEndpoint,
			IPNURL:      cfg.MoMoIPNURL,
		}, nil),
		stripe.New(stripe.Config{
			APIKey:        cfg.StripeAPIKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Tolerance:     cfg.StripeTolerance,
		}, nil),
		manual.New(manual.Config{
			Secret:         cfg.ManualSecret,
			ConfirmPageURL: cfg.ManualConfirmPageURL,
		}),
	)
	if err != nil {
		logger.Fatal("Failed to build provider registry", zap.Error(err))
	}

	enforcer, err := policy.NewEnforcer(policy.DefaultRules())
	if err != nil {
		logger.Fatal("Failed to compile policy rules", zap.Error(err))
	}

	contract, err := monitor.NewContractMonitor()
	if err != nil {
		logger.Fatal("Failed to compile request schema", zap.Error(err))
	}

	svc := orchestrator.NewService(
		registry,
		st,
		orders.NewClient(cfg.OrderServiceURL, nil),
		enforcer,
		circuitbreaker.New(circuitbreaker.Config{}),
		publisher,
		recorder,
		logger,
		cfg.GatewayTimeout,
	)

	router := httpapi.NewRouter(httpapi.NewHandler(svc, contract, logger), logger, cfg.JWTSecret)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("Payment service started", zap.String("port", cfg.AppPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
}

func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}
