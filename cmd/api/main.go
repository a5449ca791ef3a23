package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"example.com/upkeep/internal/api"
	"example.com/upkeep/internal/config"
	"example.com/upkeep/internal/domain"
	"example.com/upkeep/internal/events"
	"example.com/upkeep/internal/observability"
	"example.com/upkeep/internal/persistence"
	httptransport "example.com/upkeep/internal/transport/http"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "upkeep-api:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("upkeep-api", flag.ContinueOnError)
	configPath := flags.String("config", "", "HuJSON config file (defaults to $"+config.EnvConfigPath+")")
	addr := flags.String("addr", "", "listen address, overrides HTTP_ADDRESS")
	dataDir := flags.String("data-dir", "", "csv section directory, overrides DATA_DIR")
	driver := flags.String("storage", "", "storage driver: csv, postgres or aztables")
	logLevel := flags.String("log-level", "", "log level, overrides LOG_LEVEL")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	overrideString(&cfg.HTTPAddress, *addr)
	overrideString(&cfg.DataDir, *dataDir)
	overrideString(&cfg.StorageDriver, *driver)
	overrideString(&cfg.LogLevel, *logLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := persistence.Open(ctx, cfg, loc, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	var publisher domain.CompletionPublisher = events.NoopPublisher{}
	if cfg.PublishingEnabled() {
		kafkaPublisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaTopic, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.WithFields(logrus.Fields{"brokers": cfg.KafkaBrokers, "topic": cfg.KafkaTopic}).Info("publishing completion events")
	}

	service := domain.NewService(backend.Store, cfg.Sections,
		domain.WithLocker(backend.Locker),
		domain.WithPublisher(publisher),
		domain.WithLocation(loc),
		domain.WithLogger(logger),
		domain.WithLockTimeout(cfg.LockTimeout),
	)

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := api.Chain(mux,
		middleware.RequestID,
		middleware.RealIP,
		api.RequestLogger(logger),
		middleware.Recoverer,
		api.CORS(cfg.CORSOrigin),
	)

	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	server := httptransport.NewServer(serverCfg, handler, logger)

	logger.WithFields(logrus.Fields{
		"addr":     cfg.HTTPAddress,
		"driver":   cfg.StorageDriver,
		"sections": cfg.Sections,
		"timezone": loc.String(),
	}).Info("upkeep api listening")

	if err := httptransport.ListenAndServe(ctx, server, serverCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("upkeep api stopped")
	return nil
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
