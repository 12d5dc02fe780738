package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/workpulse/secwatch/pkg/config"
	"github.com/workpulse/secwatch/pkg/infra/audit"
	"github.com/workpulse/secwatch/pkg/infra/geo"
	infraLogger "github.com/workpulse/secwatch/pkg/infra/logger"
	"github.com/workpulse/secwatch/pkg/infra/store"
	"github.com/workpulse/secwatch/pkg/security/monitor"
	"github.com/workpulse/secwatch/pkg/version"
)

func main() {
	exportBlocklist := flag.Bool("export-blocklist", false, "print active blocks as JSON and exit")
	flag.Parse()

	ctx := context.Background()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.Load("./config")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := infraLogger.NewLogger(cfg.Logging.Level)

	st, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to initialize store: %v", err)
	}

	resolver := buildResolver(cfg, logger)

	sink, err := buildSink(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to initialize audit sink: %v", err)
	}

	mon := monitor.NewSecurityMonitor(st, resolver, sink, logger, cfg.Security, nil)

	if *exportBlocklist {
		entries, err := mon.ExportBlocklist(ctx)
		if err != nil {
			logger.Fatalf("failed to export blocklist: %v", err)
		}
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			logger.Fatalf("failed to encode blocklist: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	info := version.GetInfo()
	logger.WithFields(logrus.Fields{
		"version":       info.Version,
		"go_version":    info.GoVersion,
		"store_backend": cfg.Store.Backend,
		"audit_backend": cfg.Audit.Backend,
	}).Info("security monitor running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
}

func buildStore(cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn("using in-memory store, counters are not shared across processes")
		return store.NewMemoryStore(nil), nil
	default:
		return store.NewRedisStore(store.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
		}, logger)
	}
}

func buildResolver(cfg *config.Config, logger *logrus.Logger) geo.Resolver {
	if cfg.GeoIP.DatabasePath == "" {
		logger.Info("no geoip database configured, geographic anomaly detection disabled")
		return geo.NewNoopResolver()
	}
	resolver, err := geo.NewMaxMindResolver(cfg.GeoIP.DatabasePath, logger)
	if err != nil {
		logger.WithError(err).Warn("geoip database unavailable, geographic anomaly detection disabled")
		return geo.NewNoopResolver()
	}
	return resolver
}

func buildSink(cfg *config.Config, logger *logrus.Logger) (audit.Sink, error) {
	if cfg.Audit.Backend == "postgres" {
		return audit.NewGormSink(audit.PostgresConfig{
			Host:     cfg.Audit.Database.Host,
			Port:     cfg.Audit.Database.Port,
			User:     cfg.Audit.Database.User,
			Password: cfg.Audit.Database.Password,
			DBName:   cfg.Audit.Database.DBName,
			SSLMode:  cfg.Audit.Database.SSLMode,
		})
	}
	return audit.NewLogrusSink(logger), nil
}
