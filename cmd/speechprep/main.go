package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	speechprep "github.com/snarg/speechprep"
	"github.com/snarg/speechprep/internal/api"
	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/database"
	"github.com/snarg/speechprep/internal/metrics"
	"github.com/snarg/speechprep/internal/mqttclient"
	"github.com/snarg/speechprep/internal/session"
	"github.com/snarg/speechprep/internal/storage"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR and PORT)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL for the hosted session store")
	flag.StringVar(&overrides.UploadDir, "upload-dir", "", "Directory for temporary uploads")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("env_file", cfg.EnvFile).Msg("speechprep starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local session backend (sqlite or s3)
	storeLog := log.With().Str("component", "storage").Logger()
	local, err := storage.NewSessionBackend(ctx, cfg, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer local.Close()

	// Hosted database (optional)
	var (
		hosted session.Backend
		health api.HealthChecker
		pool   *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err := connectDatabase(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Error().Err(err).Msg("hosted session store disabled")
		} else {
			defer db.Close()
			hosted, health, pool = db, db, db.Pool
		}
	}
	sessions := session.NewStore(local, hosted, cfg.SessionLimit, log)

	// Temp uploads
	temp := storage.NewTempStore(cfg.UploadDir)
	sweeper := storage.NewTempSweeper(cfg.UploadDir, cfg.TempRetention, log.With().Str("component", "temp-sweeper").Logger())
	var background []storage.BackgroundService
	background = append(background, sweeper)

	// MQTT (optional)
	var events *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		events, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         mqttLog,
		})
		if err != nil {
			log.Error().Err(err).Msg("mqtt events disabled")
			events = nil
		} else {
			defer events.Close()
		}
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Providers:   api.BuildProviders(cfg, log.With().Str("component", "providers").Logger()),
		Sessions:    sessions,
		Temp:        temp,
		DB:          health,
		MQTT:        events,
		OpenAPISpec: speechprep.OpenAPISpec,
		Version:     version,
		StartTime:   startTime,
		Log:         httpLog,
	})
	prometheus.MustRegister(metrics.NewCollector(pool, srv))

	// Reload provider credentials when .env changes
	if cfg.WatchEnvFile && cfg.EnvFile != "" {
		watcher := config.NewWatcher(cfg, overrides, func(c *config.Config) {
			srv.SetProviders(api.BuildProviders(c, log.With().Str("component", "providers").Logger()))
		}, log)
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("env file watcher disabled")
		} else {
			defer watcher.Stop()
		}
	}

	for _, svc := range background {
		svc.Start()
	}

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	for _, svc := range background {
		svc.Stop()
	}

	log.Info().Msg("speechprep stopped")
}

// connectDatabase opens the hosted store and applies migrations. A failed
// migration makes the store unusable, so the pool is closed.
func connectDatabase(ctx context.Context, url string, log zerolog.Logger) (*database.DB, error) {
	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := database.Connect(connCtx, url, log)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		var migErr *database.MigrationError
		if errors.As(err, &migErr) {
			log.Error().Msg(migErr.Error())
		}
		db.Close()
		return nil, err
	}
	return db, nil
}
