package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/api"
	"papertrade/internal/config"
	"papertrade/internal/feed"
	"papertrade/internal/ingest"
	"papertrade/internal/ledger"
	"papertrade/internal/store"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Str("account_id", cfg.AccountID).
		Str("snapshot_backend", cfg.SnapshotBackend).
		Msg("starting papertrade service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize snapshot store
	snaps, closeStore := openSnapshotStore(ctx, cfg)
	defer closeStore()

	// Build the ledger and restore the last saved state
	l := ledger.New(
		ledger.WithBalance(cfg.InitialBalance),
		ledger.WithMarkPrice(cfg.DefaultMarkPrice),
		ledger.WithSelectedPair(cfg.DefaultPair),
	)

	snap, err := snaps.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load snapshot")
	}
	if snap != nil {
		l.Restore(*snap)
	} else {
		log.Info().Float64("balance", cfg.InitialBalance).Msg("no saved snapshot, starting fresh")
	}

	// Persist every durable change in the background
	autosave := store.NewAutosave(snaps, cfg.AutosaveTimeout)
	l.SetListener(autosave.Notify)
	saveCtx, stopSave := context.WithCancel(context.Background())
	saveDone := make(chan struct{})
	go func() {
		defer close(saveDone)
		autosave.Run(saveCtx)
	}()

	// Connect to NATS
	var nc *nats.Conn
	if cfg.NATSEnabled {
		nc, err = ingest.ConnectNATS(ctx, cfg.NATSURLs, cfg.NATSCredsFile, cfg.NATSCreds)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()

		// Start NATS consumer
		consumer := ingest.NewConsumer(nc, l)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("NATS consumer error")
			}
		}()
	}

	// Start market data feeds
	if cfg.FeedsEnabled {
		feedCfg := feed.Config{
			CoinGeckoURL:    cfg.CoinGeckoURL,
			FuturesURL:      cfg.BinanceFuturesURL,
			DepthURL:        cfg.BinanceWSURL,
			MarketInterval:  cfg.MarketDataInterval,
			FundingInterval: cfg.FundingInterval,
		}
		go func() {
			if err := feed.Run(ctx, feedCfg, l); err != nil {
				log.Error().Err(err).Msg("market data feeds error")
			}
		}()
	}

	// Start HTTP server
	srv := api.NewServer(l, snaps, nc, ingest.NewPublisher(nc))
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Flush the last snapshot once no more requests can change the ledger
	stopSave()
	<-saveDone

	log.Info().Msg("shutdown complete")
}

// openSnapshotStore connects the configured snapshot backend. The returned
// func releases its connections.
func openSnapshotStore(ctx context.Context, cfg *config.Config) (store.Snapshotter, func()) {
	switch cfg.SnapshotBackend {
	case config.BackendRedis:
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			TLSEnabled: cfg.RedisTLS,
		}, cfg.AccountID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		return rs, func() { rs.Close() }

	case config.BackendNone:
		log.Warn().Msg("snapshot persistence disabled, state is kept in memory only")
		return store.NewMemoryStore(), func() {}

	default:
		repo, err := store.NewRepository(ctx, cfg.DatabaseURL, cfg.AccountID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := repo.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		log.Info().Msg("connected to PostgreSQL")

		// Run migrations
		applied, err := store.RunMigrations(ctx, repo.Pool())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Int("applied", applied).Msg("migrations complete")
		return repo, repo.Close
	}
}
