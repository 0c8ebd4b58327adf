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
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/wordparty/go/internal/config"
	"github.com/mcdev12/wordparty/go/internal/eventbus"
	"github.com/mcdev12/wordparty/go/internal/gateway"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/timer"
	"github.com/mcdev12/wordparty/go/internal/wordbank"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	words, err := loadWords(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load words")
	}
	log.Info().Strs("categories", words.Categories()).Msg("word bank loaded")

	clock := clockwork.NewRealClock()

	publisher, closePublisher := setupPublisher(ctx, cfg)
	defer closePublisher()
	relay := eventbus.NewRelay(publisher, eventbus.DefaultRelayConfig(), clock)
	if err := relay.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start event relay")
	}

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.IntentRate = rate.Limit(cfg.IntentRate)
	connCfg.IntentBurst = cfg.IntentBurst
	connCfg.CheckOrigin = originChecker(cfg.AllowedOrigins)
	manager := gateway.NewConnectionManager(connCfg)

	registry := room.NewRegistry(words, timer.NewFactory(clock, timer.DefaultInterval), room.MultiSink{manager, relay}, cfg.Registry())

	gw := gateway.New(registry, manager, clock, gateway.Config{
		Connection:     connCfg,
		ReconnectGrace: cfg.ReconnectGrace,
		RoomDefaults:   cfg.RoomDefaults(),
		IntentTimeout:  5 * time.Second,
	})
	go gw.Start(ctx)

	server := setupServer(cfg, gw)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Rooms queue room.destroyed on shutdown; the relay flushes them before
	// the root context goes away.
	registry.Shutdown()
	if err := relay.Stop(); err != nil {
		log.Error().Err(err).Msg("event relay shutdown failed")
	}
	cancel()

	log.Info().Msg("wordparty gateway shutdown complete")
}

// loadWords reads the word bank from Postgres when a database is configured,
// otherwise from the YAML/JSON file.
func loadWords(ctx context.Context, cfg config.Config) (*wordbank.Bank, error) {
	if !cfg.Database.Enabled() {
		log.Info().Str("file", cfg.WordsFile).Msg("loading words from file")
		return wordbank.LoadFile(cfg.WordsFile)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("host", cfg.Database.Host).Msg("loading words from database")
	return wordbank.LoadPostgres(ctx, pool)
}

// setupPublisher connects to NATS when NATS_URL is set. Without it lifecycle
// events are discarded.
func setupPublisher(ctx context.Context, cfg config.Config) (eventbus.Publisher, func()) {
	if cfg.NATSURL == "" {
		return eventbus.NoopPublisher{}, func() {}
	}

	jsCfg := eventbus.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	publisher, err := eventbus.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		log.Error().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to connect event publisher, events will be discarded")
		return eventbus.NoopPublisher{}, func() {}
	}
	log.Info().Str("nats_url", cfg.NATSURL).Str("stream", jsCfg.StreamName).Msg("event publisher connected")
	return publisher, func() { publisher.Close() }
}
