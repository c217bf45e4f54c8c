package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/flowrooms/server/internal/chat"
	"github.com/flowrooms/server/internal/config"
	"github.com/flowrooms/server/internal/database"
	"github.com/flowrooms/server/internal/directory"
	"github.com/flowrooms/server/internal/engine"
	"github.com/flowrooms/server/internal/handlers"
	"github.com/flowrooms/server/internal/middleware"
	"github.com/flowrooms/server/internal/presence"
	redisc "github.com/flowrooms/server/internal/redis"
	"github.com/flowrooms/server/internal/relay"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Dev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("mode", cfg.Mode).Str("driver", cfg.DatabaseDriver).Msg("starting flowrooms server")

	store, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.RunMigrations(ctx); err != nil {
		return err
	}
	log.Info().Msg("database migrations complete")

	health := map[string]handlers.Pinger{"database": store}
	hub := chat.NewHub()

	var presenceStore presence.Store = presence.NewMemoryStore()
	var publisher relay.Publisher = hub
	var redisPubSub func(context.Context) error
	if cfg.RedisURL != "" {
		redisClient, err := redisc.InitRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		log.Info().Msg("connected to Redis")

		presenceStore = redisc.NewPresenceStore(redisClient)
		publisher = redisc.NewPublisher(redisClient)
		health["redis"] = pingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		redisPubSub = func(ctx context.Context) error {
			return redisc.SubscribeMessages(ctx, redisClient, hub.Deliver)
		}
	}

	dir, err := directory.New(store, directory.Config{
		SoftCap:  cfg.SoftCap,
		HardCap:  cfg.HardCap,
		MaxRooms: cfg.MaxRooms,
	})
	if err != nil {
		return err
	}
	tracker := presence.New(presenceStore, presence.Config{
		Timeout:      cfg.PresenceTimeout,
		PollInterval: cfg.PresencePoll,
	})
	eng := engine.New(dir, engine.WithPresence(tracker))
	rl := relay.New(store, publisher, relay.Config{
		TTL:           cfg.MessageTTL,
		MaxBodyLen:    cfg.MessageMaxLen,
		PurgeInterval: cfg.JanitorInterval,
	})
	limiter := middleware.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	router := handlers.NewRouter(handlers.Deps{
		Engine:     eng,
		Relay:      rl,
		Presence:   tracker,
		Limiter:    limiter,
		JWTSecret:  cfg.JWTSecret,
		CORSOrigin: cfg.CORSOrigin,
		WebSocket:  chat.ServeWS(hub, chat.Services{Engine: eng, Presence: tracker, Relay: rl}, cfg.JWTSecret),
		Health:     health,
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return tracker.Run(ctx) })
	g.Go(func() error { return rl.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune()
			}
		}
	})
	if redisPubSub != nil {
		g.Go(func() error { return redisPubSub(ctx) })
	}
	g.Go(func() error {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
