// Package main is the entry point for the bet settlement server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"faceup-server/internal/cache"
	"faceup-server/internal/config"
	"faceup-server/internal/game"
	"faceup-server/internal/ledger"
	"faceup-server/internal/logging"
	"faceup-server/internal/pkg/db"
	"faceup-server/internal/pkg/lock"
	"faceup-server/internal/repository"
	"faceup-server/internal/service"
	httptransport "faceup-server/internal/transport/http"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Log)
	log.Info().Str("draft_store", cfg.Bets.DraftStore).Bool("redis", cfg.Redis.Enabled).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	checks := map[string]httptransport.Pinger{
		"postgres": httptransport.PingFunc(func(ctx context.Context) error {
			return dbPool.HealthCheck(ctx, cfg.Bets.OpTimeout)
		}),
	}

	var (
		redisClient  *redis.Client
		balanceCache ledger.BalanceCache = cache.Nop{}
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		balanceCache = cache.NewRedisBalanceCache(redisClient, cfg.Redis.CacheTTL)
		checks["redis"] = httptransport.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	ledgerRepo := repository.NewLedgerRepository(dbPool.Pool)
	roundRepo := repository.NewRoundRepository(dbPool.Pool)
	alertRepo := repository.NewAlertRepository(dbPool.Pool)

	var drafts service.DraftStore
	switch cfg.Bets.DraftStore {
	case "redis":
		drafts = repository.NewRedisDraftRepository(redisClient)
	case "memory":
		drafts = repository.NewMemoryDraftRepository()
	default:
		drafts = repository.NewPostgresDraftRepository(dbPool.Pool)
	}

	registry, err := game.NewRegistry(game.RulesFromConfig(cfg.Games)...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build game rules")
	}
	log.Info().Int("mode_count", registry.Count()).Msg("Betting modes registered")

	ledgerLocks := lock.NewUserLock()
	betLocks := lock.NewUserLock()
	l := ledger.New(ledgerRepo, balanceCache, ledgerLocks, ledger.Options{
		LockTimeout: cfg.Bets.LockTimeout,
		OpTimeout:   cfg.Bets.OpTimeout,
	})

	bets := service.NewBetService(drafts, userRepo, roundRepo, alertRepo, l, registry, betLocks,
		service.BetOptionsFromConfig(cfg.Bets, cfg.Settlement))
	accounts := service.NewAccountService(userRepo, ledgerRepo, alertRepo, l,
		cfg.Users.InitialCoins, cfg.Users.InitialTickets)

	service.NewDraftJanitor(drafts, cfg.Bets.JanitorInterval, cfg.Bets.DraftTTL).Start(ctx)

	ready := &atomic.Bool{}
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httptransport.NewRouter(httptransport.Deps{
			Bets:     bets,
			Accounts: accounts,
			Tokens:   httptransport.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
			IsAdmin:  cfg.IsAdmin,
			Checks:   checks,
			Ready:    ready,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	ready.Store(true)

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}
