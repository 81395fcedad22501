// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"credit-settlement/internal/application"
	"credit-settlement/internal/config"
	"credit-settlement/internal/infra/api"
	"credit-settlement/internal/infra/api/apiv1"
	"credit-settlement/internal/infra/logging"
	"credit-settlement/internal/infra/metrics"
	red "credit-settlement/internal/infra/redis"
	"credit-settlement/internal/infra/sched"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted secrets)")
	migrate := flag.Bool("migrate", true, "apply embedded schema migrations on start")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		l := logging.New(config.LogConfig{}, *devMode)
		l.Fatal().Err(err).Str("path", *cfgPath).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()

	// ---- Storage ----
	backend, err := application.OpenBackend(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("database")
	}
	defer backend.Close()
	if *migrate {
		if err := backend.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
	}

	// ---- Redis (optional) ----
	var redisClient red.RedisClient
	var locker red.Locker
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer rc.Close()
		redisClient = rc
		locker = red.NewLocker(rc)
	} else {
		logger.Warn().Msg("redis.url not set; order rate limit, replay cache and sweep lock disabled")
	}

	// ---- Use cases ----
	svc, err := application.NewServices(cfg, backend, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("services")
	}
	logger.Info().
		Str("provider", svc.Gateway.Name()).
		Str("merchant_id", svc.Gateway.MerchantID()).
		Str("merchant_key", logging.Redact(cfg.Payment.ZPay.MerchantKey, cfg.Runtime.Dev)).
		Int("products", len(svc.Catalog.List())).
		Msg("payment gateway ready")

	var wg sync.WaitGroup

	// ---- Background workers ----
	sweeper := sched.NewOrderSweeper(svc.Orders, locker, cfg.Orders.SweepInterval, cfg.Orders.SweepStaleAfter, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("order sweeper stopped")
		}
	}()
	if backend.PoolStats != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.PollDBPoolStats(ctx, 15*time.Second, backend.PoolStats)
		}()
	}

	// ---- HTTP ----
	v1 := apiv1.NewServer(svc.Orders, svc.Settlement, svc.Ledger, svc.Membership, svc.Catalog, logger)
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, logger)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("auth.jwt_secret not set; user routes will answer 403")
	}
	router := api.NewRouter(v1, auth, backend.Ping, cfg.Server.RequestTimeout, logger)
	server := api.NewServer(cfg.Server.Port, router, logger)

	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Start() }()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-srvErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	logger.Info().Msg("bye")
}
