package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linescout/internal/aigw"
	"linescout/internal/auth"
	"linescout/internal/cache"
	"linescout/internal/config"
	"linescout/internal/handoff"
	"linescout/internal/httpserver"
	"linescout/internal/ledger"
	"linescout/internal/logging"
	"linescout/internal/metrics"
	"linescout/internal/notify"
	"linescout/internal/payments"
	"linescout/internal/payout"
	"linescout/internal/repo"
	"linescout/internal/settings"
	"linescout/internal/tier"
	"linescout/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting linescout", "env", cfg.AppEnv, "driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var repository repo.Repository
	switch cfg.DatabaseDriver {
	case "sqlite":
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		repository, err = repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	}
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	settingsSvc := settings.NewService(repository, redisClient, cfg.FallbackSettings(), logger)

	var responder tier.Responder
	if cfg.AIGatewayURL != "" {
		responder = aigw.NewClient(cfg.AIGatewayURL, cfg.AIGatewayTimeout, metricRegistry)
	}
	tierSvc := tier.NewService(repository, responder, logger, metricRegistry)
	handoffSvc := handoff.NewService(repository, logger, metricRegistry)
	walletSvc := ledger.NewWalletService(repository, logger, metricRegistry, cfg.DefaultCurrency)
	payoutSvc := payout.NewService(repository, logger, metricRegistry)

	var paystackClient *payments.Paystack
	if cfg.PaystackSecretKey != "" {
		paystackClient = payments.NewPaystack(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.ProviderTimeout, metricRegistry)
	}
	var paypalClient *payments.PayPal
	if cfg.PayPalClientID != "" {
		paypalClient = payments.NewPayPal(cfg.PayPalBaseURL, cfg.PayPalClientID, cfg.PayPalSecret, cfg.ProviderTimeout, metricRegistry)
	}
	paymentSvc := payments.NewService(repository, settingsSvc, paystackClient, paypalClient, logger, metricRegistry)

	var mailer *notify.Mailer
	if cfg.SMTPHost != "" {
		mailer = notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	notifier := notify.NewNotifier(mailer, notify.NewPusher(cfg.ExpoPushURL), logger, metricRegistry)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Config:     cfg,
		Repository: repository,
		Redis:      redisClient,
		Tokens:     tokens,
		Tier:       tierSvc,
		Handoffs:   handoffSvc,
		Payments:   paymentSvc,
		Payouts:    payoutSvc,
		Wallets:    walletSvc,
		Settings:   settingsSvc,
		Notifier:   notifier,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
