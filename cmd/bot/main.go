package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/config"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/gateway"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/membership"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/metrics"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/storage"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/subscription"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/telegram"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/webhook"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Initialize payment gateway
	var provider gateway.Provider
	switch cfg.PaymentProvider {
	case "paystack":
		provider = gateway.NewPaystack(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.RedirectURL)
	default:
		provider = gateway.NewFlutterwave(cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey,
			cfg.FlutterwavePublicKey, cfg.FlutterwaveWebhookHash, cfg.RedirectURL)
	}
	log.Info("payment gateway initialized", "provider", provider.Name())

	// Initialize metrics
	mets := metrics.New()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize telegram client; a sustained polling conflict means a
	// second instance owns the token, so this one steps aside.
	var conflict atomic.Bool
	tgClient, err := telegram.NewClient(cfg, log, func() {
		conflict.Store(true)
		cancel()
	})
	if err != nil {
		log.Error("init telegram client", "error", err)
		os.Exit(1)
	}

	// Initialize membership manager and subscription service
	member := membership.NewManager(tgClient, cfg.PremiumChannelID, cfg.InviteTTL, log)
	svc := subscription.NewService(cfg, store, provider, member, mets, log)

	// Initialize telegram bot handlers
	tg := telegram.New(tgClient, cfg, store, svc, member, log)
	log.Info("telegram bot initialized")

	// Start webhook server
	providers := map[string]gateway.Provider{provider.Name(): provider}
	webhookServer := webhook.NewServer(svc, tg, providers, mets, log)
	go func() {
		if err := webhookServer.Start(ctx, cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Error("webhook server", "error", err)
		}
	}()

	// Start expiry sweep
	sweeper := subscription.NewSweeper(cfg, store, member, tg, mets, log)
	go sweeper.Start(ctx)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	tg.Start(ctx)

	// Give the sweep worker a moment to finish in-flight notifications
	select {
	case <-sweeper.Done():
	case <-time.After(10 * time.Second):
		log.Warn("sweep worker did not stop in time")
	}

	if conflict.Load() {
		os.Exit(1)
	}
}
