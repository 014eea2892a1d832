// Command remindme-server runs the assistant behind WhatsApp: it receives
// messages on the Cloud API webhook, answers through the Graph API and
// delivers due reminders.
//
// Usage:
//
//	./remindme-server --config ~/.remindme/config.yaml
//
// Environment:
//
//	DEEPSEEK_API_KEY       LLM credentials
//	WHATSAPP_ACCESS_TOKEN  Graph API bearer token
//	WHATSAPP_APP_SECRET    Signs webhook deliveries
//	REMINDME_*             Any config key, e.g. REMINDME_WHATSAPP__PHONE_NUMBER_ID
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/notexe/remindme/internal/api"
	"github.com/notexe/remindme/internal/config"
	"github.com/notexe/remindme/internal/conversation"
	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/metrics"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/scheduler"
	"github.com/notexe/remindme/internal/server"
	"github.com/notexe/remindme/internal/whatsapp"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	addr := flag.String("addr", "", "Webhook listen address (overrides whatsapp.webhook_addr)")
	debug := flag.Bool("debug", false, "Run the HTTP router in debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.WhatsApp.WebhookAddr = *addr
	}

	if err := cfg.Validate(true); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if !cfg.WhatsApp.Enabled() {
		fmt.Fprintln(os.Stderr, "WhatsApp is not configured: set whatsapp.phone_number_id and WHATSAPP_ACCESS_TOKEN")
		os.Exit(1)
	}
	if cfg.WhatsApp.VerifyToken == "" {
		fmt.Fprintln(os.Stderr, "whatsapp.verify_token is required to register the webhook")
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	if cfg.WhatsApp.AppSecret == "" {
		logger.Warn("whatsapp.app_secret is empty, webhook signatures will not be checked")
	}

	if err := run(cfg, *debug, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, debug bool, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := reminder.NewStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open reminder store: %w", err)
	}
	defer store.Close()

	providerCfg := cfg.GetProviderConfig()
	providerInstance, err := api.NewProvider(providerCfg)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	defer providerInstance.Close()

	sender, err := whatsapp.New(cfg.WhatsApp, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(registry)

	engine, err := conversation.New(store, intent.NewExtractor(providerInstance, providerCfg.Model, logger), sender, conversation.Options{
		DefaultTimezone:  cfg.Assistant.DefaultTimezone,
		DefaultChannel:   cfg.Assistant.DefaultChannel,
		ConflictDuration: cfg.Assistant.ConflictDuration(),
		DedupCacheSize:   cfg.Assistant.DedupCacheSize,
		Logger:           logger,
		Metrics:          m,
	})
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Addr:    cfg.WhatsApp.WebhookAddr,
		Webhook: whatsapp.NewWebhook(cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, engine, logger),
		Voice:   engine,
		Debug:   debug,
		Logger:  logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.Gatherer = registry
	}
	srv := server.New(srvCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.Scheduler.Enabled {
		// No telephony provider is wired, so voice reminders go out as chat.
		sched := scheduler.New(store, sender, cfg.Scheduler,
			scheduler.WithLogger(logger),
			scheduler.WithMetrics(m),
		)
		g.Go(func() error { return sched.Run(ctx) })
	}

	logger.Info("remindme server started", "addr", cfg.WhatsApp.WebhookAddr,
		"provider", providerInstance.Name(), "scheduler", cfg.Scheduler.Enabled)
	return g.Wait()
}
