// Command chat runs the reminder assistant in the terminal. Each line is
// handled as if it were a WhatsApp message from the configured phone
// number; due reminders are printed in place of chat and call deliveries.
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
	"golang.org/x/sync/errgroup"

	"github.com/notexe/remindme/internal/api"
	"github.com/notexe/remindme/internal/config"
	"github.com/notexe/remindme/internal/conversation"
	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/metrics"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/repl"
	"github.com/notexe/remindme/internal/scheduler"
	"github.com/notexe/remindme/internal/server"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	provider := flag.String("provider", "", "Provider to use (deepseek, ollama)")
	modelName := flag.String("model", "", "Model name (overrides config)")
	phone := flag.String("phone", "+15550100", "Phone number to chat as")
	logFile := flag.String("log-file", "", "Write logs to this file (default: chat.log next to the database)")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	noScheduler := flag.Bool("no-scheduler", false, "Do not deliver due reminders")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *modelName != "" {
		cfg.Model.Name = *modelName
	}
	if *noColor {
		cfg.UI.ColoredOutput = false
	}
	if *noScheduler {
		cfg.Scheduler.Enabled = false
	}

	if err := cfg.Validate(true); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		if cfg.Provider == config.ProviderDeepSeek {
			fmt.Fprintf(os.Stderr, "Tip: Set DEEPSEEK_API_KEY environment variable or add it to config file\n")
		}
		os.Exit(1)
	}

	dataDir := filepath.Dir(cfg.Store.Path)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the REPL, so logs go to a file.
	if *logFile == "" {
		*logFile = filepath.Join(dataDir, "chat.log")
	}
	f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	logger := logging.NewWithWriter(cfg.Log, f)

	if err := run(cfg, *phone, logger); err != nil {
		logger.Error("chat exited with error", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, phone string, logger *slog.Logger) error {
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

	registry := prometheus.NewRegistry()
	m := metrics.MustNew(registry)

	engine, err := conversation.New(store, intent.NewExtractor(providerInstance, providerCfg.Model, logger), nil, conversation.Options{
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

	console, err := repl.NewREPL(engine, store, repl.Options{
		Phone:       phone,
		Provider:    providerInstance.Name(),
		Model:       cfg.Model.Name,
		Colored:     cfg.UI.ColoredOutput,
		Interactive: true,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(store, console, cfg.Scheduler,
			scheduler.WithCaller(console),
			scheduler.WithLogger(logger),
			scheduler.WithMetrics(m),
		)
		g.Go(func() error { return sched.Run(ctx) })
	}

	if cfg.Metrics.Enabled {
		srv := server.New(server.Config{Addr: cfg.Metrics.Addr, Gatherer: registry, Logger: logger})
		g.Go(func() error { return srv.Run(ctx) })
	}

	g.Go(func() error {
		defer stop()
		return console.Start(ctx)
	})

	// Interrupts end the read loop; readline only returns on input.
	go func() {
		<-ctx.Done()
		console.Stop()
	}()

	return g.Wait()
}
