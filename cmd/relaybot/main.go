package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaybot/internal/bot"
	"relaybot/internal/config"
	"relaybot/internal/delivery"
	"relaybot/internal/history"
	"relaybot/internal/ingress"
	"relaybot/internal/provider"
	"relaybot/internal/slackapi"
	"relaybot/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "relaybot",
		Short:   "relaybot: Slack bot that relays questions to a completion service",
		Long:    "relaybot receives Slack events, forwards user messages to a managed completion service, and streams the answers back into the channel or thread.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the config file and store directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Store.Path), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "store", cfg.Store.Path)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx := context.Background()
			factory := provider.NewFactory(cfg, logger)
			if c := factory.HealthyCompleter(ctx); c != nil {
				logger.Info("provider", "name", c.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the event server",
		Long:  "Starts the Slack events webhook and handles conversation turns until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(store.Options{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
		TTL:      time.Duration(cfg.Store.TTLSeconds) * time.Second,
		FailOpen: cfg.Store.FailOpen,
		Ceiling:  cfg.Store.ThrottleCeiling,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	slackClient := slackapi.New(cfg.Slack.BotToken, logger)
	botUserID, err := slackClient.AuthTest(ctx)
	if err != nil {
		return err
	}

	factory := provider.NewFactory(cfg, logger)
	completer, err := factory.Resolve()
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}
	if err := completer.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", completer.Name(), "err", err)
	} else {
		logger.Info("provider ready", "provider", completer.Name())
	}

	pipeline := delivery.New(delivery.Config{
		Client:        slackClient,
		MaxMessageLen: cfg.Slack.MaxMessageLen,
		ChunkDelay:    time.Duration(cfg.Slack.ChunkDelayMs) * time.Millisecond,
		Cursor:        cfg.Slack.Cursor,
		Logger:        logger,
	})

	orch := bot.New(bot.Config{
		Store:           st,
		Pipeline:        pipeline,
		History:         history.New(slackClient, botUserID, logger),
		Completer:       completer,
		Persona:         cfg.General.Persona,
		SystemExtra:     cfg.General.SystemPromptExtra,
		ByteBudget:      cfg.Context.ByteBudget,
		ThrottleCeiling: cfg.Store.ThrottleCeiling,
		AllowedChannels: cfg.Slack.AllowedChannels,
		TurnTimeout:     time.Duration(cfg.General.TurnTimeoutSeconds) * time.Second,
		Logger:          logger,
	})

	metricsEndpoint := ""
	if cfg.Metrics.Enabled {
		metricsEndpoint = cfg.Metrics.Endpoint
	}
	srv := ingress.New(ingress.Config{
		Port:            cfg.Server.Port,
		Path:            cfg.Server.Path,
		SigningSecret:   cfg.Slack.SigningSecret,
		BotUserID:       botUserID,
		Concurrency:     cfg.Server.Concurrency,
		MetricsEndpoint: metricsEndpoint,
		Logger:          logger,
	}, orch)

	logger.Info("relaybot started", "version", version)
	return srv.Start(ctx)
}

// buildLogger constructs the process logger from config: level from
// general.logLevel, destination stderr plus an optional log file.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			w = io.MultiWriter(os.Stderr, f)
		}
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
