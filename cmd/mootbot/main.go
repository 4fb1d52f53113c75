package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mootbot/internal/bus"
	"mootbot/internal/channel"
	"mootbot/internal/config"
	"mootbot/internal/domain"
	"mootbot/internal/mail"
	"mootbot/internal/metrics"
	"mootbot/internal/prompts"
	"mootbot/internal/provider"
	"mootbot/internal/relay"
	"mootbot/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env is a convenience for local runs; absence is not an error.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "mootbot",
		Short: "mootbot: moot court coaching bot",
		Long:  "mootbot relays Telegram (and other channel) conversations to an AI model and walks law students through a staged case analysis.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.mootbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from the --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("config not found, using defaults", "path", cfgPath)
			return applyLevel(config.Expand(config.Defaults())), nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return applyLevel(cfg), nil
}

func applyLevel(cfg *config.Config) *config.Config {
	var level slog.Level
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

// checkCredentials fails fast, before any network client is constructed,
// when a secret an enabled component needs is absent.
func checkCredentials(cfg *config.Config) error {
	var missing []string

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		missing = append(missing, "telegram token (TELEGRAM_BOT_TOKEN)")
	}
	for name, pc := range cfg.Providers {
		if pc.Enabled && name != "ollama" && pc.APIKey == "" {
			missing = append(missing, fmt.Sprintf("%s API key (OPENAI_API_KEY)", name))
		}
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		missing = append(missing, "slack bot/app tokens")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		missing = append(missing, "discord token")
	}
	if cfg.Registration.Enabled && cfg.Registration.SMTP.Password == "" {
		missing = append(missing, "SMTP password (EMAIL_PASSWORD)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start all enabled channels and the relay loop",
		Long:  "Starts the enabled channels (Telegram, Slack, Discord) and the relay loop. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := checkCredentials(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	userStore, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	defer userStore.Close()

	promptSet, err := prompts.Load(config.ExpandPath(cfg.Prompts.Path), logger)
	if err != nil {
		return err
	}

	provFactory := provider.NewFactory(cfg, logger)
	prov, err := provFactory.DefaultProvider()
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("default provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	var mailer mail.Mailer
	if cfg.Registration.Enabled {
		mailer = mail.NewSMTPMailer(cfg.Registration.SMTP, logger)
	}

	loop := relay.NewLoop(relay.LoopConfig{
		Provider:            prov,
		Store:               userStore,
		Mailer:              mailer,
		Prompts:             promptSet,
		Bus:                 messageBus,
		Logger:              logger,
		Concurrency:         cfg.General.MaxConcurrentMessages,
		HistoryLimit:        cfg.General.HistoryLimit,
		Retry:               retryPolicy(cfg),
		RateBurst:           cfg.General.RateBurst,
		RatePerMin:          cfg.General.RatePerMinute,
		RegistrationEnabled: cfg.Registration.Enabled,
		AllowedDomains:      cfg.Registration.AllowedDomains,
	})
	go loop.Run(ctx)

	channels := startChannels(ctx, cfg, messageBus)
	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled; enable telegram (or another channel) in %s", resolveConfigPath())
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetrics(cfg)
	}

	logger.Info("mootbot started", "version", version, "channels", len(channels))

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			_ = ch.Stop()
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func retryPolicy(cfg *config.Config) provider.RetryPolicy {
	p := provider.DefaultRetryPolicy()
	if cfg.General.MaxRetries > 0 {
		p.MaxRetries = cfg.General.MaxRetries
	}
	return p
}

// startChannels launches every enabled channel and returns them for
// shutdown bookkeeping.
func startChannels(ctx context.Context, cfg *config.Config, messageBus domain.MessageBus) []domain.Channel {
	var channels []domain.Channel

	launch := func(ch domain.Channel) {
		channels = append(channels, ch)
		go func() {
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		launch(channel.NewTelegram(channel.TelegramChannelConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Slack.Enabled {
		launch(channel.NewSlack(channel.SlackChannelConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	if cfg.Channels.Discord.Enabled {
		launch(channel.NewDiscord(channel.DiscordChannelConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.CLI.Enabled {
		launch(channel.NewCLI(channel.CLIChannelConfig{Logger: logger}))
	}

	return channels
}

func startMetrics(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Collector.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := checkCredentials(chatOnly(cfg)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			messageBus := bus.New(100, logger)
			defer messageBus.Close()

			userStore, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
			if err != nil {
				return fmt.Errorf("user store: %w", err)
			}
			defer userStore.Close()

			promptSet, err := prompts.Load(config.ExpandPath(cfg.Prompts.Path), logger)
			if err != nil {
				return err
			}

			provFactory := provider.NewFactory(cfg, logger)
			prov, err := provFactory.DefaultProvider()
			if err != nil {
				return fmt.Errorf("provider: %w", err)
			}

			loop := relay.NewLoop(relay.LoopConfig{
				Provider:     prov,
				Store:        userStore,
				Prompts:      promptSet,
				Bus:          messageBus,
				Logger:       logger,
				Concurrency:  cfg.General.MaxConcurrentMessages,
				HistoryLimit: cfg.General.HistoryLimit,
				Retry:        retryPolicy(cfg),
				RateBurst:    cfg.General.RateBurst,
				RatePerMin:   cfg.General.RatePerMinute,
			})
			go loop.Run(ctx)

			cliCh := channel.NewCLI(channel.CLIChannelConfig{Logger: logger})
			return cliCh.Start(ctx, messageBus)
		},
	}
}

// chatOnly strips channel and registration requirements so a terminal chat
// only needs the provider key.
func chatOnly(cfg *config.Config) *config.Config {
	c := *cfg
	c.Channels.Telegram.Enabled = false
	c.Channels.Slack.Enabled = false
	c.Channels.Discord.Enabled = false
	c.Registration.Enabled = false
	return &c
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
