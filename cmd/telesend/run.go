package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"telesend/internal/chatstore"
	"telesend/internal/config"
	"telesend/internal/dispatch"
	"telesend/internal/domain"
	"telesend/internal/messenger"

	"github.com/spf13/cobra"
)

var errMissingChatID = errors.New("--chat-id is required unless using --list-chats")

// resolveConfigPath returns the config path from --config or the default.
func (a *app) resolveConfigPath() string {
	if a.opts.configPath != "" {
		return config.ExpandPath(a.opts.configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig merges defaults, the config file, TELESEND_* variables and
// flags, in increasing order of precedence. A missing default config file
// is not an error.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := a.resolveConfigPath()

	var cfg *config.Config
	if _, err := os.Stat(path); err == nil || a.opts.configPath != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Defaults()
	}

	config.ApplyEnv(cfg)
	a.applyFlags(cmd, cfg)
	cfg.ExpandPaths()

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags over cfg.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	set := func(name string, dst *string, val string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst = val
		}
	}
	set("platform", &cfg.Platform, a.opts.platform)
	set("api-id", &cfg.Telegram.APIID, a.opts.apiID)
	set("api-hash", &cfg.Telegram.APIHash, a.opts.apiHash)
	set("chat-id", &cfg.Dispatch.ChatID, a.opts.chatID)
	set("directory", &cfg.Dispatch.Directory, a.opts.directory)
	set("log-level", &cfg.Log.Level, a.opts.logLevel)

	switch cfg.Platform {
	case "slack":
		set("token", &cfg.Slack.BotToken, a.opts.token)
	case "discord":
		set("token", &cfg.Discord.Token, a.opts.token)
	default:
		set("token", &cfg.Telegram.Token, a.opts.token)
	}
}

func (a *app) newLogger(cfg *config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
}

func (a *app) runSend(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := a.newLogger(cfg)

	if a.opts.phoneNumber != "" {
		logger.Warn("--phone-number is ignored, bot sessions authenticate with api id and hash")
	}
	if !a.opts.listChats && cfg.Dispatch.ChatID == "" {
		return errMissingChatID
	}

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A second signal falls through to the default handler and kills the process.
	context.AfterFunc(ctx, stop)

	err = a.session(ctx, cfg, logger)
	if err != nil && ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

// session authenticates, runs one listing or one batch, and always closes
// the messenger and the store.
func (a *app) session(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m, err := messenger.Open(ctx, cfg, messenger.Options{
		DryRun: a.opts.dryRun,
		Out:    a.stdout,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	store := a.openStore(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	if a.opts.listChats {
		return a.listChats(ctx, m, store, cfg.Platform, logger)
	}

	target, err := m.ResolveChat(ctx, cfg.Dispatch.ChatID)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Save(ctx, cfg.Platform, []domain.Chat{{ID: target.ID, Title: target.Title}}); err != nil {
			logger.Warn("cannot record chat", "chat_id", target.ID, "err", err)
		}
	}
	logger.Info("sending batch", "platform", m.Name(), "chat_id", target.ID, "title", target.Title)

	d := dispatch.New(dispatch.Config{
		Client:    m,
		Target:    target,
		Directory: cfg.Dispatch.Directory,
		ErrOut:    a.stderr,
		Logger:    logger,
	})
	stats, err := d.Run(ctx, a.stdin)
	logger.Debug("batch finished", "sent", stats.Sent, "failed", stats.Failed)
	return err
}

// openStore returns nil when the store is disabled, in dry-run mode, or
// cannot be opened; listing then falls back to the platform's answer.
func (a *app) openStore(cfg *config.Config, logger *slog.Logger) *chatstore.Store {
	if !cfg.Store.Enabled || a.opts.dryRun {
		return nil
	}
	store, err := chatstore.Open(cfg.Store.DBPath, logger)
	if err != nil {
		logger.Warn("chat store unavailable", "path", cfg.Store.DBPath, "err", err)
		return nil
	}
	return store
}

// listChats prints "id: title" per chat. Chats without a title are skipped.
func (a *app) listChats(ctx context.Context, m domain.Messenger, store *chatstore.Store, platform string, logger *slog.Logger) error {
	chats, err := m.ListChats(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Save(ctx, platform, chats); err != nil {
			logger.Warn("cannot record chats", "err", err)
		} else if stored, err := store.List(ctx, platform); err == nil {
			chats = stored
		}
	}
	for _, c := range chats {
		if c.Title == "" {
			continue
		}
		fmt.Fprintf(a.stdout, "%s: %s\n", c.ID, c.Title)
	}
	return nil
}
