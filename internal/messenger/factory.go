package messenger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"telesend/internal/config"
	"telesend/internal/domain"
)

// Options carries runtime settings that are not part of the config file.
type Options struct {
	DryRun     bool
	Out        io.Writer // dry-run output, default os.Stdout
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Constructor opens an authenticated session for one platform.
type Constructor func(ctx context.Context, cfg *config.Config, opts Options) (domain.Messenger, error)

var constructors = map[string]Constructor{
	"telegram": func(ctx context.Context, cfg *config.Config, opts Options) (domain.Messenger, error) {
		return NewTelegram(ctx, TelegramConfig{
			Token:       cfg.Telegram.BotToken(),
			APIEndpoint: cfg.Telegram.APIEndpoint,
			ParseMode:   cfg.Telegram.ParseMode,
			HTTPClient:  opts.HTTPClient,
			Logger:      opts.Logger,
		})
	},
	"slack": func(ctx context.Context, cfg *config.Config, opts Options) (domain.Messenger, error) {
		return NewSlack(ctx, SlackConfig{
			BotToken:   cfg.Slack.BotToken,
			APIURL:     cfg.Slack.APIURL,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		})
	},
	"discord": func(ctx context.Context, cfg *config.Config, opts Options) (domain.Messenger, error) {
		return NewDiscord(ctx, DiscordConfig{
			Token:      cfg.Discord.Token,
			GuildID:    cfg.Discord.GuildID,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		})
	},
}

// Open authenticates against the configured platform, or returns a DryRun
// session when opts.DryRun is set.
func Open(ctx context.Context, cfg *config.Config, opts Options) (domain.Messenger, error) {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.DryRun {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		opts.Logger.Debug("dry run, nothing will be sent", "platform", cfg.Platform)
		return NewDryRun(out), nil
	}

	ctor, ok := constructors[cfg.Platform]
	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", cfg.Platform)
	}
	m, err := ctor(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("messenger opened", "platform", m.Name())
	return m, nil
}
