package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"telesend/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// discordEscaper neutralizes Discord markdown for plain text.
var discordEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"|", `\|`,
	">", `\>`,
)

// Discord implements domain.Messenger on the Discord REST API. No gateway
// connection is opened; messages are sent as the bot user.
type Discord struct {
	session *discordgo.Session
	guildID string
	logger  *slog.Logger
}

// DiscordConfig configures a Discord session.
type DiscordConfig struct {
	Token      string
	GuildID    string // required for ListChats
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewDiscord authenticates the bot token with GET /users/@me.
func NewDiscord(ctx context.Context, cfg DiscordConfig) (*Discord, error) {
	if cfg.Token == "" {
		return nil, &domain.AuthError{Platform: "discord", Err: errors.New("missing bot token")}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	session, err := discordgo.New("Bot " + strings.TrimPrefix(cfg.Token, "Bot "))
	if err != nil {
		return nil, &domain.AuthError{Platform: "discord", Err: err}
	}
	if cfg.HTTPClient != nil {
		session.Client = cfg.HTTPClient
	}
	session.ShouldRetryOnRateLimit = false
	session.MaxRestRetries = 0

	me, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.AuthError{Platform: "discord", Err: err}
	}
	cfg.Logger.Info("discord session started", "user", me.Username, "id", me.ID)

	return &Discord{session: session, guildID: cfg.GuildID, logger: cfg.Logger}, nil
}

func (d *Discord) Name() string { return "discord" }

// ResolveChat looks up a channel by its snowflake id.
func (d *Discord) ResolveChat(ctx context.Context, identifier string) (domain.Target, error) {
	identifier = strings.TrimSpace(identifier)
	if !isSnowflake(identifier) {
		return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: errors.New("not a channel snowflake")}
	}
	ch, err := d.session.Channel(identifier, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: err}
	}
	target := domain.Target{ID: ch.ID, Title: discordChannelTitle(ch)}
	d.logger.Debug("discord chat resolved", "chat_id", target.ID, "title", target.Title)
	return target, nil
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ListChats returns the text and announcement channels of the configured guild.
func (d *Discord) ListChats(ctx context.Context) ([]domain.Chat, error) {
	if d.guildID == "" {
		return nil, &domain.DeliveryError{Op: "list channels", Err: errors.New("discord.guildId is not configured")}
	}
	channels, err := d.session.GuildChannels(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, &domain.DeliveryError{Op: "list channels", Err: err}
	}
	sort.SliceStable(channels, func(i, j int) bool { return channels[i].Position < channels[j].Position })

	var chats []domain.Chat
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		chats = append(chats, domain.Chat{ID: ch.ID, Title: discordChannelTitle(ch)})
	}
	d.logger.Debug("discord chats listed", "channels", len(channels), "chats", len(chats))
	return chats, nil
}

func discordChannelTitle(ch *discordgo.Channel) string {
	if ch.Name == "" {
		return ""
	}
	return "#" + ch.Name
}

// SendText sends body split into 2000-byte chunks. Plain mode escapes
// markdown characters before splitting.
func (d *Discord) SendText(ctx context.Context, target domain.Target, body string, mode domain.RenderMode) error {
	if mode == domain.RenderPlain {
		body = discordEscaper.Replace(body)
	}
	for _, chunk := range splitMessage(body, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(target.ID, chunk, discordgo.WithContext(ctx)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &domain.DeliveryError{Op: "send message", Err: err}
		}
	}
	d.logger.Debug("discord message sent", "chat_id", target.ID, "mode", mode, "len", len(body))
	return nil
}

// SendFile posts a message with the file attached and the caption as content.
func (d *Discord) SendFile(ctx context.Context, target domain.Target, file domain.Attachment) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return &domain.FileError{Path: file.Path, Err: err}
	}
	defer f.Close()

	msg := &discordgo.MessageSend{
		Content: file.Caption,
		Files:   []*discordgo.File{{Name: filepath.Base(file.Path), Reader: f}},
	}
	if _, err := d.session.ChannelMessageSendComplex(target.ID, msg, discordgo.WithContext(ctx)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.DeliveryError{Op: fmt.Sprintf("send %s", file.Kind), Err: err}
	}
	d.logger.Debug("discord file sent", "chat_id", target.ID, "kind", file.Kind, "path", file.Path)
	return nil
}

func (d *Discord) Close() error {
	d.session.Client.CloseIdleConnections()
	d.logger.Debug("discord session closed")
	return nil
}
