package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"telesend/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen     = 4096
	telegramUpdatesLimit  = 100
	telegramDefaultParser = tgbotapi.ModeMarkdown
	telegramHTTPTimeout   = 5 * time.Minute // bounds a single call, uploads included
)

// telegramUsername matches public chat usernames with or without the @.
var telegramUsername = regexp.MustCompile(`^@?[A-Za-z][A-Za-z0-9_]{3,31}$`)

// Telegram implements domain.Messenger on the Telegram Bot API.
type Telegram struct {
	bot       *tgbotapi.BotAPI
	parseMode string
	logger    *slog.Logger
}

// TelegramConfig configures a Telegram session.
type TelegramConfig struct {
	Token       string
	APIEndpoint string // printf pattern with token and method, default tgbotapi.APIEndpoint
	ParseMode   string // markdown parse mode, default "Markdown"
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// NewTelegram authenticates against the Bot API with getMe.
func NewTelegram(ctx context.Context, cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, &domain.AuthError{Platform: "telegram", Err: errors.New("missing bot token (api id and api hash)")}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = telegramDefaultParser
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: telegramHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.HTTPClient)
	if err != nil {
		return nil, &domain.AuthError{Platform: "telegram", Err: err}
	}
	cfg.Logger.Info("telegram session started",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return &Telegram{
		bot:       bot,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// ResolveChat accepts a numeric chat id or a public @username.
func (t *Telegram) ResolveChat(ctx context.Context, identifier string) (domain.Target, error) {
	identifier = strings.TrimSpace(identifier)
	var chatCfg tgbotapi.ChatConfig

	id, err := strconv.ParseInt(identifier, 10, 64)
	switch {
	case err == nil:
		chatCfg.ChatID = id
	case telegramUsername.MatchString(identifier):
		chatCfg.SuperGroupUsername = "@" + strings.TrimPrefix(identifier, "@")
	default:
		return domain.Target{}, &domain.InvalidChatError{
			ID:  identifier,
			Err: fmt.Errorf("not a numeric chat ID or @username: %w", err),
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.Target{}, err
	}

	chat, err := t.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: chatCfg})
	if err != nil {
		return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: err}
	}
	target := domain.Target{ID: strconv.FormatInt(chat.ID, 10), Title: telegramChatTitle(chat)}
	t.logger.Debug("telegram chat resolved", "chat_id", target.ID, "title", target.Title)
	return target, nil
}

// ListChats returns chats visible in pending updates. Updates are not
// acknowledged, so repeated listings see the same set.
func (t *Telegram) ListChats(ctx context.Context) ([]domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := tgbotapi.NewUpdate(0)
	u.Limit = telegramUpdatesLimit
	updates, err := t.bot.GetUpdates(u)
	if err != nil {
		return nil, telegramDeliveryError("get updates", err)
	}

	seen := make(map[int64]bool)
	var chats []domain.Chat
	for _, update := range updates {
		for _, chat := range updateChats(update) {
			if chat == nil || seen[chat.ID] {
				continue
			}
			seen[chat.ID] = true
			chats = append(chats, domain.Chat{
				ID:    strconv.FormatInt(chat.ID, 10),
				Title: telegramChatTitle(*chat),
			})
		}
	}
	t.logger.Debug("telegram chats listed", "updates", len(updates), "chats", len(chats))
	return chats, nil
}

func updateChats(u tgbotapi.Update) []*tgbotapi.Chat {
	var chats []*tgbotapi.Chat
	for _, m := range []*tgbotapi.Message{u.Message, u.EditedMessage, u.ChannelPost, u.EditedChannelPost} {
		if m != nil {
			chats = append(chats, m.Chat)
		}
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		chats = append(chats, u.CallbackQuery.Message.Chat)
	}
	if u.MyChatMember != nil {
		chats = append(chats, &u.MyChatMember.Chat)
	}
	if u.ChatMember != nil {
		chats = append(chats, &u.ChatMember.Chat)
	}
	return chats
}

// telegramChatTitle names groups and channels by title and private chats by
// the user's name.
func telegramChatTitle(chat tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name != "" {
		return name
	}
	if chat.UserName != "" {
		return "@" + chat.UserName
	}
	return ""
}

// SendText sends body, split into 4096-byte chunks on line boundaries.
func (t *Telegram) SendText(ctx context.Context, target domain.Target, body string, mode domain.RenderMode) error {
	chatID, err := strconv.ParseInt(target.ID, 10, 64)
	if err != nil {
		return &domain.InvalidChatError{ID: target.ID, Err: err}
	}
	for _, chunk := range splitMessage(body, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		if mode == domain.RenderMarkdown {
			msg.ParseMode = t.parseMode
		}
		if _, err := t.bot.Send(msg); err != nil {
			return telegramDeliveryError("send message", err)
		}
	}
	t.logger.Debug("telegram message sent", "chat_id", chatID, "mode", mode, "len", len(body))
	return nil
}

// SendFile uploads a photo, video or document with an optional caption.
func (t *Telegram) SendFile(ctx context.Context, target domain.Target, file domain.Attachment) error {
	chatID, err := strconv.ParseInt(target.ID, 10, 64)
	if err != nil {
		return &domain.InvalidChatError{ID: target.ID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := tgbotapi.FilePath(file.Path)
	var (
		msg tgbotapi.Chattable
		op  string
	)
	switch file.Kind {
	case domain.KindPhoto:
		photo := tgbotapi.NewPhoto(chatID, data)
		photo.Caption = file.Caption
		msg, op = photo, "send photo"
	case domain.KindVideo:
		video := tgbotapi.NewVideo(chatID, data)
		video.Caption = file.Caption
		video.SupportsStreaming = file.Streaming
		msg, op = video, "send video"
	default:
		doc := tgbotapi.NewDocument(chatID, data)
		doc.Caption = file.Caption
		msg, op = doc, "send file"
	}

	if _, err := t.bot.Send(msg); err != nil {
		return telegramDeliveryError(op, err)
	}
	t.logger.Debug("telegram file sent", "chat_id", chatID, "kind", file.Kind, "path", file.Path)
	return nil
}

// Close ends the session. The Bot API is stateless over HTTP, so there is
// nothing to release beyond the idle connections.
func (t *Telegram) Close() error {
	if tr, ok := t.bot.Client.(*http.Client); ok {
		tr.CloseIdleConnections()
	}
	t.logger.Debug("telegram session closed")
	return nil
}

// telegramDeliveryError wraps a Bot API failure. Flood limits keep the
// retry-after hint in the message.
func telegramDeliveryError(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		err = fmt.Errorf("%s (flood limit, retry after %ds)", apiErr.Message, apiErr.RetryAfter)
	}
	return &domain.DeliveryError{Op: op, Err: err}
}
