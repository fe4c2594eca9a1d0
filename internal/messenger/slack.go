package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"telesend/internal/domain"

	"github.com/slack-go/slack"
)

const (
	slackMaxMsgLen  = 4000
	slackPageLimit  = 200
	slackChatTypes  = "public_channel,private_channel"
	slackDefaultURL = "https://slack.com/api/"
)

// slackChannelID matches conversation ids: public (C), private (G) and direct (D).
var slackChannelID = regexp.MustCompile(`^[CGD][A-Z0-9]{8,}$`)

// Slack implements domain.Messenger on the Slack Web API.
type Slack struct {
	client *slack.Client
	http   *http.Client
	logger *slog.Logger
}

// SlackConfig configures a Slack session.
type SlackConfig struct {
	BotToken   string
	APIURL     string // default https://slack.com/api/
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewSlack authenticates the bot token with auth.test.
func NewSlack(ctx context.Context, cfg SlackConfig) (*Slack, error) {
	if cfg.BotToken == "" {
		return nil, &domain.AuthError{Platform: "slack", Err: errors.New("missing bot token")}
	}
	if cfg.APIURL == "" {
		cfg.APIURL = slackDefaultURL
	}
	if !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	api := slack.New(
		cfg.BotToken,
		slack.OptionAPIURL(cfg.APIURL),
		slack.OptionHTTPClient(cfg.HTTPClient),
	)
	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.AuthError{Platform: "slack", Err: err}
	}
	cfg.Logger.Info("slack session started", "user", authResp.User, "team", authResp.Team)

	return &Slack{client: api, http: cfg.HTTPClient, logger: cfg.Logger}, nil
}

func (s *Slack) Name() string { return "slack" }

// ResolveChat accepts a conversation id or a channel name with or without #.
func (s *Slack) ResolveChat(ctx context.Context, identifier string) (domain.Target, error) {
	identifier = strings.TrimSpace(identifier)
	if slackChannelID.MatchString(identifier) {
		ch, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: identifier})
		if err != nil {
			return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: err}
		}
		return domain.Target{ID: ch.ID, Title: slackChannelTitle(*ch)}, nil
	}

	name := strings.TrimPrefix(identifier, "#")
	if name == "" || strings.ContainsAny(name, " \t") {
		return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: errors.New("not a channel ID or #name")}
	}
	var found *domain.Target
	err := s.eachConversation(ctx, func(ch slack.Channel) bool {
		if ch.Name == name {
			found = &domain.Target{ID: ch.ID, Title: slackChannelTitle(ch)}
			return false
		}
		return true
	})
	if err != nil {
		return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: err}
	}
	if found == nil {
		return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: errors.New("channel not found")}
	}
	s.logger.Debug("slack chat resolved", "chat_id", found.ID, "title", found.Title)
	return *found, nil
}

// ListChats returns the public and private channels the bot can see.
func (s *Slack) ListChats(ctx context.Context) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := s.eachConversation(ctx, func(ch slack.Channel) bool {
		chats = append(chats, domain.Chat{ID: ch.ID, Title: slackChannelTitle(ch)})
		return true
	})
	if err != nil {
		return nil, slackDeliveryError("list conversations", err)
	}
	s.logger.Debug("slack chats listed", "chats", len(chats))
	return chats, nil
}

// eachConversation pages through conversations.list until fn returns false.
func (s *Slack) eachConversation(ctx context.Context, fn func(slack.Channel) bool) error {
	params := &slack.GetConversationsParameters{
		Types:           strings.Split(slackChatTypes, ","),
		Limit:           slackPageLimit,
		ExcludeArchived: true,
	}
	for {
		channels, cursor, err := s.client.GetConversationsContext(ctx, params)
		if err != nil {
			return err
		}
		for _, ch := range channels {
			if !fn(ch) {
				return nil
			}
		}
		if cursor == "" {
			return nil
		}
		params.Cursor = cursor
	}
}

func slackChannelTitle(ch slack.Channel) string {
	if ch.Name != "" {
		return "#" + ch.Name
	}
	return ch.User
}

// SendText posts body with chat.postMessage. Plain mode escapes control
// characters and turns mrkdwn off.
func (s *Slack) SendText(ctx context.Context, target domain.Target, body string, mode domain.RenderMode) error {
	for _, chunk := range splitMessage(body, slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, mode == domain.RenderPlain)}
		if mode == domain.RenderPlain {
			opts = append(opts, slack.MsgOptionDisableMarkdown())
		}
		if _, _, err := s.client.PostMessageContext(ctx, target.ID, opts...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return slackDeliveryError("post message", err)
		}
	}
	s.logger.Debug("slack message sent", "chat_id", target.ID, "mode", mode, "len", len(body))
	return nil
}

// SendFile uploads the attachment with files.uploadV2; the caption becomes
// the initial comment.
func (s *Slack) SendFile(ctx context.Context, target domain.Target, file domain.Attachment) error {
	info, err := os.Stat(file.Path)
	if err != nil {
		return &domain.FileError{Path: file.Path, Err: err}
	}
	name := filepath.Base(file.Path)
	_, err = s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           file.Path,
		FileSize:       int(info.Size()),
		Filename:       name,
		Title:          name,
		InitialComment: file.Caption,
		Channel:        target.ID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return slackDeliveryError("upload "+string(file.Kind), err)
	}
	s.logger.Debug("slack file sent", "chat_id", target.ID, "kind", file.Kind, "path", file.Path)
	return nil
}

func (s *Slack) Close() error {
	s.http.CloseIdleConnections()
	s.logger.Debug("slack session closed")
	return nil
}

func slackDeliveryError(op string, err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		err = fmt.Errorf("rate limited, retry after %s", rl.RetryAfter)
	}
	return &domain.DeliveryError{Op: op, Err: err}
}
