// Package bot runs the Telegram front end: a long-polling loop that turns
// chat commands into capture operations and sends the shots back as photos
// or documents.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hazyhaar/pageshot/capture"
)

const apiBase = "https://api.telegram.org"

// Config configures the bot.
type Config struct {
	// Token is the bot API token from @BotFather.
	Token string `yaml:"token"`
	// AllowedChats restricts who may command the bot. Empty means anyone,
	// fine for a private bot, reckless for a public one.
	AllowedChats []int64 `yaml:"allowed_chats"`
	// PollTimeout is the getUpdates long-poll window. Default: 30s.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Bot serves capture commands over Telegram.
type Bot struct {
	svc    *capture.Service
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// New creates a Bot on top of the capture service.
func New(svc *capture.Service, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot: token is required")
	}
	cfg.defaults()
	return &Bot{
		svc: svc,
		cfg: cfg,
		// Long-poll window plus slack; captures use their own timeouts.
		client: &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		log:    cfg.Logger,
	}, nil
}

// update mirrors the bot API shapes we consume.
type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// Run polls getUpdates until ctx is cancelled. Poll errors back off and
// retry; command errors are reported to the chat.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("telegram bot started", "poll_timeout", b.cfg.PollTimeout)

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			b.log.Info("telegram bot stopped")
			return nil
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				b.log.Info("telegram bot stopped")
				return nil
			}
			b.log.Warn("poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			if !b.allowed(u.Message.Chat.ID) {
				b.log.Warn("rejected chat", "chat_id", u.Message.Chat.ID)
				continue
			}
			b.handle(ctx, u.Message)
		}
	}
}

func (b *Bot) allowed(chatID int64) bool {
	if len(b.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range b.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	q := url.Values{
		"offset":  {strconv.FormatInt(offset, 10)},
		"timeout": {strconv.Itoa(int(b.cfg.PollTimeout.Seconds()))},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool     `json:"ok"`
		Description string   `json:"description"`
		Result      []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("bot: decode getUpdates: %w", err)
	}
	if !body.OK {
		return nil, fmt.Errorf("bot: getUpdates: %s", body.Description)
	}
	return body.Result, nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", apiBase, b.cfg.Token, method)
}
