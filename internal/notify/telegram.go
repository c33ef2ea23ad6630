package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications through the Telegram Bot API. The bot
// client is created on first use, because creating it calls getMe.
type TelegramSender struct {
	token    string
	chatID   string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbot.BotAPI
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat. chatID is a numeric chat id or an @channel username.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:    token,
		chatID:   chatID,
		endpoint: tgbot.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a Markdown message with a bold title to the configured chat.
// The bot API client has no context support; ctx is only checked before
// sending.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	bot, err := t.botAPI()
	if err != nil {
		return err
	}

	text := fmt.Sprintf("*%s*\n%s", title, message)
	var msg tgbot.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		msg = tgbot.NewMessage(id, text)
	} else {
		msg = tgbot.NewMessageToChannel(t.chatID, text)
	}
	msg.ParseMode = tgbot.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func (t *TelegramSender) botAPI() (*tgbot.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbot.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	t.bot = bot
	return bot, nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
