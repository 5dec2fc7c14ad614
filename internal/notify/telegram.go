package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramLimit is the Bot API's maximum message length.
const telegramLimit = 4096

// TelegramSender posts to a chat through the Telegram Bot API. The bot is
// connected on first use so building a sender never touches the network.
type TelegramSender struct {
	token    string
	chatID   string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegramSender creates a sender for a bot token and a chat, given as a
// numeric id or an @channel name.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:    token,
		chatID:   strings.TrimSpace(chatID),
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramSender) api() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, err
	}
	t.bot = bot
	return bot, nil
}

// Send posts a plain-text message. Fill ids and tokens contain characters
// Markdown would mangle, so no parse mode is set.
func (t *TelegramSender) Send(_ context.Context, title, message string) error {
	bot, err := t.api()
	if err != nil {
		return t.wrap("connect", err)
	}

	text := truncate(title+"\n"+message, telegramLimit)
	var msg tgbotapi.MessageConfig
	if id, perr := strconv.ParseInt(t.chatID, 10, 64); perr == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(t.chatID, text)
	}
	msg.DisableWebPagePreview = true

	if _, err := bot.Send(msg); err != nil {
		return t.wrap("send", err)
	}
	return nil
}

// wrap keeps the bot token, which appears in request URLs, out of errors.
func (t *TelegramSender) wrap(op string, err error) error {
	return fmt.Errorf("telegram: %s: %s", op, strings.ReplaceAll(err.Error(), t.token, "<redacted>"))
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
