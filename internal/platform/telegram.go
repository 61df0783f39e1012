package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramClient implements Client against the Telegram Bot API.
type TelegramClient struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramClient constructs a client for the given bot token. If baseURL
// is non-empty, the client talks to that endpoint instead of
// api.telegram.org — pointed at a local mock server in tests/dev.
func NewTelegramClient(token, baseURL string) (*TelegramClient, error) {
	var bot *tgbotapi.BotAPI
	var err error
	if baseURL != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(token, baseURL+"/bot%s/%s")
	} else {
		bot, err = tgbotapi.NewBotAPI(token)
	}
	if err != nil {
		return nil, fmt.Errorf("new telegram bot: %w", err)
	}
	return &TelegramClient{bot: bot}, nil
}

// IsLocalBaseURL reports whether baseURL names a local address, the signal
// Ingress uses to decide whether its persisted poll offset should be reset
// on restart (spec §4.2's "tolerate a mock restart").
func IsLocalBaseURL(baseURL string) bool {
	if baseURL == "" {
		return false
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// BotAPI exposes the underlying client for the poller, which needs
// GetUpdatesChan directly rather than going through the Client interface.
func (c *TelegramClient) BotAPI() *tgbotapi.BotAPI { return c.bot }

func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) (SendResult, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := c.bot.Send(msg)
	if err != nil {
		if rl, ok := asRateLimit("sendMessage", err); ok {
			return SendResult{}, rl
		}
		return SendResult{}, err
	}
	return SendResult{MessageID: sent.MessageID}, nil
}

func (c *TelegramClient) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := c.bot.Send(edit); err != nil {
		if rl, ok := asRateLimit("editMessageText", err); ok {
			return rl
		}
		return err
	}
	return nil
}

func (c *TelegramClient) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if _, err := c.bot.Request(cb); err != nil {
		if rl, ok := asRateLimit("answerCallbackQuery", err); ok {
			return rl
		}
		return err
	}
	return nil
}

func (c *TelegramClient) SendPhoto(ctx context.Context, chatID int64, path, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	if _, err := c.bot.Send(photo); err != nil {
		if rl, ok := asRateLimit("sendPhoto", err); ok {
			return rl
		}
		return err
	}
	return nil
}

func (c *TelegramClient) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := c.bot.Send(doc); err != nil {
		if rl, ok := asRateLimit("sendDocument", err); ok {
			return rl
		}
		return err
	}
	return nil
}

// asRateLimit recognises the tgbotapi.Error shape carrying a RetryAfter,
// translating it into the Client interface's platform-agnostic RateLimitError.
func asRateLimit(method string, err error) (*RateLimitError, bool) {
	tgErr, ok := err.(*tgbotapi.Error)
	if !ok || tgErr.ResponseParameters.RetryAfter == 0 {
		return nil, false
	}
	return &RateLimitError{Method: method, RetryAfter: tgErr.ResponseParameters.RetryAfter}, true
}

// ParseUpdate extracts the platform-agnostic fields Ingress needs from a raw
// Telegram update envelope, keeping the raw JSON for later re-parsing by
// UpdateWorker/CommandHandler (entities, inline keyboard callback data).
func ParseUpdate(raw []byte) (Update, error) {
	var tu tgbotapi.Update
	if err := json.Unmarshal(raw, &tu); err != nil {
		return Update{}, fmt.Errorf("parse telegram update: %w", err)
	}

	u := Update{
		UpdateID: int64(tu.UpdateID),
		Raw:      string(raw),
	}
	switch {
	case tu.Message != nil:
		u.ChatID = tu.Message.Chat.ID
		if tu.Message.From != nil {
			u.FromUserID = tu.Message.From.ID
		}
		u.Text = tu.Message.Text
	case tu.CallbackQuery != nil:
		u.CallbackID = tu.CallbackQuery.ID
		u.CallbackData = tu.CallbackQuery.Data
		if tu.CallbackQuery.From != nil {
			u.FromUserID = tu.CallbackQuery.From.ID
		}
		if tu.CallbackQuery.Message != nil {
			u.ChatID = tu.CallbackQuery.Message.Chat.ID
		}
	}
	return u, nil
}
