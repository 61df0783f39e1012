// Package platform defines the chat-platform client interface DeliveryStreamer
// and CommandHandler consume, and a Telegram implementation of it.
package platform

import "context"

// RateLimitError is returned by any Client method when the platform responds
// with a 429 carrying a retry_after value. DeliveryStreamer sleeps RetryAfter
// seconds and retries the same call.
type RateLimitError struct {
	Method     string
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return "rate limited on " + e.Method
}

// SendResult carries the platform message id created or edited, used by
// DeliveryStreamer to track the live message for a turn.
type SendResult struct {
	MessageID int
}

// Client is the spec §6 "Platform client interface (consumed)": send_message,
// edit_message_text, answer_callback_query, send_photo, send_document — each
// returning success or a *RateLimitError.
type Client interface {
	SendMessage(ctx context.Context, chatID int64, text string) (SendResult, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	SendPhoto(ctx context.Context, chatID int64, path, caption string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

// Update is the chat-platform-agnostic shape Ingress extracts from a raw
// envelope before handing it to Store.AcceptUpdate. Raw is kept so
// UpdateWorker can re-parse the platform-specific detail it needs
// (entities, inline keyboard data) without Ingress needing to understand it.
type Update struct {
	UpdateID     int64
	ChatID       int64
	FromUserID   int64
	Text         string
	CallbackID   string
	CallbackData string
	Raw          string
}
