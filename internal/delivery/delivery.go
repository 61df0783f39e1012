// Package delivery implements DeliveryStreamer (spec §4.7): turning the
// ordered CliEvent stream of a single turn into platform messages, editing
// one live message in place until it hits a size cap, then continuing into
// a new message, with 429 retry_after handling along the way.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/telecore/telecore/internal/platform"
)

// MessageCap is the default per-message character cap (spec §4.7).
const MessageCap = 3800

// MaxRetryAttempts bounds how many times a single send/edit call is retried
// after a 429 before giving up and surfacing a delivery_error.
const MaxRetryAttempts = 10

// RateLimitRetryFunc is called once per 429 retry, keyed by platform method,
// so the caller can increment telegram_rate_limit_retry.<method>.
type RateLimitRetryFunc func(method string)

// Turn streams one turn's events to a single chat, maintaining the live
// message across Append calls. Create a new Turn per RunJob execution.
type Turn struct {
	client platform.Client
	chatID int64
	logger *slog.Logger
	cap    int
	onRetry RateLimitRetryFunc

	liveMessageID int
	buffer        strings.Builder
	nextExpected  int64
}

// Option configures a Turn.
type Option func(*Turn)

// WithCap overrides the default per-message character cap.
func WithCap(n int) Option { return func(t *Turn) { t.cap = n } }

// WithRateLimitRetryHook registers a callback fired on each 429 retry.
func WithRateLimitRetryHook(f RateLimitRetryFunc) Option {
	return func(t *Turn) { t.onRetry = f }
}

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Turn) { t.logger = logger }
}

// NewTurn creates a streamer for one turn against the given chat.
func NewTurn(client platform.Client, chatID int64, opts ...Option) *Turn {
	t := &Turn{
		client:       client,
		chatID:       chatID,
		cap:          MessageCap,
		nextExpected: 1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FormatLine renders one CliEvent as the spec's "[seq][HH:MM:SS][type] body" line.
func FormatLine(seq int64, at time.Time, eventType, body string) string {
	return fmt.Sprintf("[%d][%s][%s] %s", seq, at.Format("15:04:05"), eventType, body)
}

// Append delivers one event in order. Calling Append out of seq order is a
// programming error (RunWorker guarantees in-order delivery); Append panics
// in that case rather than silently reordering platform-visible output.
func (t *Turn) Append(ctx context.Context, seq int64, at time.Time, eventType, body string) error {
	if seq != t.nextExpected {
		panic(fmt.Sprintf("delivery: out-of-order append: got seq %d, expected %d", seq, t.nextExpected))
	}
	t.nextExpected++

	line := FormatLine(seq, at, eventType, body)

	if t.liveMessageID == 0 {
		result, err := t.sendWithRetry(ctx, "sendMessage", line)
		if err != nil {
			return err
		}
		t.liveMessageID = result
		t.buffer.Reset()
		t.buffer.WriteString(line)
		return nil
	}

	candidate := t.buffer.String() + "\n" + line
	if len(candidate) > t.cap {
		result, err := t.sendWithRetry(ctx, "sendMessage", line)
		if err != nil {
			return err
		}
		t.liveMessageID = result
		t.buffer.Reset()
		t.buffer.WriteString(line)
		return nil
	}

	if err := t.editWithRetry(ctx, candidate); err != nil {
		return err
	}
	t.buffer.Reset()
	t.buffer.WriteString(candidate)
	return nil
}

func (t *Turn) sendWithRetry(ctx context.Context, method, text string) (int, error) {
	for attempt := 0; attempt < MaxRetryAttempts; attempt++ {
		result, err := t.client.SendMessage(ctx, t.chatID, text)
		if err == nil {
			return result.MessageID, nil
		}
		if !t.retryIfRateLimited(ctx, method, err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("delivery: exceeded %d retry attempts for %s", MaxRetryAttempts, method)
}

func (t *Turn) editWithRetry(ctx context.Context, text string) error {
	for attempt := 0; attempt < MaxRetryAttempts; attempt++ {
		err := t.client.EditMessageText(ctx, t.chatID, t.liveMessageID, text)
		if err == nil {
			return nil
		}
		if !t.retryIfRateLimited(ctx, "editMessageText", err) {
			return err
		}
	}
	return fmt.Errorf("delivery: exceeded %d retry attempts for editMessageText", MaxRetryAttempts)
}

// retryIfRateLimited sleeps retry_after and returns true when err is a
// RateLimitError (signalling the caller should retry the same call); it
// returns false for any other error, including nil-ness already handled by
// the caller.
func (t *Turn) retryIfRateLimited(ctx context.Context, method string, err error) bool {
	rl, ok := err.(*platform.RateLimitError)
	if !ok {
		return false
	}
	if t.onRetry != nil {
		t.onRetry(method)
	}
	t.logger.Warn("delivery rate limited", "method", method, "retry_after", rl.RetryAfter, "chat_id", t.chatID)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(rl.RetryAfter) * time.Second):
		return true
	}
}

// Skip advances the expected sequence counter for an event that carries no
// renderable body (e.g. command_started/command_completed/bridge_status),
// without sending or editing any platform message. Callers must still call
// Skip for such events, or the next Append call's seq will no longer match
// nextExpected and panic.
func (t *Turn) Skip(seq int64) {
	if seq != t.nextExpected {
		panic(fmt.Sprintf("delivery: out-of-order skip: got seq %d, expected %d", seq, t.nextExpected))
	}
	t.nextExpected++
}

// LiveMessageID returns the id of the message currently being appended to,
// 0 if no event has been delivered yet.
func (t *Turn) LiveMessageID() int { return t.liveMessageID }

// SendArtifact forwards an adapter artifact (spec §4.6 step 7) through the
// platform's photo or document primitive, retrying on 429 like any other
// send. A non-429 failure is returned to the caller, which is responsible
// for persisting the synthetic delivery_error CliEvent and continuing the
// run rather than aborting it.
func (t *Turn) SendArtifact(ctx context.Context, path, caption string, isImage bool) error {
	method := "sendDocument"
	send := t.client.SendDocument
	if isImage {
		method = "sendPhoto"
		send = t.client.SendPhoto
	}
	for attempt := 0; attempt < MaxRetryAttempts; attempt++ {
		err := send(ctx, t.chatID, path, caption)
		if err == nil {
			return nil
		}
		if !t.retryIfRateLimited(ctx, method, err) {
			return err
		}
	}
	return fmt.Errorf("delivery: exceeded %d retry attempts for %s", MaxRetryAttempts, method)
}
