package mock_test

import (
	"context"
	"testing"

	"github.com/telecore/telecore/internal/platform"
	"github.com/telecore/telecore/internal/platform/mock"
)

func TestClient_SendMessage_AssignsIncreasingIDs(t *testing.T) {
	c := mock.New()
	ctx := context.Background()

	r1, err := c.SendMessage(ctx, 100, "one")
	if err != nil {
		t.Fatalf("send 1: %v", err)
	}
	r2, err := c.SendMessage(ctx, 100, "two")
	if err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if r2.MessageID <= r1.MessageID {
		t.Fatalf("expected increasing message ids, got %d then %d", r1.MessageID, r2.MessageID)
	}
}

func TestClient_RateLimitOnce_FiresOnlyOnce(t *testing.T) {
	c := mock.New()
	c.RateLimitOnce["sendMessage"] = 3
	ctx := context.Background()

	_, err := c.SendMessage(ctx, 1, "hi")
	var rl *platform.RateLimitError
	if err == nil {
		t.Fatal("expected rate limit error on first call")
	}
	if !asRateLimit(err, &rl) || rl.RetryAfter != 3 {
		t.Fatalf("expected RateLimitError with retry_after=3, got %v", err)
	}

	if _, err := c.SendMessage(ctx, 1, "hi again"); err != nil {
		t.Fatalf("expected second call to succeed, got %v", err)
	}
}

func asRateLimit(err error, out **platform.RateLimitError) bool {
	rl, ok := err.(*platform.RateLimitError)
	if ok {
		*out = rl
	}
	return ok
}

func TestClient_AnswerCallbackQuery_ExactlyOnceTracked(t *testing.T) {
	c := mock.New()
	ctx := context.Background()
	if err := c.AnswerCallbackQuery(ctx, "cb-1", "ok"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got := c.AckCount("cb-1"); got != 1 {
		t.Fatalf("expected 1 ack for cb-1, got %d", got)
	}
	if got := c.AckCount("cb-2"); got != 0 {
		t.Fatalf("expected 0 acks for cb-2, got %d", got)
	}
}
