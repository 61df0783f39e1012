package delivery_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/telecore/telecore/internal/delivery"
	"github.com/telecore/telecore/internal/platform/mock"
)

func TestTurn_FirstAppendSendsNewMessage(t *testing.T) {
	client := mock.New()
	turn := delivery.NewTurn(client, 100)

	if err := turn.Append(context.Background(), 1, time.Now(), "reasoning", "thinking..."); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(client.Sent) != 1 || client.Sent[0].Method != "sendMessage" {
		t.Fatalf("expected one sendMessage call, got %+v", client.Sent)
	}
	if turn.LiveMessageID() == 0 {
		t.Fatalf("expected a live message id to be assigned")
	}
}

func TestTurn_SubsequentAppendsEditInPlace(t *testing.T) {
	client := mock.New()
	turn := delivery.NewTurn(client, 100)
	ctx := context.Background()

	if err := turn.Append(ctx, 1, time.Now(), "reasoning", "step one"); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := turn.Append(ctx, 2, time.Now(), "assistant_message", "step two"); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	if len(client.Sent) != 2 {
		t.Fatalf("expected send then edit, got %d calls: %+v", len(client.Sent), client.Sent)
	}
	if client.Sent[1].Method != "editMessageText" {
		t.Fatalf("expected second call to be an edit, got %s", client.Sent[1].Method)
	}
	if !strings.Contains(client.Sent[1].Text, "step one") || !strings.Contains(client.Sent[1].Text, "step two") {
		t.Fatalf("expected edit to contain both lines, got %q", client.Sent[1].Text)
	}
}

func TestTurn_ExceedsCapStartsContinuation(t *testing.T) {
	client := mock.New()
	turn := delivery.NewTurn(client, 100, delivery.WithCap(40))
	ctx := context.Background()

	if err := turn.Append(ctx, 1, time.Now(), "reasoning", "short"); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	firstID := turn.LiveMessageID()
	if err := turn.Append(ctx, 2, time.Now(), "reasoning", "this line is long enough to exceed the tiny cap"); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if turn.LiveMessageID() == firstID {
		t.Fatalf("expected a new live message once the cap was exceeded")
	}

	var sendCount int
	for _, s := range client.Sent {
		if s.Method == "sendMessage" {
			sendCount++
		}
	}
	if sendCount != 2 {
		t.Fatalf("expected two sendMessage calls (one per message), got %d", sendCount)
	}
}

func TestTurn_RateLimitRetries(t *testing.T) {
	client := mock.New()
	client.RateLimitOnce["sendMessage"] = 0 // retry_after=0, no real sleep

	var retried string
	turn := delivery.NewTurn(client, 100, delivery.WithRateLimitRetryHook(func(method string) { retried = method }))

	if err := turn.Append(context.Background(), 1, time.Now(), "reasoning", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if retried != "sendMessage" {
		t.Fatalf("expected retry hook to fire for sendMessage, got %q", retried)
	}
}

func TestTurn_OutOfOrderAppendPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-order append")
		}
	}()
	client := mock.New()
	turn := delivery.NewTurn(client, 100)
	_ = turn.Append(context.Background(), 2, time.Now(), "reasoning", "skipped seq 1")
}
