package updateworker_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/telecore/telecore/internal/commands"
	"github.com/telecore/telecore/internal/platform/mock"
	"github.com/telecore/telecore/internal/session"
	"github.com/telecore/telecore/internal/store"
	"github.com/telecore/telecore/internal/updateworker"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "telecore.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newWorker(t *testing.T, ownerID int64) (*updateworker.Worker, *store.Store, *mock.Client) {
	t.Helper()
	s := openTestStore(t)
	client := mock.New()
	sessions := session.New(s)
	cmdHandler := commands.New(commands.Bot{ID: "bot1", DefaultAgent: "claude"}, s, sessions, client, nil)
	w := updateworker.New(updateworker.Config{
		BotID:        "bot1",
		OwnerUserID:  ownerID,
		DefaultAgent: "claude",
		LeaseTTL:     time.Second,
		PollInterval: time.Millisecond,
		LeaseOwner:   "worker-1",
	}, s, sessions, cmdHandler, client, nil)
	return w, s, client
}

func TestWorker_TextCreatesTurnAndRunJob(t *testing.T) {
	w, s, _ := newWorker(t, 0)
	ctx := context.Background()

	_, _, err := s.AcceptUpdate(ctx, "bot1", 1, 42, 42, store.UpdateKindText, "hello there")
	if err != nil {
		t.Fatalf("accept update: %v", err)
	}

	run(ctx, w, t)

	active, err := s.ActiveRunJobForChat(ctx, "bot1", 42)
	if err != nil {
		t.Fatalf("active run job for chat: %v", err)
	}
	if active == nil {
		t.Fatal("expected a run job to have been created")
	}
}

func TestWorker_NonOwnerDenied(t *testing.T) {
	w, s, client := newWorker(t, 999)
	ctx := context.Background()

	_, _, err := s.AcceptUpdate(ctx, "bot1", 1, 42, 1, store.UpdateKindText, "hi")
	if err != nil {
		t.Fatalf("accept update: %v", err)
	}

	run(ctx, w, t)

	if len(client.Sent) != 1 {
		t.Fatalf("expected exactly one denial message, got %+v", client.Sent)
	}
}

func TestWorker_CommandDispatchesToCommandHandler(t *testing.T) {
	w, s, client := newWorker(t, 0)
	ctx := context.Background()

	_, _, err := s.AcceptUpdate(ctx, "bot1", 1, 42, 42, store.UpdateKindCommand, "/help")
	if err != nil {
		t.Fatalf("accept update: %v", err)
	}

	run(ctx, w, t)

	if len(client.Sent) != 1 {
		t.Fatalf("expected a help reply, got %+v", client.Sent)
	}
}

// run lets Worker.Run drain the queue for a short window, then stops it.
func run(ctx context.Context, w *updateworker.Worker, t *testing.T) {
	t.Helper()
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := w.Run(runCtx); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Fatalf("run: %v", err)
	}
}
