package runworker_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/telecore/telecore/internal/adapter"
	"github.com/telecore/telecore/internal/adapter/mock"
	platformmock "github.com/telecore/telecore/internal/platform/mock"
	"github.com/telecore/telecore/internal/runworker"
	"github.com/telecore/telecore/internal/session"
	"github.com/telecore/telecore/internal/store"
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

func TestWorker_SuccessfulRunCompletesTurnAndRunJob(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sessions := session.New(s)
	client := platformmock.New()

	sess, err := sessions.GetOrCreateActive(ctx, "bot1", 1, "claude")
	if err != nil {
		t.Fatalf("get active session: %v", err)
	}
	turnID, err := s.CreateTurn(ctx, sess.ID, "bot1", 1, "hello")
	if err != nil {
		t.Fatalf("create turn: %v", err)
	}
	if err := s.CreateRunJob(ctx, "run1", turnID, "bot1", 1, "claude"); err != nil {
		t.Fatalf("create run job: %v", err)
	}

	registry := adapter.Registry{"claude": mock.New(mock.SuccessScript("thread-1", "hi there")...)}

	w := runworker.New(runworker.Config{
		BotID:        "bot1",
		LeaseTTL:     time.Second,
		PollInterval: time.Millisecond,
		RunTimeout:   5 * time.Second,
		LeaseOwner:   "worker-1",
	}, s, sessions, registry, client, nil)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	turn, err := s.GetTurn(ctx, turnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if turn.Status != "completed" {
		t.Fatalf("expected turn completed, got %s", turn.Status)
	}

	job, err := s.GetRunJob(ctx, "run1")
	if err != nil {
		t.Fatalf("get run job: %v", err)
	}
	if job.Status != store.StatusCompleted {
		t.Fatalf("expected run job completed, got %s", job.Status)
	}

	updated, err := sessions.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if updated.AgentThreadID != "thread-1" {
		t.Fatalf("expected agent_thread_id persisted as thread-1, got %q", updated.AgentThreadID)
	}
}

func TestWorker_AdapterErrorFailsRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sessions := session.New(s)
	client := platformmock.New()

	sess, err := sessions.GetOrCreateActive(ctx, "bot1", 1, "claude")
	if err != nil {
		t.Fatalf("get active session: %v", err)
	}
	turnID, err := s.CreateTurn(ctx, sess.ID, "bot1", 1, "hello")
	if err != nil {
		t.Fatalf("create turn: %v", err)
	}
	if err := s.CreateRunJob(ctx, "run1", turnID, "bot1", 1, "claude"); err != nil {
		t.Fatalf("create run job: %v", err)
	}

	registry := adapter.Registry{"claude": mock.New(mock.ErrorScript("boom")...)}

	w := runworker.New(runworker.Config{
		BotID:        "bot1",
		LeaseTTL:     time.Second,
		PollInterval: time.Millisecond,
		RunTimeout:   5 * time.Second,
		LeaseOwner:   "worker-1",
	}, s, sessions, registry, client, nil)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	job, err := s.GetRunJob(ctx, "run1")
	if err != nil {
		t.Fatalf("get run job: %v", err)
	}
	if job.Status != store.StatusFailed && job.Status != store.StatusQueued {
		t.Fatalf("expected run job failed or requeued, got %s", job.Status)
	}
}
