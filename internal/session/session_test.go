package session_test

import (
	"context"
	"path/filepath"
	"testing"

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

func TestService_GetOrCreateActive_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := session.New(openTestStore(t))

	s1, err := svc.GetOrCreateActive(ctx, "bot1", 100, "claude")
	if err != nil {
		t.Fatalf("first get_or_create: %v", err)
	}
	s2, err := svc.GetOrCreateActive(ctx, "bot1", 100, "claude")
	if err != nil {
		t.Fatalf("second get_or_create: %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("expected the same active session, got %s and %s", s1.ID, s2.ID)
	}
}

func TestService_Reset_PreservesRollingSummary(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	svc := session.New(st)

	sess, err := svc.GetOrCreateActive(ctx, "bot1", 100, "claude")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if err := st.AppendSummary(ctx, sess.ID, "a summary of prior turns", 1); err != nil {
		t.Fatalf("append summary: %v", err)
	}
	sess, err = svc.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}

	reset, err := svc.Reset(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.RollingSummary != "a summary of prior turns" {
		t.Fatalf("expected rolling summary carried forward, got %q", reset.RollingSummary)
	}
	if reset.PreambleConsumed {
		t.Fatalf("expected preamble_consumed cleared on a fresh session")
	}
}

func TestService_PreambleFor_OnlyFirstTurn(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	svc := session.New(st)

	sess, _ := svc.GetOrCreateActive(ctx, "bot1", 100, "claude")
	_ = st.AppendSummary(ctx, sess.ID, "previous context", 1)
	sess, _ = svc.GetByID(ctx, sess.ID)

	preamble, shouldMark := svc.PreambleFor(sess)
	if preamble == "" || !shouldMark {
		t.Fatalf("expected a preamble to inject on first post-summary turn")
	}

	if err := svc.MarkPreambleConsumed(ctx, sess.ID); err != nil {
		t.Fatalf("mark consumed: %v", err)
	}
	sess, _ = svc.GetByID(ctx, sess.ID)
	preamble2, shouldMark2 := svc.PreambleFor(sess)
	if preamble2 != "" || shouldMark2 {
		t.Fatalf("expected no preamble after it has been consumed once")
	}
}

func TestService_SwitchAgent_ForbiddenDuringActiveRun(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	svc := session.New(st)

	sess, err := svc.GetOrCreateActive(ctx, "bot1", 100, "claude")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	turnID, err := st.CreateTurn(ctx, sess.ID, "bot1", 100, "hello")
	if err != nil {
		t.Fatalf("create turn: %v", err)
	}
	if err := st.CreateRunJob(ctx, "run-1", turnID, "bot1", 100, "claude"); err != nil {
		t.Fatalf("create run job: %v", err)
	}

	if err := svc.SwitchAgent(ctx, "bot1", 100, sess.ID, "gemini"); err != session.ErrSwitchDuringActiveRun {
		t.Fatalf("expected ErrSwitchDuringActiveRun, got %v", err)
	}
}
