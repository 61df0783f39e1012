package commands_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/telecore/telecore/internal/commands"
	"github.com/telecore/telecore/internal/platform/mock"
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

func newHandler(t *testing.T) (*commands.Handler, *mock.Client, *store.Store) {
	t.Helper()
	s := openTestStore(t)
	client := mock.New()
	bot := commands.Bot{
		ID:            "bot1",
		DefaultAgent:  "claude",
		AgentBinaries: map[string]string{"claude": "claude", "ghost": "definitely-not-a-real-binary"},
	}
	h := commands.New(bot, s, session.New(s), client, nil)
	return h, client, s
}

func TestHandleCommand_Help(t *testing.T) {
	h, _, _ := newHandler(t)
	reply, err := h.HandleCommand(context.Background(), 1, 1, "/help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(reply, "/new") {
		t.Fatalf("expected help text to list commands, got %q", reply)
	}
}

func TestHandleCommand_ModeWithoutArgShowsCurrent(t *testing.T) {
	h, _, _ := newHandler(t)
	reply, err := h.HandleCommand(context.Background(), 1, 1, "/mode")
	if err != nil {
		t.Fatalf("mode: %v", err)
	}
	if !strings.Contains(reply, "claude") {
		t.Fatalf("expected current agent in reply, got %q", reply)
	}
}

func TestHandleCommand_ModeSwitchesAgent(t *testing.T) {
	h, _, s := newHandler(t)
	ctx := context.Background()
	reply, err := h.HandleCommand(ctx, 1, 1, "/mode ghost")
	if err != nil {
		t.Fatalf("mode switch: %v", err)
	}
	if !strings.Contains(reply, "ghost") {
		t.Fatalf("expected switch confirmation, got %q", reply)
	}
	sess, err := s.GetOrCreateActiveSession(ctx, "bot1", 1, "claude")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.CurrentAgent != "ghost" {
		t.Fatalf("expected agent to be ghost, got %s", sess.CurrentAgent)
	}
}

func TestHandleCommand_Providers_ReportsMissingBinary(t *testing.T) {
	h, _, _ := newHandler(t)
	reply, err := h.HandleCommand(context.Background(), 1, 1, "/providers")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if !strings.Contains(reply, "ghost: missing") {
		t.Fatalf("expected ghost reported missing, got %q", reply)
	}
}

func TestHandleCommand_YouTube_BuildsSearchURL(t *testing.T) {
	h, _, _ := newHandler(t)
	reply, err := h.HandleCommand(context.Background(), 1, 1, "/yt golang concurrency")
	if err != nil {
		t.Fatalf("yt: %v", err)
	}
	if !strings.Contains(reply, "youtube.com/results?search_query=golang") {
		t.Fatalf("expected a youtube search url, got %q", reply)
	}
}

func TestDetectYouTubeIntent(t *testing.T) {
	query, ok := commands.DetectYouTubeIntent("Find me a video of otters")
	if !ok {
		t.Fatal("expected intent to be detected")
	}
	if query != "otters" {
		t.Fatalf("expected query %q, got %q", "otters", query)
	}

	if _, ok := commands.DetectYouTubeIntent("what's the weather"); ok {
		t.Fatal("expected no intent match")
	}
}

func TestHandleCallback_InvalidTokenStillAcks(t *testing.T) {
	h, client, _ := newHandler(t)
	acked, err := h.HandleCallback(context.Background(), 1, "cb1", "not-a-real-token")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !acked {
		t.Fatal("expected callback to be acked even for an invalid token")
	}
	if client.AckCount("cb1") != 1 {
		t.Fatalf("expected exactly one ack, got %d", client.AckCount("cb1"))
	}
}

func TestHandleCallback_ValidStopToken(t *testing.T) {
	h, client, s := newHandler(t)
	ctx := context.Background()

	token, err := s.CreateActionToken(ctx, "bot1", 1, commands.ActionStop, "")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	acked, err := h.HandleCallback(ctx, 1, "cb2", token)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !acked {
		t.Fatal("expected callback to be acked")
	}
	if client.AckCount("cb2") != 1 {
		t.Fatalf("expected exactly one ack, got %d", client.AckCount("cb2"))
	}
}
