package botruntime_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/telecore/telecore/internal/botruntime"
	"github.com/telecore/telecore/internal/config"
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

func TestRegistry_SkipsBotWithNoToken(t *testing.T) {
	s := openTestStore(t)
	cfg := config.Config{Bots: []config.BotEntry{{ID: "bot1"}}}
	reg := botruntime.NewRegistry(s, cfg)

	reg.StartAll(context.Background(), nil)

	if len(reg.BotIDs()) != 0 {
		t.Fatalf("expected no bots started without a token, got %v", reg.BotIDs())
	}
	reg.StopAll()
}

func TestRegistry_EmptyConfigIsNoop(t *testing.T) {
	s := openTestStore(t)
	reg := botruntime.NewRegistry(s, config.Config{})
	reg.StartAll(context.Background(), nil)
	reg.StopAll()
}
