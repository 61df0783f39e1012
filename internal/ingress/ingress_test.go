package ingress_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/telecore/telecore/internal/ingress"
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

const sampleUpdate = `{"update_id":1,"message":{"message_id":1,"from":{"id":42},"chat":{"id":42},"text":"hello"}}`

func TestWebhookHandler_WrongPathSecretRejected(t *testing.T) {
	s := openTestStore(t)
	ing := ingress.New(ingress.Bot{ID: "bot1", WebhookPathSecret: "correct"}, s, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /telegram/webhook/{bot_id}/{path_secret}", ing.WebhookHandler())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook/bot1/wrong", strings.NewReader(sampleUpdate))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookHandler_AcceptsValidUpdate(t *testing.T) {
	s := openTestStore(t)
	ing := ingress.New(ingress.Bot{ID: "bot1", WebhookPathSecret: "correct"}, s, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /telegram/webhook/{bot_id}/{path_secret}", ing.WebhookHandler())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook/bot1/correct", strings.NewReader(sampleUpdate))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
