// Package session implements SessionService (spec §4.5): creating and
// resetting sessions, switching agents, and maintaining the rolling summary
// via a deterministic, rule-based compactor (see summarize.go).
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/telecore/telecore/internal/store"
)

// ErrSwitchDuringActiveRun is returned by SwitchAgent when a RunJob is
// currently queued, leased, or in flight for this chat (spec §4.5).
var ErrSwitchDuringActiveRun = errors.New("cannot switch agent while a run is active")

// Service wraps the Store with SessionService's higher-level operations.
type Service struct {
	store *store.Store
}

// New creates a Service over the given store.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// GetOrCreateActive implements spec §4.5 get_or_create_active.
func (svc *Service) GetOrCreateActive(ctx context.Context, botID string, chatID int64, defaultAgent string) (*store.Session, error) {
	return svc.store.GetOrCreateActiveSession(ctx, botID, chatID, defaultAgent)
}

// Reset implements spec §4.5 reset: retire the active session and create a
// fresh one carrying forward the rolling summary.
func (svc *Service) Reset(ctx context.Context, sessionID string) (*store.Session, error) {
	return svc.store.ResetSession(ctx, sessionID)
}

// SwitchAgent implements spec §4.5 switch_agent, including the
// active-run-forbidden check the store layer trusts its caller to make.
func (svc *Service) SwitchAgent(ctx context.Context, botID string, chatID int64, sessionID, newAgent string) error {
	active, err := svc.store.ActiveRunJobForChat(ctx, botID, chatID)
	if err != nil {
		return fmt.Errorf("check active run: %w", err)
	}
	if active != nil {
		return ErrSwitchDuringActiveRun
	}
	return svc.store.SwitchAgent(ctx, sessionID, newAgent)
}

// PreambleFor returns the preamble text RunWorker should prepend to the
// user's input, and whether this is the first turn to consume it: the
// rolling summary is injected exactly once after a reset/switch, per
// DESIGN.md's Open Question decision, and never again until the next reset
// or switch clears preamble_consumed.
func (svc *Service) PreambleFor(sess *store.Session) (preamble string, shouldMark bool) {
	if sess.PreambleConsumed || sess.RollingSummary == "" {
		return "", false
	}
	return "Prior conversation summary:\n" + sess.RollingSummary, true
}

// MarkPreambleConsumed flips the session's preamble flag once RunWorker has
// actually composed a turn using it.
func (svc *Service) MarkPreambleConsumed(ctx context.Context, sessionID string) error {
	return svc.store.MarkPreambleConsumed(ctx, sessionID)
}

// SetAgentThreadID persists the adapter-assigned thread id.
func (svc *Service) SetAgentThreadID(ctx context.Context, sessionID, threadID string) error {
	return svc.store.SetAgentThreadID(ctx, sessionID, threadID)
}

// AppendSummary implements spec §4.5 append_summary: produce the next
// rolling summary deterministically from (previous summary, user text,
// assistant text) and persist both the session's pointer and a
// SessionSummary snapshot.
func (svc *Service) AppendSummary(ctx context.Context, sess *store.Session, turnCount int, userText, assistantText string) (string, error) {
	next := Summarize(sess.RollingSummary, userText, assistantText, turnCount)
	if err := svc.store.AppendSummary(ctx, sess.ID, next, turnCount); err != nil {
		return "", fmt.Errorf("append summary: %w", err)
	}
	return next, nil
}

// GetByID loads a session by id.
func (svc *Service) GetByID(ctx context.Context, id string) (*store.Session, error) {
	return svc.store.GetSessionByID(ctx, id)
}
