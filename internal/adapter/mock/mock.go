// Package mock implements adapter.Adapter in memory for tests: each Start
// call replays a pre-scripted event sequence instead of spawning a process.
package mock

import (
	"context"
	"sync"

	"github.com/telecore/telecore/internal/adapter"
)

// Adapter replays Script for every Start call, regardless of agent name,
// unless a per-agent script is registered via Scripts.
type Adapter struct {
	mu      sync.Mutex
	Script  []adapter.Event
	Scripts map[string][]adapter.Event
	Starts  []StartCall
}

// StartCall records one invocation of Start, for assertions on what
// RunWorker actually requested.
type StartCall struct {
	Agent      string
	Input      string
	SessionCtx adapter.Context
}

// New creates an Adapter that replays the given default script.
func New(script ...adapter.Event) *Adapter {
	return &Adapter{Script: script, Scripts: make(map[string][]adapter.Event)}
}

func (a *Adapter) Start(ctx context.Context, agent, input string, sessionCtx adapter.Context) (adapter.Stream, error) {
	a.mu.Lock()
	a.Starts = append(a.Starts, StartCall{Agent: agent, Input: input, SessionCtx: sessionCtx})
	script := a.Script
	if s, ok := a.Scripts[agent]; ok {
		script = s
	}
	a.mu.Unlock()

	return &stream{events: script}, nil
}

type stream struct {
	events []adapter.Event
	pos    int
}

func (s *stream) Next(ctx context.Context) (adapter.Event, bool, error) {
	if s.pos >= len(s.events) {
		return adapter.Event{}, false, nil
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true, nil
}

func (s *stream) Close() error { return nil }

// SuccessScript builds the common happy-path sequence: thread_started,
// one assistant_message, then turn_completed(success).
func SuccessScript(threadID, reply string) []adapter.Event {
	return []adapter.Event{
		{Type: adapter.EventThreadStarted, ThreadID: threadID},
		{Type: adapter.EventAssistantMessage, Body: reply},
		{Type: adapter.EventTurnCompleted, TurnStatus: adapter.TurnSuccess},
	}
}

// ErrorScript builds a single turn_completed(error) event sequence.
func ErrorScript(reason string) []adapter.Event {
	return []adapter.Event{
		{Type: adapter.EventTurnCompleted, TurnStatus: adapter.TurnError, Reason: reason},
	}
}

