package mock_test

import (
	"context"
	"testing"

	"github.com/telecore/telecore/internal/adapter"
	"github.com/telecore/telecore/internal/adapter/mock"
)

func TestAdapter_ReplaysScript(t *testing.T) {
	a := mock.New(mock.SuccessScript("thread-1", "hello there")...)
	stream, err := a.Start(context.Background(), "claude", "hi", adapter.Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var got []adapter.EventType
	for {
		ev, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, ev.Type)
	}

	want := []adapter.EventType{adapter.EventThreadStarted, adapter.EventAssistantMessage, adapter.EventTurnCompleted}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if len(a.Starts) != 1 || a.Starts[0].Agent != "claude" {
		t.Fatalf("expected one recorded start for claude, got %+v", a.Starts)
	}
}

func TestAdapter_PerAgentScriptOverridesDefault(t *testing.T) {
	a := mock.New(mock.ErrorScript("default failure")...)
	a.Scripts["gemini"] = mock.SuccessScript("thread-2", "ok")

	stream, _ := a.Start(context.Background(), "gemini", "hi", adapter.Context{})
	ev, ok, _ := stream.Next(context.Background())
	if !ok || ev.Type != adapter.EventThreadStarted {
		t.Fatalf("expected gemini's overridden script to run first, got %+v", ev)
	}
}
