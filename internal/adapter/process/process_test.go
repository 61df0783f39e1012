package process_test

import (
	"context"
	"testing"

	"github.com/telecore/telecore/internal/adapter"
	"github.com/telecore/telecore/internal/adapter/process"
)

func TestAdapter_UnknownAgent_YieldsErrorEvent(t *testing.T) {
	a := process.New(process.Binaries{})
	stream, err := a.Start(context.Background(), "ghost", "hi", adapter.Context{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stream.Close()

	ev, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected one event, got ok=%v err=%v", ok, err)
	}
	if ev.Type != adapter.EventTurnCompleted || ev.TurnStatus != adapter.TurnError {
		t.Fatalf("expected turn_completed(error), got %+v", ev)
	}

	_, ok, _ = stream.Next(context.Background())
	if ok {
		t.Fatal("expected stream to end after the single error event")
	}
}

func TestAdapter_MissingBinary_YieldsErrorEvent(t *testing.T) {
	a := process.New(process.Binaries{"claude": "this-binary-does-not-exist-anywhere"})
	stream, err := a.Start(context.Background(), "claude", "hi", adapter.Context{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stream.Close()

	ev, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected one event, got ok=%v err=%v", ok, err)
	}
	if ev.Type != adapter.EventTurnCompleted || ev.TurnStatus != adapter.TurnError || ev.Reason != "executable not found" {
		t.Fatalf("expected executable-not-found error event, got %+v", ev)
	}
}
