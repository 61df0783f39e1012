// Package adapter defines the consumed contract spec §6 calls the "adapter
// interface": a function from (input, session context) to a lazy, finite
// sequence of typed events. RunWorker drives it; the process package
// supplies the one concrete implementation this repo ships.
package adapter

import "context"

// EventType enumerates the recognised adapter event types (spec §6).
type EventType string

const (
	EventThreadStarted    EventType = "thread_started"
	EventTurnStarted      EventType = "turn_started"
	EventReasoning        EventType = "reasoning"
	EventCommandStarted   EventType = "command_started"
	EventCommandCompleted EventType = "command_completed"
	EventBridgeStatus     EventType = "bridge_status"
	EventAssistantMessage EventType = "assistant_message"
	EventArtifact         EventType = "artifact"
	EventError            EventType = "error"
	EventTurnCompleted    EventType = "turn_completed"
)

// TurnStatus is the terminal status carried by a turn_completed event.
type TurnStatus string

const (
	TurnSuccess   TurnStatus = "success"
	TurnError     TurnStatus = "error"
	TurnCancelled TurnStatus = "cancelled"
)

// ArtifactKind distinguishes how DeliveryStreamer should forward an artifact.
type ArtifactKind string

const (
	ArtifactImage    ArtifactKind = "image"
	ArtifactDocument ArtifactKind = "document"
)

// Event is one item of the adapter's output sequence. Only the fields
// relevant to Type are populated; the rest are zero values.
type Event struct {
	Type EventType
	Body string // reasoning/assistant_message/bridge_status free text

	ThreadID string // thread_started

	TurnStatus TurnStatus // turn_completed
	Reason     string     // turn_completed(error)/error

	ArtifactPath string       // artifact
	ArtifactKind ArtifactKind // artifact
}

// Context carries what the adapter needs to resume a conversation: the
// prior agent-thread-id if any, and the preamble text to prepend to the
// user's input on the first turn after a reset/switch.
type Context struct {
	ThreadID string
	Preamble string
}

// Stream is the adapter's lazy finite event sequence: Next blocks until the
// next event is ready or the sequence ends (ok=false), mirroring a
// "next event or end" consumer interface. Close terminates the underlying
// process if one is still running (used for SIGTERM/SIGKILL cancellation).
type Stream interface {
	Next(ctx context.Context) (Event, bool, error)
	Close() error
}

// Adapter starts a run for the named agent and returns its event Stream.
// An Adapter that cannot start its binary must still return a Stream whose
// first and only event is turn_completed(status=error, reason="executable
// not found") rather than an error, so RunWorker's persistence path is
// uniform regardless of startup failure.
type Adapter interface {
	Start(ctx context.Context, agent, input string, sessionCtx Context) (Stream, error)
}

// Registry resolves an agent name to the Adapter that knows how to run it.
// Most deployments use one Adapter (the process package) for every agent
// name, but the interface stays keyed by name so a test double can be
// substituted per agent.
type Registry map[string]Adapter

// Resolve looks up the adapter for agent, falling back to the "default"
// entry if the exact name isn't registered.
func (r Registry) Resolve(agent string) (Adapter, bool) {
	if a, ok := r[agent]; ok {
		return a, true
	}
	a, ok := r["default"]
	return a, ok
}
