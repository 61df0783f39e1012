package store

import "time"

// JobStatus is the shared vocabulary for both queue tables' state machines.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusLeased    JobStatus = "leased"
	StatusInFlight  JobStatus = "in_flight"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

var updateJobTransitions = map[JobStatus]map[JobStatus]struct{}{
	StatusQueued: {StatusLeased: {}, StatusCancelled: {}},
	StatusLeased: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusQueued:    {}, // lease expiry reclaim
		StatusCancelled: {},
	},
	StatusFailed: {StatusQueued: {}}, // retry requeue
}

var runJobTransitions = map[JobStatus]map[JobStatus]struct{}{
	StatusQueued: {StatusLeased: {}, StatusCancelled: {}},
	StatusLeased: {
		StatusInFlight:  {},
		StatusQueued:    {}, // lease expiry reclaim
		StatusCancelled: {},
	},
	StatusInFlight: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
		StatusQueued:    {}, // lease expiry reclaim mid-run
	},
	StatusFailed: {StatusQueued: {}}, // retry requeue
}

func canTransition(table map[JobStatus]map[JobStatus]struct{}, from, to JobStatus) bool {
	if from == to {
		return true
	}
	next, ok := table[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// UpdateJobKind classifies what an inbound update turned out to be, decided
// by UpdateWorker's classification step.
type UpdateJobKind string

const (
	UpdateKindCommand  UpdateJobKind = "command"
	UpdateKindText     UpdateJobKind = "text"
	UpdateKindCallback UpdateJobKind = "callback"
	UpdateKindIgnore   UpdateJobKind = "ignore"
)

// UpdateJob is the ingress-side queue row (spec §3 UpdateJob).
type UpdateJob struct {
	ID             string
	BotID          string
	UpdateID       int64
	ChatID         int64
	FromUserID     int64
	Kind           UpdateJobKind
	Payload        string
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	LastError      string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	AvailableAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session is spec §3 Session: at most one 'active' row per (bot_id, chat_id).
type Session struct {
	ID               string
	BotID            string
	ChatID           int64
	Status           string // active|reset
	CurrentAgent     string
	AgentThreadID    string
	RollingSummary   string
	PreambleConsumed bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Turn is spec §3 Turn.
type Turn struct {
	ID            string
	SessionID     string
	BotID         string
	ChatID        int64
	Status        string // queued|in_flight|completed|failed|cancelled
	InputText     string
	AssistantText string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RunJob is spec §3 RunJob: at most one active-state row per (bot_id, chat_id).
type RunJob struct {
	ID              string
	TurnID          string
	BotID           string
	ChatID          int64
	Agent           string
	Status          JobStatus
	Attempts        int
	MaxAttempts     int
	LastError       string
	LeaseOwner      string
	LeaseExpiresAt  *time.Time
	AvailableAt     time.Time
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CliEvent is spec §3 CliEvent: (turn_id, seq) unique, seq from 1, strictly increasing.
type CliEvent struct {
	TurnID    string
	Seq       int64
	EventType string
	Body      string
	CreatedAt time.Time
}

// ActionToken is spec §3 ActionToken: opaque callback-button binding, 24h TTL.
type ActionToken struct {
	Token      string
	BotID      string
	ChatID     int64
	Action     string
	Payload    string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
