// Package runworker implements RunWorker (spec §4.6): leasing a RunJob,
// driving its adapter's event stream to completion while persisting and
// delivering every event in order, and finalizing the Turn/Session/RunJob
// trio on success, cancellation, or failure.
package runworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/telecore/telecore/internal/adapter"
	"github.com/telecore/telecore/internal/bus"
	"github.com/telecore/telecore/internal/delivery"
	"github.com/telecore/telecore/internal/platform"
	"github.com/telecore/telecore/internal/session"
	"github.com/telecore/telecore/internal/store"
)

// Config configures one bot's RunWorker loop.
type Config struct {
	BotID        string
	LeaseTTL     time.Duration
	PollInterval time.Duration
	RunTimeout   time.Duration
	LeaseOwner   string
	// Bus receives run/turn/delivery lifecycle events as a secondary,
	// best-effort observability transport. Defaults to a private bus with
	// no subscribers if left nil.
	Bus *bus.Bus
}

// Worker runs the claim/execute/finalize loop for one bot's RunJobs.
type Worker struct {
	cfg      Config
	store    *store.Store
	sessions *session.Service
	registry adapter.Registry
	client   platform.Client
	logger   *slog.Logger
	bus      *bus.Bus
}

// New creates a RunWorker for one bot.
func New(cfg Config, s *store.Store, sessions *session.Service, registry adapter.Registry, client platform.Client, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 900 * time.Second
	}
	eventBus := cfg.Bus
	if eventBus == nil {
		eventBus = bus.New()
	}
	return &Worker{cfg: cfg, store: s, sessions: sessions, registry: registry, client: client, logger: logger, bus: eventBus}
}

// Run polls for queued run jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for w.claimAndExecuteOne(ctx) {
			}
		}
	}
}

func (w *Worker) claimAndExecuteOne(ctx context.Context) bool {
	job, err := w.store.ClaimNextRunJob(ctx, w.cfg.BotID, w.cfg.LeaseOwner, w.cfg.LeaseTTL)
	if err != nil {
		w.logger.Error("claim run job", "bot_id", w.cfg.BotID, "error", err)
		return false
	}
	if job == nil {
		return false
	}
	w.execute(ctx, job)
	return true
}

// execute drives one run job to a terminal state. Errors are logged and
// reflected in the job/turn status; execute itself never returns one, since
// the loop must continue to the next job regardless of how this one ended.
// A panic anywhere in the call tree below is caught here and treated as a
// failed attempt rather than crashing the worker loop.
func (w *Worker) execute(ctx context.Context, job *store.RunJob) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("run worker panicked", "run_job_id", job.ID, "recover", r)
			w.fail(ctx, job, fmt.Errorf("panic: %v", r), job.Attempts+1 < job.MaxAttempts)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	if err := w.store.StartRunJob(runCtx, job.ID, w.cfg.LeaseOwner); err != nil {
		w.logger.Error("start run job", "run_job_id", job.ID, "error", err)
		return
	}
	if err := w.store.SetTurnStatus(runCtx, job.TurnID, "in_flight", ""); err != nil {
		w.logger.Warn("set turn in_flight", "turn_id", job.TurnID, "error", err)
	}
	w.bus.Publish(bus.TopicRunStarted, bus.RunEvent{
		RunJobID: job.ID, TurnID: job.TurnID, BotID: w.cfg.BotID, ChatID: job.ChatID, Agent: job.Agent, Status: "started",
	})

	turn, err := w.store.GetTurn(runCtx, job.TurnID)
	if err != nil {
		w.fail(runCtx, job, fmt.Errorf("load turn: %w", err), false)
		return
	}
	sess, err := w.sessions.GetByID(runCtx, turn.SessionID)
	if err != nil {
		w.fail(runCtx, job, fmt.Errorf("load session: %w", err), false)
		return
	}

	a, ok := w.registry.Resolve(job.Agent)
	if !ok {
		w.fail(runCtx, job, fmt.Errorf("no adapter registered for agent %q", job.Agent), false)
		return
	}

	preamble, shouldMark := w.sessions.PreambleFor(sess)
	sessionCtx := adapter.Context{ThreadID: sess.AgentThreadID, Preamble: preamble}

	stream, err := a.Start(runCtx, job.Agent, turn.InputText, sessionCtx)
	if err != nil {
		w.fail(runCtx, job, fmt.Errorf("start adapter: %w", err), true)
		return
	}
	if shouldMark {
		if err := w.sessions.MarkPreambleConsumed(runCtx, sess.ID); err != nil {
			w.logger.Warn("mark preamble consumed", "session_id", sess.ID, "error", err)
		}
	}

	w.drive(runCtx, job, turn, sess, stream)
}

// drive reads the adapter's event stream to completion, persisting and
// delivering every event in seq order, stopping early on cooperative
// cancellation, and finalizing the run/turn/session on the way out.
func (w *Worker) drive(ctx context.Context, job *store.RunJob, turn *store.Turn, sess *store.Session, stream adapter.Stream) {
	delTurn := delivery.NewTurn(w.client, job.ChatID, delivery.WithLogger(w.logger), delivery.WithRateLimitRetryHook(func(method string) {
		_ = w.store.IncrCounter(ctx, w.cfg.BotID, "telegram_rate_limit_retry."+method, 1)
		w.bus.Publish(bus.TopicDeliveryRateLimited, bus.DeliveryEvent{
			BotID:  w.cfg.BotID,
			ChatID: job.ChatID,
			Method: method,
		})
	}))

	heartbeatStop := w.startHeartbeat(ctx, job.ID)
	defer heartbeatStop()

	var assistantText strings.Builder
	var finalStatus adapter.TurnStatus = adapter.TurnError
	var finalReason string
	threadID := sess.AgentThreadID

streamLoop:
	for {
		if cancelled, err := w.store.IsCancelRequested(ctx, job.ID); err == nil && cancelled {
			_ = stream.Close()
			finalStatus = adapter.TurnCancelled
			finalReason = "cancelled by user"
			w.persistSynthetic(ctx, turn.ID, "turn_completed", "cancelled")
			break streamLoop
		}

		ev, ok, err := stream.Next(ctx)
		if err != nil {
			finalReason = err.Error()
			w.persistSynthetic(ctx, turn.ID, "error", finalReason)
			break streamLoop
		}
		if !ok {
			break streamLoop
		}

		w.persistAndDeliver(ctx, delTurn, turn.ID, job.ChatID, ev)

		switch ev.Type {
		case adapter.EventThreadStarted:
			threadID = ev.ThreadID
		case adapter.EventAssistantMessage:
			assistantText.WriteString(ev.Body)
		case adapter.EventTurnCompleted:
			finalStatus = ev.TurnStatus
			finalReason = ev.Reason
			break streamLoop
		}
	}

	w.finalize(ctx, job, turn, sess, finalStatus, finalReason, assistantText.String(), threadID)
}

func (w *Worker) persistAndDeliver(ctx context.Context, delTurn *delivery.Turn, turnID string, chatID int64, ev adapter.Event) {
	body := ev.Body
	if ev.Type == adapter.EventTurnCompleted {
		body = string(ev.TurnStatus)
		if ev.Reason != "" {
			body += ": " + ev.Reason
		}
	} else if ev.Type == adapter.EventError {
		body = ev.Reason
	} else if ev.Type == adapter.EventThreadStarted {
		body = ev.ThreadID
	}

	seq, err := w.store.AppendCliEvent(ctx, turnID, string(ev.Type), body)
	if err != nil {
		w.logger.Error("append cli event", "turn_id", turnID, "error", err)
		return
	}

	if ev.Type == adapter.EventArtifact {
		delTurn.Skip(seq)
		if err := delTurn.SendArtifact(ctx, ev.ArtifactPath, ev.Body, ev.ArtifactKind == adapter.ArtifactImage); err != nil {
			w.logger.Error("send artifact", "turn_id", turnID, "error", err)
			_, _ = w.store.AppendCliEvent(ctx, turnID, "delivery_error", err.Error())
			w.bus.Publish(bus.TopicDeliveryError, bus.DeliveryEvent{
				BotID:  w.cfg.BotID,
				ChatID: chatID,
				Method: "send_artifact",
				Err:    err.Error(),
			})
		}
		return
	}
	if body == "" {
		// command_started/command_completed/bridge_status and similar events
		// carry no renderable text; the seq counter still advances so the
		// next Append call's seq lines up with delivery's expectation.
		delTurn.Skip(seq)
		return
	}
	if err := delTurn.Append(ctx, seq, time.Now(), string(ev.Type), body); err != nil {
		w.logger.Error("deliver event", "turn_id", turnID, "error", err)
	}
}

func (w *Worker) persistSynthetic(ctx context.Context, turnID, eventType, body string) {
	if _, err := w.store.AppendCliEvent(ctx, turnID, eventType, body); err != nil {
		w.logger.Error("append synthetic cli event", "turn_id", turnID, "error", err)
	}
}

func (w *Worker) finalize(ctx context.Context, job *store.RunJob, turn *store.Turn, sess *store.Session, status adapter.TurnStatus, reason, assistantText, threadID string) {
	switch status {
	case adapter.TurnSuccess:
		if err := w.store.SetTurnStatus(ctx, turn.ID, "completed", assistantText); err != nil {
			w.logger.Error("set turn completed", "turn_id", turn.ID, "error", err)
		}
		if threadID != "" && threadID != sess.AgentThreadID {
			if err := w.sessions.SetAgentThreadID(ctx, sess.ID, threadID); err != nil {
				w.logger.Warn("set agent thread id", "session_id", sess.ID, "error", err)
			}
		}
		turnCount, err := w.store.CountTurns(ctx, sess.ID)
		if err != nil {
			w.logger.Warn("count turns", "session_id", sess.ID, "error", err)
			turnCount = 1
		}
		if _, err := w.sessions.AppendSummary(ctx, sess, turnCount, turn.InputText, assistantText); err != nil {
			w.logger.Warn("append summary", "session_id", sess.ID, "error", err)
		}
		if err := w.store.CompleteRunJob(ctx, job.ID, w.cfg.LeaseOwner); err != nil {
			w.logger.Error("complete run job", "run_job_id", job.ID, "error", err)
		}
		_ = w.store.IncrCounter(ctx, w.cfg.BotID, "runs_completed", 1)
		w.bus.Publish(bus.TopicRunCompleted, bus.RunEvent{
			RunJobID: job.ID, TurnID: turn.ID, BotID: w.cfg.BotID, ChatID: job.ChatID, Agent: job.Agent, Status: "completed",
		})
		w.bus.Publish(bus.TopicTurnCompleted, bus.TurnEvent{
			TurnID: turn.ID, SessionID: sess.ID, BotID: w.cfg.BotID, ChatID: job.ChatID, Status: "completed",
		})
	case adapter.TurnCancelled:
		if err := w.store.SetTurnStatus(ctx, turn.ID, "cancelled", assistantText); err != nil {
			w.logger.Error("set turn cancelled", "turn_id", turn.ID, "error", err)
		}
		if err := w.store.CancelRunJob(ctx, job.ID, w.cfg.LeaseOwner); err != nil {
			w.logger.Error("cancel run job", "run_job_id", job.ID, "error", err)
		}
		_ = w.store.IncrCounter(ctx, w.cfg.BotID, "runs_cancelled", 1)
		w.bus.Publish(bus.TopicRunCancelled, bus.RunEvent{
			RunJobID: job.ID, TurnID: turn.ID, BotID: w.cfg.BotID, ChatID: job.ChatID, Agent: job.Agent, Status: "cancelled", Reason: reason,
		})
	default:
		w.fail(ctx, job, errors.New(reason), job.Attempts+1 < job.MaxAttempts)
		if err := w.store.SetTurnStatus(ctx, turn.ID, "failed", assistantText); err != nil {
			w.logger.Error("set turn failed", "turn_id", turn.ID, "error", err)
		}
		w.bus.Publish(bus.TopicTurnFailed, bus.TurnEvent{
			TurnID: turn.ID, SessionID: sess.ID, BotID: w.cfg.BotID, ChatID: job.ChatID, Status: "failed",
		})
	}
}

func (w *Worker) fail(ctx context.Context, job *store.RunJob, cause error, retry bool) {
	w.logger.Warn("run job failed", "run_job_id", job.ID, "error", cause)
	if err := w.store.FailRunJob(ctx, job.ID, w.cfg.LeaseOwner, cause.Error(), retry); err != nil {
		w.logger.Error("fail run job", "run_job_id", job.ID, "error", err)
	}
	_ = w.store.IncrCounter(ctx, w.cfg.BotID, "runs_failed", 1)
	w.bus.Publish(bus.TopicRunFailed, bus.RunEvent{
		RunJobID: job.ID, TurnID: job.TurnID, BotID: w.cfg.BotID, ChatID: job.ChatID, Agent: job.Agent, Status: "failed", Reason: cause.Error(),
	})
}

// startHeartbeat extends the run's lease at half the lease TTL cadence
// until the returned stop function is called, abandoning the run (by simply
// stopping) if an extend attempt finds the lease already lost.
func (w *Worker) startHeartbeat(ctx context.Context, runJobID string) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.cfg.LeaseTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := w.store.HeartbeatRunJob(ctx, runJobID, w.cfg.LeaseOwner, w.cfg.LeaseTTL)
				if err != nil {
					w.logger.Error("heartbeat run job", "run_job_id", runJobID, "error", err)
					continue
				}
				if !ok {
					w.logger.Warn("lease lost, abandoning heartbeat", "run_job_id", runJobID)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
