// Package updateworker implements UpdateWorker (spec §4.3): the per-bot
// lease loop that claims queued UpdateJobs, enforces the owner gate,
// dispatches commands/callbacks to CommandHandler, and turns plain text
// into a Turn + RunJob pair.
package updateworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/telecore/telecore/internal/bus"
	"github.com/telecore/telecore/internal/commands"
	"github.com/telecore/telecore/internal/platform"
	"github.com/telecore/telecore/internal/session"
	"github.com/telecore/telecore/internal/store"
)

// Config configures one bot's UpdateWorker loop.
type Config struct {
	BotID        string
	OwnerUserID  int64
	DefaultAgent string
	LeaseTTL     time.Duration
	PollInterval time.Duration
	LeaseOwner   string // this process/worker instance id
	// Bus receives turn-lifecycle events as a secondary, best-effort
	// observability transport. Defaults to a private bus with no
	// subscribers if left nil.
	Bus *bus.Bus
}

// Worker runs the claim/dispatch/complete loop for one bot.
type Worker struct {
	cfg      Config
	store    *store.Store
	sessions *session.Service
	commands *commands.Handler
	client   platform.Client
	logger   *slog.Logger
	bus      *bus.Bus
}

// New creates an UpdateWorker for one bot.
func New(cfg Config, s *store.Store, sessions *session.Service, cmdHandler *commands.Handler, client platform.Client, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	eventBus := cfg.Bus
	if eventBus == nil {
		eventBus = bus.New()
	}
	return &Worker{cfg: cfg, store: s, sessions: sessions, commands: cmdHandler, client: client, logger: logger, bus: eventBus}
}

// Run polls for work until ctx is cancelled, mirroring the teacher's
// claim-sleep-repeat engine loop shape.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for w.claimAndProcessOne(ctx) {
			}
		}
	}
}

// claimAndProcessOne claims and processes a single job, returning true if a
// job was found (so the caller can drain the queue before sleeping again).
// A panic anywhere inside processing is caught and turned into a failed
// attempt instead of taking down the worker loop.
func (w *Worker) claimAndProcessOne(ctx context.Context) (found bool) {
	job, err := w.store.ClaimNextUpdateJob(ctx, w.cfg.BotID, w.cfg.LeaseOwner, w.cfg.LeaseTTL)
	if err != nil {
		w.logger.Error("claim update job", "bot_id", w.cfg.BotID, "error", err)
		return false
	}
	if job == nil {
		return false
	}
	found = true

	procErr := func() (procErr error) {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("update worker panicked", "job_id", job.ID, "recover", r)
				procErr = fmt.Errorf("panic: %v", r)
			}
		}()
		return w.process(ctx, job)
	}()

	if procErr != nil {
		w.logger.Warn("update job failed", "job_id", job.ID, "error", procErr)
		retry := job.Attempts+1 < job.MaxAttempts
		if failErr := w.store.FailUpdateJob(ctx, job.ID, w.cfg.LeaseOwner, procErr.Error(), retry); failErr != nil {
			w.logger.Error("fail update job", "job_id", job.ID, "error", failErr)
		}
		return true
	}
	if err := w.store.CompleteUpdateJob(ctx, job.ID, w.cfg.LeaseOwner); err != nil {
		w.logger.Error("complete update job", "job_id", job.ID, "error", err)
	}
	return true
}

// process dispatches one claimed job, enforcing the owner gate first.
func (w *Worker) process(ctx context.Context, job *store.UpdateJob) error {
	if w.cfg.OwnerUserID != 0 && job.FromUserID != w.cfg.OwnerUserID {
		return w.denyNonOwner(ctx, job)
	}

	switch job.Kind {
	case store.UpdateKindCommand:
		return w.handleCommand(ctx, job)
	case store.UpdateKindCallback:
		return w.handleCallback(ctx, job)
	case store.UpdateKindText:
		return w.handleText(ctx, job)
	case store.UpdateKindIgnore:
		return nil
	default:
		return fmt.Errorf("unknown update job kind %q", job.Kind)
	}
}

func (w *Worker) denyNonOwner(ctx context.Context, job *store.UpdateJob) error {
	if job.Kind == store.UpdateKindCallback {
		_, err := w.client.SendMessage(ctx, job.ChatID, "Not authorised.")
		return err
	}
	_, err := w.client.SendMessage(ctx, job.ChatID, "This bot is private.")
	return err
}

func (w *Worker) handleCommand(ctx context.Context, job *store.UpdateJob) error {
	reply, err := w.commands.HandleCommand(ctx, job.ChatID, job.FromUserID, job.Payload)
	if err != nil {
		return fmt.Errorf("handle command: %w", err)
	}
	if reply == "" {
		return nil
	}
	if _, err := w.client.SendMessage(ctx, job.ChatID, reply); err != nil {
		return fmt.Errorf("send command reply: %w", err)
	}
	return nil
}

func (w *Worker) handleCallback(ctx context.Context, job *store.UpdateJob) error {
	callbackID, token := splitCallbackPayload(job.Payload)
	if _, err := w.commands.HandleCallback(ctx, job.ChatID, callbackID, token); err != nil {
		return fmt.Errorf("handle callback: %w", err)
	}
	return nil
}

// splitCallbackPayload recovers the callback_id and action token Ingress
// packed together into UpdateJob.Payload (format: "callback_id\ntoken").
func splitCallbackPayload(payload string) (callbackID, token string) {
	for i := 0; i < len(payload); i++ {
		if payload[i] == '\n' {
			return payload[:i], payload[i+1:]
		}
	}
	return payload, ""
}

func (w *Worker) handleText(ctx context.Context, job *store.UpdateJob) error {
	text := job.Payload
	if query, ok := commands.DetectYouTubeIntent(text); ok {
		reply, err := w.commands.HandleCommand(ctx, job.ChatID, job.FromUserID, "/youtube "+query)
		if err != nil {
			return fmt.Errorf("youtube intent rewrite: %w", err)
		}
		_, err = w.client.SendMessage(ctx, job.ChatID, reply)
		return err
	}

	sess, err := w.sessions.GetOrCreateActive(ctx, w.cfg.BotID, job.ChatID, w.cfg.DefaultAgent)
	if err != nil {
		return fmt.Errorf("get active session: %w", err)
	}

	turnID, err := w.store.CreateTurn(ctx, sess.ID, w.cfg.BotID, job.ChatID, text)
	if err != nil {
		return fmt.Errorf("create turn: %w", err)
	}

	runJobID := uuid.NewString()
	if err := w.store.CreateRunJob(ctx, runJobID, turnID, w.cfg.BotID, job.ChatID, sess.CurrentAgent); err != nil {
		if errors.Is(err, store.ErrActiveRunConflict) {
			_, sendErr := w.client.SendMessage(ctx, job.ChatID, "A run is already active in this chat. Use /stop first.")
			return sendErr
		}
		return fmt.Errorf("create run job: %w", err)
	}
	w.bus.Publish(bus.TopicTurnQueued, bus.TurnEvent{
		TurnID:    turnID,
		SessionID: sess.ID,
		BotID:     w.cfg.BotID,
		ChatID:    job.ChatID,
		Status:    "queued",
	})
	return nil
}
