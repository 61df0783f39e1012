// Package botruntime wires one configured bot's Ingress, UpdateWorker, and
// RunWorker together and manages their goroutine lifecycle, the way the
// teacher's agent registry manages running agents.
package botruntime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/telecore/telecore/internal/adapter"
	"github.com/telecore/telecore/internal/adapter/process"
	"github.com/telecore/telecore/internal/bus"
	"github.com/telecore/telecore/internal/commands"
	"github.com/telecore/telecore/internal/config"
	"github.com/telecore/telecore/internal/ingress"
	"github.com/telecore/telecore/internal/platform"
	"github.com/telecore/telecore/internal/runworker"
	"github.com/telecore/telecore/internal/session"
	"github.com/telecore/telecore/internal/store"
	"github.com/telecore/telecore/internal/updateworker"
)

// RunningBot holds one configured bot's wired components and lifecycle
// state, mirroring the teacher's RunningAgent.
type RunningBot struct {
	ID        string
	ingress   *ingress.Ingress
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// Registry manages the lifecycle of every configured bot's runtime.
type Registry struct {
	mu   sync.RWMutex
	bots map[string]*RunningBot

	store *store.Store
	cfg   config.Config
}

// NewRegistry creates a Registry over the given store and process config.
func NewRegistry(s *store.Store, cfg config.Config) *Registry {
	return &Registry{bots: make(map[string]*RunningBot), store: s, cfg: cfg}
}

// StartAll wires and starts every bot named in cfg.Bots, logging (but not
// aborting on) any single bot's setup failure so one misconfigured bot
// cannot take the whole process down.
func (r *Registry) StartAll(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, entry := range r.cfg.Bots {
		if err := r.start(ctx, entry, logger); err != nil {
			logger.Error("start bot runtime", "bot_id", entry.ID, "error", err)
		}
	}
}

// WebhookIngress returns the Ingress registered for botID, for cmd/telecore
// to mount its webhook route, or nil if the bot isn't running in webhook
// mode (or doesn't exist).
func (r *Registry) WebhookIngress(botID string) *ingress.Ingress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rb, ok := r.bots[botID]
	if !ok {
		return nil
	}
	return rb.ingress
}

// BotIDs returns every currently running bot's id, for the gateway's
// /metrics readout.
func (r *Registry) BotIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bots))
	for id := range r.bots {
		ids = append(ids, id)
	}
	return ids
}

// StopAll cancels every running bot's goroutines and waits for them to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	bots := make([]*RunningBot, 0, len(r.bots))
	for _, rb := range r.bots {
		bots = append(bots, rb)
	}
	r.mu.Unlock()

	for _, rb := range bots {
		rb.cancel()
		rb.wg.Wait()
	}
}

func (r *Registry) start(ctx context.Context, entry config.BotEntry, logger *slog.Logger) error {
	token := entry.ResolvedToken()
	if token == "" {
		return fmt.Errorf("bot %s: no token configured", entry.ID)
	}
	client, err := platform.NewTelegramClient(token, r.cfg.PlatformBaseURL)
	if err != nil {
		return fmt.Errorf("bot %s: new telegram client: %w", entry.ID, err)
	}

	sessions := session.New(r.store)
	cmdBot := commands.Bot{
		ID:            entry.ID,
		DefaultAgent:  entry.DefaultAdapter,
		AgentBinaries: entry.Agents,
	}
	cmdHandler := commands.New(cmdBot, r.store, sessions, client, logger.With("bot_id", entry.ID))

	ing := ingress.New(ingress.Bot{
		ID:                  entry.ID,
		WebhookPathSecret:   entry.WebhookPathSecret,
		WebhookHeaderSecret: entry.WebhookHeaderSecret,
	}, r.store, logger.With("bot_id", entry.ID))

	registry := adapter.Registry{}
	procAdapter := process.New(entry.Agents)
	for agentName := range entry.Agents {
		registry[agentName] = procAdapter
	}
	if _, ok := registry["default"]; !ok {
		registry["default"] = procAdapter
	}

	botCtx, cancel := context.WithCancel(ctx)
	rb := &RunningBot{ID: entry.ID, cancel: cancel, startedAt: time.Now(), ingress: ing}

	eventBus := bus.NewWithLogger(logger.With("bot_id", entry.ID, "component", "bus"))

	uw := updateworker.New(updateworker.Config{
		BotID:        entry.ID,
		OwnerUserID:  entry.OwnerUserID,
		DefaultAgent: entry.DefaultAdapter,
		LeaseTTL:     r.cfg.LeaseTTL,
		PollInterval: r.cfg.PollInterval,
		LeaseOwner:   processLeaseOwner(entry.ID, "updateworker"),
		Bus:          eventBus,
	}, r.store, sessions, cmdHandler, client, logger.With("bot_id", entry.ID, "component", "updateworker"))

	rw := runworker.New(runworker.Config{
		BotID:        entry.ID,
		LeaseTTL:     r.cfg.LeaseTTL,
		PollInterval: r.cfg.PollInterval,
		RunTimeout:   time.Duration(r.cfg.RunTimeoutSeconds) * time.Second,
		LeaseOwner:   processLeaseOwner(entry.ID, "runworker"),
		Bus:          eventBus,
	}, r.store, sessions, registry, client, logger.With("bot_id", entry.ID, "component", "runworker"))

	rb.wg.Add(3)
	go runBusLogger(botCtx, &rb.wg, eventBus, logger.With("bot_id", entry.ID, "component", "bus"))
	go func() {
		defer rb.wg.Done()
		if err := uw.Run(botCtx); err != nil && err != context.Canceled {
			logger.Error("update worker stopped", "bot_id", entry.ID, "error", err)
		}
	}()
	go func() {
		defer rb.wg.Done()
		if err := rw.Run(botCtx); err != nil && err != context.Canceled {
			logger.Error("run worker stopped", "bot_id", entry.ID, "error", err)
		}
	}()

	if entry.Mode == "embedded" {
		poller := ingress.NewPoller(ing, client.BotAPI(), r.cfg.PollInterval, r.store, entry.ID, platform.IsLocalBaseURL(r.cfg.PlatformBaseURL))
		rb.wg.Add(1)
		go func() {
			defer rb.wg.Done()
			if err := poller.Run(botCtx); err != nil && err != context.Canceled {
				logger.Error("poller stopped", "bot_id", entry.ID, "error", err)
			}
		}()
	}

	r.mu.Lock()
	r.bots[entry.ID] = rb
	r.mu.Unlock()
	return nil
}

func processLeaseOwner(botID, component string) string {
	return fmt.Sprintf("%s-%s-%d", botID, component, time.Now().UnixNano())
}

// runBusLogger subscribes to every topic on b and logs each event at debug
// level, the one consumer every bot's bus is guaranteed to have so turn/run
// lifecycle events surface in the log stream even with no other subscriber
// registered.
func runBusLogger(ctx context.Context, wg *sync.WaitGroup, b *bus.Bus, logger *slog.Logger) {
	defer wg.Done()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			logger.Debug("bus event", "topic", ev.Topic, "payload", ev.Payload)
		}
	}
}
