// Package ingress implements Ingress (spec §4.2): accepting inbound
// Telegram updates via webhook or long-poll, classifying them, and handing
// them to Store.AcceptUpdate for dedup + enqueue.
package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/telecore/telecore/internal/platform"
	"github.com/telecore/telecore/internal/store"
)

// Bot is the slice of bot configuration Ingress needs for one bot's inbound
// surface.
type Bot struct {
	ID                string
	WebhookPathSecret string
	WebhookHeaderSecret string
}

// Ingress accepts updates for one bot and hands them to the store.
type Ingress struct {
	bot    Bot
	store  *store.Store
	logger *slog.Logger
}

// New creates an Ingress for one bot.
func New(bot Bot, s *store.Store, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{bot: bot, store: s, logger: logger}
}

// classify maps a parsed Update to its structural UpdateJobKind and the
// payload UpdateWorker will later dispatch on (spec §4.2/§4.3 split:
// Ingress does shape-only classification; semantic classification, like
// natural-language YouTube intent, happens downstream).
func classify(u platform.Update) (kind store.UpdateJobKind, payload string) {
	if u.CallbackID != "" {
		return store.UpdateKindCallback, u.CallbackID + "\n" + u.CallbackData
	}
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return store.UpdateKindIgnore, ""
	}
	if strings.HasPrefix(text, "/") {
		return store.UpdateKindCommand, text
	}
	return store.UpdateKindText, text
}

// Accept runs the common accept path for both webhook and poll delivery:
// parse, classify, and dedup-enqueue. It never returns an error for a
// duplicate update — that is the expected no-op outcome, logged at debug.
func (ing *Ingress) Accept(ctx context.Context, raw []byte) error {
	u, err := platform.ParseUpdate(raw)
	if err != nil {
		return err
	}
	kind, payload := classify(u)
	accepted, jobID, err := ing.store.AcceptUpdate(ctx, ing.bot.ID, u.UpdateID, u.ChatID, u.FromUserID, kind, payload)
	if err != nil {
		return err
	}
	if !accepted {
		ing.logger.Debug("duplicate update ignored", "bot_id", ing.bot.ID, "update_id", u.UpdateID)
		return nil
	}
	ing.logger.Debug("update accepted", "bot_id", ing.bot.ID, "update_id", u.UpdateID, "job_id", jobID, "kind", kind)
	return nil
}

// WebhookHandler returns the HTTP handler for POST
// /telegram/webhook/{bot_id}/{path_secret}, validating the path secret and,
// if configured, an additional header secret before accepting the body.
func (ing *Ingress) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				ing.logger.Error("webhook handler panicked", "bot_id", ing.bot.ID, "recover", rec)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		pathSecret := r.PathValue("path_secret")
		if !secretsEqual(pathSecret, ing.bot.WebhookPathSecret) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if ing.bot.WebhookHeaderSecret != "" {
			header := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
			if !secretsEqual(header, ing.bot.WebhookHeaderSecret) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := ing.Accept(r.Context(), body); err != nil {
			ing.logger.Error("accept webhook update", "bot_id", ing.bot.ID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func secretsEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Poller runs the embedded long-poll delivery path for bots not configured
// for webhook mode, mirroring the teacher's GetUpdatesChan consumption loop.
// It persists its moving offset per bot (spec §4.2) so a process restart
// resumes after the last update it actually delivered, rather than
// replaying or skipping the platform's backlog.
type Poller struct {
	ing          *Ingress
	api          *tgbotapi.BotAPI
	pollInterval time.Duration
	store        *store.Store
	botID        string
	resetOnStart bool
}

// NewPoller creates a Poller that feeds ing from api's long-poll channel.
// resetOnStart discards any previously persisted offset before the first
// poll — set this when the platform base URL points at a local/mock
// server, which has no memory of updates already delivered across restarts.
func NewPoller(ing *Ingress, api *tgbotapi.BotAPI, pollInterval time.Duration, s *store.Store, botID string, resetOnStart bool) *Poller {
	if pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}
	return &Poller{ing: ing, api: api, pollInterval: pollInterval, store: s, botID: botID, resetOnStart: resetOnStart}
}

// Run consumes updates until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.resetOnStart {
		if err := p.store.ResetPollOffset(ctx, p.botID); err != nil {
			p.ing.logger.Warn("reset poll offset", "bot_id", p.botID, "error", err)
		}
	}
	offset, err := p.store.GetPollOffset(ctx, p.botID)
	if err != nil {
		p.ing.logger.Warn("load poll offset", "bot_id", p.botID, "error", err)
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(p.pollInterval.Seconds())
	updates := p.api.GetUpdatesChan(cfg)
	defer p.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-updates:
			if !ok {
				return nil
			}
			p.processOne(ctx, raw)
		}
	}
}

// processOne handles a single polled update, recovering from any panic
// inside accept/marshal so one malformed update cannot kill the poll loop.
func (p *Poller) processOne(ctx context.Context, raw tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			p.ing.logger.Error("poller update handling panicked", "bot_id", p.botID, "update_id", raw.UpdateID, "recover", r)
		}
	}()

	body, err := json.Marshal(raw)
	if err != nil {
		p.ing.logger.Error("marshal polled update", "error", err)
		return
	}
	if err := p.ing.Accept(ctx, body); err != nil {
		p.ing.logger.Error("accept polled update", "error", err)
		return
	}
	if err := p.store.SetPollOffset(ctx, p.botID, raw.UpdateID+1); err != nil {
		p.ing.logger.Warn("persist poll offset", "bot_id", p.botID, "error", err)
	}
}
