// Package commands implements CommandHandler (spec §4.4): the slash-command
// surface, inline button callbacks, and the natural-language YouTube intent
// rewrite. UpdateWorker has already classified the job and enforced the
// owner gate before delegating here.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telecore/telecore/internal/platform"
	"github.com/telecore/telecore/internal/session"
	"github.com/telecore/telecore/internal/store"
)

// Bot is the slice of bot configuration CommandHandler needs: its identity,
// default agent, and the name→binary map /providers reports on.
type Bot struct {
	ID             string
	DefaultAgent   string
	AgentBinaries  map[string]string // agent name -> binary, from bots.yaml's agents map
	DefaultModels  map[string]string // agent name -> model, from bots.yaml's sandbox.model
}

// Handler implements CommandHandler for one bot.
type Handler struct {
	bot      Bot
	store    *store.Store
	sessions *session.Service
	platform platform.Client
	logger   *slog.Logger
}

// New creates a Handler for the given bot.
func New(bot Bot, s *store.Store, sessions *session.Service, client platform.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bot: bot, store: s, sessions: sessions, platform: client, logger: logger}
}

// HandleCommand dispatches a classified "command" UpdateJob. text is the
// already-extracted message text (leading "/..." or a plain line UpdateWorker
// rewrote from a natural-language YouTube intent).
func (h *Handler) HandleCommand(ctx context.Context, chatID, fromUserID int64, text string) (reply string, err error) {
	name, arg := splitCommand(text)
	switch strings.ToLower(name) {
	case "/start", "/help":
		return helpText, nil
	case "/new":
		return h.handleNew(ctx, chatID)
	case "/reset":
		return h.handleReset(ctx, chatID)
	case "/status":
		return h.handleStatus(ctx, chatID)
	case "/summary":
		return h.handleSummary(ctx, chatID)
	case "/mode":
		return h.handleMode(ctx, chatID, arg)
	case "/providers":
		return h.handleProviders(), nil
	case "/stop":
		return h.handleStop(ctx, chatID)
	case "/youtube", "/yt":
		return handleYouTube(arg), nil
	case "/echo":
		return arg, nil
	default:
		return fmt.Sprintf("Unrecognised command %q. Try /help.", name), nil
	}
}

const helpText = `I bridge this chat to a command-line AI agent.

/new - start a fresh session
/reset - like /new, always replies with the new session id
/status - show current agent and session
/summary - show the rolling conversation summary
/mode [agent] - show or switch the active agent
/providers - show which agent binaries are installed
/stop - cancel the active run
/youtube <q> / /yt <q> - search YouTube
/echo <text> - reply with <text>`

func splitCommand(text string) (name, arg string) {
	text = strings.TrimSpace(text)
	idx := strings.IndexByte(text, ' ')
	if idx == -1 {
		return text, ""
	}
	return text[:idx], strings.TrimSpace(text[idx+1:])
}

func (h *Handler) handleNew(ctx context.Context, chatID int64) (string, error) {
	sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.ID, chatID, h.bot.DefaultAgent)
	if err != nil {
		return "", fmt.Errorf("get active session: %w", err)
	}
	if _, err := h.sessions.Reset(ctx, sess.ID); err != nil {
		return "", fmt.Errorf("reset session: %w", err)
	}
	return "Started a new session. Prior context is kept as a one-time recap for your next message.", nil
}

func (h *Handler) handleReset(ctx context.Context, chatID int64) (string, error) {
	sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.ID, chatID, h.bot.DefaultAgent)
	if err != nil {
		return "", fmt.Errorf("get active session: %w", err)
	}
	fresh, err := h.sessions.Reset(ctx, sess.ID)
	if err != nil {
		return "", fmt.Errorf("reset session: %w", err)
	}
	return fmt.Sprintf("New session: %s", fresh.ID), nil
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64) (string, error) {
	sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.ID, chatID, h.bot.DefaultAgent)
	if err != nil {
		return "", fmt.Errorf("get active session: %w", err)
	}
	preview := sess.RollingSummary
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return fmt.Sprintf("bot: %s\nagent: %s\nagent_thread_id: %s\nsession: %s\nsummary: %s",
		h.bot.ID, sess.CurrentAgent, orDash(sess.AgentThreadID), sess.ID, orDash(preview)), nil
}

func (h *Handler) handleSummary(ctx context.Context, chatID int64) (string, error) {
	sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.ID, chatID, h.bot.DefaultAgent)
	if err != nil {
		return "", fmt.Errorf("get active session: %w", err)
	}
	if sess.RollingSummary == "" {
		return "No summary yet.", nil
	}
	return sess.RollingSummary, nil
}

func (h *Handler) handleMode(ctx context.Context, chatID int64, newAgent string) (string, error) {
	sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.ID, chatID, h.bot.DefaultAgent)
	if err != nil {
		return "", fmt.Errorf("get active session: %w", err)
	}
	if newAgent == "" {
		return fmt.Sprintf("Current agent: %s\nUsage: /mode <agent>", sess.CurrentAgent), nil
	}
	if err := h.sessions.SwitchAgent(ctx, h.bot.ID, chatID, sess.ID, newAgent); err != nil {
		if err == session.ErrSwitchDuringActiveRun {
			return "Can't switch agents while a run is active. /stop first.", nil
		}
		return "", fmt.Errorf("switch agent: %w", err)
	}
	_ = h.store.IncrCounter(ctx, h.bot.ID, "provider_switch_total."+newAgent, 1)
	return fmt.Sprintf("Switched to %s.", newAgent), nil
}

func (h *Handler) handleProviders() string {
	var b strings.Builder
	b.WriteString("Known providers:\n")
	for name, bin := range h.bot.AgentBinaries {
		status := "missing"
		if _, err := lookPath(bin); err == nil {
			status = "installed"
		}
		model := h.bot.DefaultModels[name]
		if model == "" {
			model = "(default)"
		}
		fmt.Fprintf(&b, "- %s: %s, binary=%s, model=%s\n", name, status, bin, model)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) handleStop(ctx context.Context, chatID int64) (string, error) {
	active, err := h.store.ActiveRunJobForChat(ctx, h.bot.ID, chatID)
	if err != nil {
		return "", fmt.Errorf("find active run: %w", err)
	}
	if active == nil {
		return "No active run to stop.", nil
	}
	if err := h.store.RequestCancel(ctx, active.ID); err != nil {
		return "", fmt.Errorf("request cancel: %w", err)
	}
	return "Stopping the active run.", nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
