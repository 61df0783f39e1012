package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/telecore/telecore/internal/store"
)

// Known ActionToken.Action values bound to inline buttons.
const (
	ActionSummary    = "summary"
	ActionRegenerate = "regenerate"
	ActionNext       = "next"
	ActionStop       = "stop"
)

// HandleCallback implements CommandHandler's callback contract (spec §4.4,
// §7's callback-ack law): AnswerCallbackQuery is called exactly once, no
// matter how the token validates or what the bound action does. A panic
// during dispatch still reaches the deferred ack.
func (h *Handler) HandleCallback(ctx context.Context, chatID int64, callbackID, token string) (acked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("callback handler panicked", "callback_id", callbackID, "recover", r)
			if ackErr := h.platform.AnswerCallbackQuery(ctx, callbackID, "Internal error."); ackErr != nil {
				h.logger.Error("callback ack failed after panic", "callback_id", callbackID, "error", ackErr)
				_ = h.store.IncrCounter(ctx, h.bot.ID, "callback_ack_failed", 1)
				err = ackErr
				return
			}
			acked = true
			_ = h.store.IncrCounter(ctx, h.bot.ID, "callback_ack_success", 1)
		}
	}()

	text := h.dispatchCallback(ctx, chatID, callbackID, token)
	ackErr := h.platform.AnswerCallbackQuery(ctx, callbackID, text)
	if ackErr != nil {
		h.logger.Error("callback ack failed", "callback_id", callbackID, "error", ackErr)
		_ = h.store.IncrCounter(ctx, h.bot.ID, "callback_ack_failed", 1)
		return false, ackErr
	}
	_ = h.store.IncrCounter(ctx, h.bot.ID, "callback_ack_success", 1)
	return true, nil
}

// dispatchCallback resolves the token and runs the bound action, returning
// the text to show the user via the callback-query toast. It never returns
// an error: any failure becomes a user-facing message so the deferred ack
// above always has something to send.
func (h *Handler) dispatchCallback(ctx context.Context, chatID int64, callbackID, token string) string {
	bound, err := h.store.ConsumeActionToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrActionTokenInvalid) {
			return "This button has expired."
		}
		h.logger.Error("consume action token", "error", err)
		return "Something went wrong."
	}
	if bound.BotID != h.bot.ID || bound.ChatID != chatID {
		h.logger.Warn("action token scope mismatch", "token_bot_id", bound.BotID, "token_chat_id", bound.ChatID, "bot_id", h.bot.ID, "chat_id", chatID)
		return "This button has expired."
	}

	switch bound.Action {
	case ActionSummary:
		sess, err := h.sessions.GetByID(ctx, bound.Payload)
		if err != nil {
			return "Could not load that session."
		}
		if sess.RollingSummary == "" {
			return "No summary yet."
		}
		return "Summary sent."
	case ActionRegenerate, ActionNext:
		if _, err := h.store.CreateDeferredButtonAction(ctx, token, callbackID); err != nil {
			h.logger.Error("create deferred button action", "error", err)
			return "Could not queue that action."
		}
		return "Working on it."
	case ActionStop:
		active, err := h.store.ActiveRunJobForChat(ctx, h.bot.ID, chatID)
		if err != nil {
			return "Could not check the active run."
		}
		if active == nil {
			return "No active run to stop."
		}
		if err := h.store.RequestCancel(ctx, active.ID); err != nil {
			return "Could not stop the run."
		}
		return "Stopping."
	default:
		return fmt.Sprintf("Unknown action %q.", bound.Action)
	}
}
