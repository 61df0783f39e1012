package bus

import "testing"

func TestEventTopics_Constants(t *testing.T) {
	topics := map[string]bool{
		TopicTurnQueued:          true,
		TopicTurnCompleted:       true,
		TopicTurnFailed:          true,
		TopicRunStarted:          true,
		TopicRunCompleted:        true,
		TopicRunFailed:           true,
		TopicRunCancelled:        true,
		TopicDeliveryRateLimited: true,
		TopicDeliveryError:       true,
	}
	for name, present := range topics {
		if !present || name == "" {
			t.Fatalf("expected topic constant to be non-empty")
		}
	}
	if len(topics) != 9 {
		t.Fatalf("expected 9 unique topics, got %d", len(topics))
	}
}

func TestRunEvent_Fields(t *testing.T) {
	ev := RunEvent{
		RunJobID: "run-1",
		TurnID:   "turn-1",
		BotID:    "bot1",
		ChatID:   100,
		Agent:    "claude",
		Status:   "completed",
	}
	if ev.RunJobID == "" || ev.TurnID == "" || ev.BotID == "" || ev.Agent == "" {
		t.Fatalf("expected all identifying fields to be set: %+v", ev)
	}
}

func TestDeliveryEvent_RateLimited(t *testing.T) {
	ev := DeliveryEvent{
		BotID:      "bot1",
		ChatID:     100,
		Method:     "sendMessage",
		RetryAfter: 5,
	}
	if ev.RetryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", ev.RetryAfter)
	}
}
