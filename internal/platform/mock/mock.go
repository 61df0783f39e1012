// Package mock implements platform.Client in memory for tests and for
// offline bot runtimes (spec §1's "mock platform used for offline testing"
// external collaborator).
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/telecore/telecore/internal/platform"
)

// SentMessage records one call made against the mock client, in call order.
type SentMessage struct {
	Method    string
	ChatID    int64
	MessageID int
	Text      string
	Path      string
}

// Client is an in-memory platform.Client. RateLimitOnce, if set, makes the
// next call for that method return a RateLimitError exactly once.
type Client struct {
	mu            sync.Mutex
	nextMessageID int
	Sent          []SentMessage
	Acks          []string
	RateLimitOnce map[string]int
}

// New creates an empty mock client.
func New() *Client {
	return &Client{
		nextMessageID: 1,
		RateLimitOnce: make(map[string]int),
	}
}

func (c *Client) takeRateLimit(method string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	retryAfter, ok := c.RateLimitOnce[method]
	if ok {
		delete(c.RateLimitOnce, method)
	}
	return retryAfter, ok
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (platform.SendResult, error) {
	if retryAfter, ok := c.takeRateLimit("sendMessage"); ok {
		return platform.SendResult{}, &platform.RateLimitError{Method: "sendMessage", RetryAfter: retryAfter}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextMessageID
	c.nextMessageID++
	c.Sent = append(c.Sent, SentMessage{Method: "sendMessage", ChatID: chatID, MessageID: id, Text: text})
	return platform.SendResult{MessageID: id}, nil
}

func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	if retryAfter, ok := c.takeRateLimit("editMessageText"); ok {
		return &platform.RateLimitError{Method: "editMessageText", RetryAfter: retryAfter}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, SentMessage{Method: "editMessageText", ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	if retryAfter, ok := c.takeRateLimit("answerCallbackQuery"); ok {
		return &platform.RateLimitError{Method: "answerCallbackQuery", RetryAfter: retryAfter}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Acks = append(c.Acks, callbackID)
	return nil
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, path, caption string) error {
	return c.sendFile("sendPhoto", chatID, path, caption)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	return c.sendFile("sendDocument", chatID, path, caption)
}

func (c *Client) sendFile(method string, chatID int64, path, caption string) error {
	if retryAfter, ok := c.takeRateLimit(method); ok {
		return &platform.RateLimitError{Method: method, RetryAfter: retryAfter}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, SentMessage{Method: method, ChatID: chatID, Text: caption, Path: path})
	return nil
}

// AckCount returns how many times callbackID was acknowledged, used by
// tests asserting the "exactly once" callback-ack law.
func (c *Client) AckCount(callbackID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range c.Acks {
		if id == callbackID {
			n++
		}
	}
	return n
}

// LastText returns the text of the most recent send/edit call, for
// assertions that don't care about the full transcript.
func (c *Client) LastText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sent) == 0 {
		return "", fmt.Errorf("no messages sent")
	}
	return c.Sent[len(c.Sent)-1].Text, nil
}
