// Package tabs elects a single leader among the tabs (processes) sharing one
// player session. Only the leader runs live ledger polling and issues
// wallet-approval-triggering actions; followers consume broadcast updates.
package tabs

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Message is one frame on the shared inter-tab channel.
type Message struct {
	Topic      string          `json:"topic"`
	SenderID   string          `json:"sender_id"`
	SentAtNano int64           `json:"sent_at_nano"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Channel is the shared broadcast transport between tabs. A browser build
// backs this with a BroadcastChannel; tests and single-process builds use
// MemoryChannel. Delivery is best-effort and includes the sender, which
// filters its own frames by SenderID.
type Channel interface {
	Publish(msg Message) error
	Subscribe(fn func(Message)) (unsubscribe func())
}

// MemoryChannel is an in-process Channel implementation.
type MemoryChannel struct {
	mu   sync.RWMutex
	subs map[string]func(Message)
}

// NewMemoryChannel creates an empty in-process channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{subs: make(map[string]func(Message))}
}

// Publish delivers the message to every subscriber. Handlers run on the
// caller's goroutine and must not block.
func (c *MemoryChannel) Publish(msg Message) error {
	c.mu.RLock()
	handlers := make([]func(Message), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
	return nil
}

// Subscribe registers a handler for every published message.
func (c *MemoryChannel) Subscribe(fn func(Message)) func() {
	token := uuid.New().String()

	c.mu.Lock()
	c.subs[token] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, token)
		c.mu.Unlock()
	}
}
