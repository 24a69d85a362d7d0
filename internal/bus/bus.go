// Package bus implements the workflow-scoped message bus: a point-to-point
// and broadcast side channel between workers, decoupled from the
// dependency-driven data flow.
package bus

import (
	"sync"
	"time"

	"github.com/conductor-go/conductor/pkg/models"
)

// DefaultHistoryCap bounds retained history when no cap is configured.
const DefaultHistoryCap = 1000

// Bus is a bounded, workflow-scoped message channel. Send never blocks the
// execution path: subscriber channels with no room drop the message, and
// history beyond the cap is evicted oldest-first.
type Bus struct {
	mu sync.RWMutex
	// cap is the maximum number of retained history entries.
	cap int
	// history holds sent messages, oldest first.
	history []models.Message
	// subs maps receiver agent IDs to their subscriber channels.
	subs map[string][]chan models.Message
	// evicted counts history entries dropped past the cap.
	evicted uint64
	closed  bool
}

// New creates a Bus retaining at most historyCap messages.
// A non-positive cap falls back to DefaultHistoryCap.
func New(historyCap int) *Bus {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Bus{
		cap:  historyCap,
		subs: make(map[string][]chan models.Message),
	}
}

// Send appends a message to the history and delivers it to subscribers.
// A receiver of models.BroadcastReceiver delivers to every subscriber except
// the sender's own. Delivery is non-blocking; full subscriber channels drop
// the message.
func (b *Bus) Send(sender, receiver, content, msgType string, metadata map[string]any) models.Message {
	msg := models.Message{
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Type:      msgType,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return msg
	}

	b.history = append(b.history, msg)
	if len(b.history) > b.cap {
		drop := len(b.history) - b.cap
		b.history = append(b.history[:0:0], b.history[drop:]...)
		b.evicted += uint64(drop)
	}

	if msg.Broadcast() {
		for id, channels := range b.subs {
			if id == sender {
				continue
			}
			deliver(channels, msg)
		}
		return msg
	}

	deliver(b.subs[receiver], msg)
	return msg
}

func deliver(channels []chan models.Message, msg models.Message) {
	for _, ch := range channels {
		select {
		case ch <- msg:
		default:
			// Subscriber not keeping up, drop.
		}
	}
}

// Subscribe returns a channel receiving messages addressed to the given agent
// ID, including broadcasts from other senders. bufSize defaults to 64 if
// non-positive.
func (b *Bus) Subscribe(agentID string, bufSize int) <-chan models.Message {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan models.Message, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs[agentID] = append(b.subs[agentID], ch)
	return ch
}

// History returns the most recent messages, oldest first. A non-positive or
// over-large limit returns the whole retained history.
func (b *Bus) History(limit int) []models.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]models.Message, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// Len returns the number of retained history entries.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Evicted returns the number of history entries dropped past the cap.
func (b *Bus) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}

// Close closes all subscriber channels. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
}
