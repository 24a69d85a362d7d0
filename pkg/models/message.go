package models

import "time"

// BroadcastReceiver is the sentinel receiver that delivers a message to every subscriber.
const BroadcastReceiver = "*"

// Message is an auxiliary note exchanged between workers during execution.
// Messages are owned by the message bus; retained history is workflow-scoped
// and bounded.
type Message struct {
	// Sender is the agent ID that sent the message.
	Sender string `json:"sender"`
	// Receiver is the agent ID the message is addressed to, or BroadcastReceiver.
	Receiver string `json:"receiver"`
	// Content is the message body.
	Content string `json:"content"`
	// Type is an opaque message classifier (e.g. "text", "status").
	Type string `json:"type"`
	// Metadata carries optional structured data alongside the content.
	Metadata map[string]any `json:"metadata,omitempty"`
	// Timestamp is when the message was sent.
	Timestamp time.Time `json:"timestamp"`
}

// Broadcast returns true if the message is addressed to all subscribers.
func (m Message) Broadcast() bool {
	return m.Receiver == BroadcastReceiver
}
