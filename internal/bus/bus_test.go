package bus

import (
	"testing"

	"github.com/conductor-go/conductor/pkg/models"
)

func TestSend_PointToPoint(t *testing.T) {
	b := New(10)
	ch := b.Subscribe("bob", 4)

	b.Send("alice", "bob", "hello", "greeting", nil)

	select {
	case msg := <-ch:
		if msg.Sender != "alice" || msg.Content != "hello" {
			t.Errorf("received %+v, expected hello from alice", msg)
		}
	default:
		t.Fatal("expected a delivered message")
	}
}

func TestSend_NotDeliveredToOthers(t *testing.T) {
	b := New(10)
	other := b.Subscribe("carol", 4)

	b.Send("alice", "bob", "hello", "greeting", nil)

	select {
	case msg := <-other:
		t.Errorf("carol received %+v, expected nothing", msg)
	default:
	}
}

func TestSend_BroadcastExcludesSender(t *testing.T) {
	b := New(10)
	aliceCh := b.Subscribe("alice", 4)
	bobCh := b.Subscribe("bob", 4)
	carolCh := b.Subscribe("carol", 4)

	msg := b.Send("alice", models.BroadcastReceiver, "all hands", "notice", nil)
	if !msg.Broadcast() {
		t.Error("expected message to be a broadcast")
	}

	select {
	case got := <-aliceCh:
		t.Errorf("sender received own broadcast: %+v", got)
	default:
	}
	for name, ch := range map[string]<-chan models.Message{"bob": bobCh, "carol": carolCh} {
		select {
		case got := <-ch:
			if got.Content != "all hands" {
				t.Errorf("%s received %q, expected %q", name, got.Content, "all hands")
			}
		default:
			t.Errorf("%s received nothing, expected the broadcast", name)
		}
	}
}

func TestSend_FullSubscriberDrops(t *testing.T) {
	b := New(10)
	ch := b.Subscribe("bob", 1)

	b.Send("alice", "bob", "first", "msg", nil)
	b.Send("alice", "bob", "second", "msg", nil)

	got := <-ch
	if got.Content != "first" {
		t.Errorf("received %q, expected %q", got.Content, "first")
	}
	select {
	case extra := <-ch:
		t.Errorf("received %+v, expected the second message dropped", extra)
	default:
	}

	// Dropped delivery still lands in history.
	if b.Len() != 2 {
		t.Errorf("Len() = %d, expected 2", b.Len())
	}
}

func TestHistory_EvictionOldestFirst(t *testing.T) {
	b := New(3)
	for _, content := range []string{"1", "2", "3", "4", "5"} {
		b.Send("alice", "bob", content, "msg", nil)
	}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, expected 3", b.Len())
	}
	if b.Evicted() != 2 {
		t.Errorf("Evicted() = %d, expected 2", b.Evicted())
	}

	history := b.History(0)
	want := []string{"3", "4", "5"}
	for i, content := range want {
		if history[i].Content != content {
			t.Errorf("History()[%d] = %q, expected %q", i, history[i].Content, content)
		}
	}
}

func TestHistory_Limit(t *testing.T) {
	b := New(10)
	for _, content := range []string{"1", "2", "3"} {
		b.Send("alice", "bob", content, "msg", nil)
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"partial", 2, []string{"2", "3"}},
		{"all via zero", 0, []string{"1", "2", "3"}},
		{"over-large", 99, []string{"1", "2", "3"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			history := b.History(tc.limit)
			if len(history) != len(tc.want) {
				t.Fatalf("History(%d) returned %d messages, expected %d", tc.limit, len(history), len(tc.want))
			}
			for i, content := range tc.want {
				if history[i].Content != content {
					t.Errorf("History(%d)[%d] = %q, expected %q", tc.limit, i, history[i].Content, content)
				}
			}
		})
	}
}

func TestSend_Metadata(t *testing.T) {
	b := New(10)
	msg := b.Send("alice", "bob", "status", "update", map[string]any{"progress": 42})
	if msg.Metadata["progress"] != 42 {
		t.Errorf("Metadata[progress] = %v, expected 42", msg.Metadata["progress"])
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp")
	}
}

func TestClose(t *testing.T) {
	b := New(10)
	ch := b.Subscribe("bob", 4)

	b.Close()
	b.Close() // idempotent

	if _, open := <-ch; open {
		t.Error("expected subscriber channel to be closed")
	}

	// Sends after close are no-ops.
	b.Send("alice", "bob", "late", "msg", nil)
	if b.Len() != 0 {
		t.Errorf("Len() = %d after close, expected 0", b.Len())
	}

	late := b.Subscribe("carol", 4)
	if _, open := <-late; open {
		t.Error("expected late subscription to return a closed channel")
	}
}
