package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBroadcasterSubscribe(t *testing.T) {
	b := NewBroadcaster()

	id1, ch1 := b.Subscribe()
	if id1 != 1 {
		t.Errorf("expected first subscriber ID to be 1, got %d", id1)
	}
	id2, ch2 := b.Subscribe()
	if id2 != 2 {
		t.Errorf("expected second subscriber ID to be 2, got %d", id2)
	}
	if ch1 == ch2 {
		t.Error("subscriber channels should be different")
	}
	if b.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", b.SubscriberCount())
	}

	b.Broadcast(Queued{Key: 7})
	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if EventKey(e) != 7 {
				t.Errorf("got %s, want queued(7)", String(e))
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}
	// Unknown and repeated IDs are ignored.
	b.Unsubscribe(id)
	b.Unsubscribe(99)
}

func TestBroadcasterUnsubscribeReleasesBlockedSender(t *testing.T) {
	b := NewBroadcaster()
	id, _ := b.Subscribe()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		// More events than the buffer holds; nobody reads.
		for i := 0; i < 100; i++ {
			b.Broadcast(Queued{Key: i})
		}
	}()

	time.Sleep(20 * time.Millisecond)
	b.Unsubscribe(id)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast stayed blocked after Unsubscribe")
	}
}

func TestMarshalEvent(t *testing.T) {
	at := time.Date(2026, 1, 11, 10, 0, 30, 0, time.UTC)
	data, err := MarshalEvent(Failed{Key: 42, Capability: "codex", Duration: 1500 * time.Millisecond, Err: "boom", At: at})
	if err != nil {
		t.Fatalf("MarshalEvent failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Could not unmarshal generated JSON: %v", err)
	}

	tests := []struct {
		key      string
		expected any
	}{
		{"type", "failed"},
		{"ts", "2026-01-11T10:00:30Z"},
		{"key", float64(42)},
		{"capability", "codex"},
		{"duration_ms", float64(1500)},
		{"error", "boom"},
	}
	if len(decoded) != len(tests) {
		t.Errorf("expected %d fields in JSON, got %d", len(tests), len(decoded))
	}
	for _, tc := range tests {
		if got, ok := decoded[tc.key]; !ok {
			t.Errorf("missing expected key: %s", tc.key)
		} else if got != tc.expected {
			t.Errorf("expected %s to be %v, got %v", tc.key, tc.expected, got)
		}
	}

	data, err = MarshalEvent(Drained{At: at})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"drained","ts":"2026-01-11T10:00:30Z"}` {
		t.Errorf("drained JSON = %s", data)
	}
}
