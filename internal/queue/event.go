package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a queue lifecycle event. The set of implementations is closed:
// Queued, Started, Succeeded, Failed and Drained.
type Event interface {
	Kind() string
	Time() time.Time
	isEvent()
}

// Queued is emitted when a key is admitted to the pending FIFO.
type Queued struct {
	Key int
	At  time.Time
}

// Started is emitted when a job begins running.
type Started struct {
	Key        int
	Capability string
	At         time.Time
}

// Succeeded is a job's terminal event on success.
type Succeeded struct {
	Key        int
	Capability string
	Duration   time.Duration
	At         time.Time
}

// Failed is a job's terminal event on error, timeout or panic.
type Failed struct {
	Key        int
	Capability string
	Duration   time.Duration
	Err        string
	At         time.Time
}

// Drained is emitted once each time the queue runs out of pending and
// active work.
type Drained struct {
	At time.Time
}

func (Queued) Kind() string    { return "queued" }
func (Started) Kind() string   { return "started" }
func (Succeeded) Kind() string { return "succeeded" }
func (Failed) Kind() string    { return "failed" }
func (Drained) Kind() string   { return "drained" }

func (e Queued) Time() time.Time    { return e.At }
func (e Started) Time() time.Time   { return e.At }
func (e Succeeded) Time() time.Time { return e.At }
func (e Failed) Time() time.Time    { return e.At }
func (e Drained) Time() time.Time   { return e.At }

func (Queued) isEvent()    {}
func (Started) isEvent()   {}
func (Succeeded) isEvent() {}
func (Failed) isEvent()    {}
func (Drained) isEvent()   {}

// EventKey returns the job key of e, or 0 for Drained.
func EventKey(e Event) int {
	switch ev := e.(type) {
	case Queued:
		return ev.Key
	case Started:
		return ev.Key
	case Succeeded:
		return ev.Key
	case Failed:
		return ev.Key
	default:
		return 0
	}
}

// String renders an event for logs and tests, e.g. "started(3)".
func String(e Event) string {
	if _, ok := e.(Drained); ok {
		return "drained"
	}
	return fmt.Sprintf("%s(%d)", e.Kind(), EventKey(e))
}

type wireEvent struct {
	Type       string `json:"type"`
	TS         string `json:"ts"`
	Key        int    `json:"key,omitempty"`
	Capability string `json:"capability,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MarshalEvent converts an event to JSON for streaming
func MarshalEvent(e Event) ([]byte, error) {
	w := wireEvent{
		Type: e.Kind(),
		TS:   e.Time().UTC().Format(time.RFC3339),
		Key:  EventKey(e),
	}
	switch ev := e.(type) {
	case Started:
		w.Capability = ev.Capability
	case Succeeded:
		w.Capability = ev.Capability
		w.DurationMS = ev.Duration.Milliseconds()
	case Failed:
		w.Capability = ev.Capability
		w.DurationMS = ev.Duration.Milliseconds()
		w.Error = ev.Err
	}
	return json.Marshal(w)
}
