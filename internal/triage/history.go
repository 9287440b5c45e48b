package triage

import (
	"log"
	"time"

	"github.com/chhoumann/claude-github-triage/internal/queue"
	"github.com/chhoumann/claude-github-triage/internal/storage"
)

// History is where run attempts are recorded.
type History interface {
	StartRun(repo string, issue int, agent string) (string, error)
	FinishRun(id string, status storage.RunStatus, errMsg string, duration time.Duration) error
}

// RecordHistory writes a run row for every Started and closes it on the
// matching terminal event. It returns when events is closed. History errors
// are logged and never stop the loop.
func RecordHistory(events <-chan queue.Event, h History, repo string) {
	open := make(map[int]string)
	for e := range events {
		switch e := e.(type) {
		case queue.Started:
			id, err := h.StartRun(repo, e.Key, e.Capability)
			if err != nil {
				log.Printf("[history] #%d: start: %v", e.Key, err)
				continue
			}
			open[e.Key] = id
		case queue.Succeeded:
			finish(h, open, e.Key, storage.RunSucceeded, "", e.Duration)
		case queue.Failed:
			finish(h, open, e.Key, storage.RunFailed, e.Err, e.Duration)
		}
	}
}

func finish(h History, open map[int]string, key int, status storage.RunStatus, msg string, d time.Duration) {
	id, ok := open[key]
	if !ok {
		return
	}
	delete(open, key)
	if err := h.FinishRun(id, status, msg, d); err != nil {
		log.Printf("[history] #%d: finish: %v", key, err)
	}
}
