package triage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chhoumann/claude-github-triage/internal/agent"
	"github.com/chhoumann/claude-github-triage/internal/artifact"
	"github.com/chhoumann/claude-github-triage/internal/metadata"
	"github.com/chhoumann/claude-github-triage/internal/queue"
	"github.com/chhoumann/claude-github-triage/internal/storage"
	"github.com/chhoumann/claude-github-triage/internal/tracker"
)

type fakeTracker struct {
	mu       sync.Mutex
	items    map[int]tracker.Item
	comments map[int][]tracker.Comment
	fetched  []int
	err      error
}

func (f *fakeTracker) GetItem(ctx context.Context, n int) (tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, n)
	if f.err != nil {
		return tracker.Item{}, f.err
	}
	item, ok := f.items[n]
	if !ok {
		return tracker.Item{}, errors.New("404 not found")
	}
	return item, nil
}

func (f *fakeTracker) ListComments(ctx context.Context, n int) ([]tracker.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[n], nil
}

type capturingAgent struct {
	*agent.TestAgent
	mu      sync.Mutex
	prompts []string
}

func (a *capturingAgent) Analyze(ctx context.Context, prompt string, opts agent.Options, progress io.Writer) (string, error) {
	a.mu.Lock()
	a.prompts = append(a.prompts, prompt)
	a.mu.Unlock()
	return a.TestAgent.Analyze(ctx, prompt, opts, progress)
}

var created = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, ag agent.Agent) (*Runner, *metadata.Store, *fakeTracker, string) {
	t.Helper()
	dir := t.TempDir()
	artifactDir := filepath.Join(dir, "artifacts")
	store, err := metadata.Open(filepath.Join(dir, "metadata.json"), artifactDir)
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTracker{
		items: map[int]tracker.Item{
			7: {Number: 7, Title: "Export hangs", Body: "It hangs.", State: tracker.StateOpen, CreatedAt: created, UpdatedAt: created},
			8: {Number: 8, Title: "Typo in README", State: tracker.StateClosed, CreatedAt: created, UpdatedAt: created},
		},
		comments: map[int][]tracker.Comment{
			7: {{Author: "dev", Body: "Can reproduce on main."}},
		},
	}
	reg := agent.NewRegistry()
	reg.Register(ag)
	r := New(Options{
		Tracker:     tr,
		Agents:      reg,
		Store:       store,
		ArtifactDir: artifactDir,
		Repo:        "acme/widgets",
		Guidelines:  "Feature requests stay open.",
	})
	return r, store, tr, artifactDir
}

func TestRunWritesArtifactAndRecord(t *testing.T) {
	ag := &capturingAgent{TestAgent: agent.NewTestAgent()}
	r, store, _, artifactDir := newFixture(t, ag)

	var progress bytes.Buffer
	r.opts.Progress = func(int) io.Writer { return &progress }

	if err := r.Run(context.Background(), queue.Job{Key: 7, Capability: "test"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(artifact.Path(artifactDir, 7))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "MODEL: test\n") || !artifact.HasBlock(string(data)) {
		t.Errorf("artifact = %q", data)
	}

	rec, ok := store.Get(7)
	if !ok || !rec.Analyzed() {
		t.Fatalf("record = %+v, want analyzed", rec)
	}
	if rec.Recommendation != artifact.RecommendKeep || rec.Confidence != artifact.ConfidenceMedium {
		t.Errorf("record verdict = %s/%s", rec.Recommendation, rec.Confidence)
	}
	if rec.ModelTag != "test" || rec.Title != "Export hangs" || rec.ClosedRemotely {
		t.Errorf("record = %+v", rec)
	}
	if rec.CreatedAt == nil || !rec.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v", rec.CreatedAt)
	}

	if len(ag.prompts) != 1 {
		t.Fatalf("agent called %d times", len(ag.prompts))
	}
	for _, want := range []string{"Export hangs", "Can reproduce on main.", "Feature requests stay open."} {
		if !strings.Contains(ag.prompts[0], want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(progress.String(), "test agent:") {
		t.Errorf("progress = %q", progress.String())
	}
}

func TestRunClosedItemPromotesToRead(t *testing.T) {
	r, store, _, _ := newFixture(t, agent.NewTestAgent())
	if err := r.Run(context.Background(), queue.Job{Key: 8, Capability: "test"}); err != nil {
		t.Fatal(err)
	}
	rec, _ := store.Get(8)
	if !rec.ClosedRemotely || rec.ReviewState != metadata.Read {
		t.Errorf("record = %+v, want closed and read", rec)
	}
}

func TestRunRejectsOutputWithoutBlock(t *testing.T) {
	ag := agent.NewTestAgent()
	ag.Output = "I looked at it and it seems fine."
	r, store, _, artifactDir := newFixture(t, ag)

	err := r.Run(context.Background(), queue.Job{Key: 7, Capability: "test"})
	if !errors.Is(err, ErrNoBlock) {
		t.Fatalf("err = %v, want ErrNoBlock", err)
	}
	if _, err := os.Stat(artifact.Path(artifactDir, 7)); !os.IsNotExist(err) {
		t.Errorf("artifact should not exist, stat err = %v", err)
	}
	if _, ok := store.Get(7); ok {
		t.Error("no record should be created")
	}
}

func TestRunErrors(t *testing.T) {
	failing := agent.NewTestAgent()
	failing.Fail = true

	tests := []struct {
		name string
		ag   *agent.TestAgent
		job  queue.Job
	}{
		{"unknown capability", agent.NewTestAgent(), queue.Job{Key: 7, Capability: "gemini"}},
		{"missing item", agent.NewTestAgent(), queue.Job{Key: 99, Capability: "test"}},
		{"agent failure", failing, queue.Job{Key: 7, Capability: "test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _, _ := newFixture(t, tt.ag)
			if err := r.Run(context.Background(), tt.job); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunMarksTransientTrackerErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"permanent", errors.New("404 not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, tr, _ := newFixture(t, agent.NewTestAgent())
			tr.err = tt.err

			err := r.Run(context.Background(), queue.Job{Key: 7, Capability: "test"})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want wrapping %v", err, tt.err)
			}
			if got := strings.Contains(err.Error(), "retry later"); got != tt.transient {
				t.Errorf("retry hint = %v, want %v: %v", got, tt.transient, err)
			}
		})
	}
}

func TestRunUnknownCapabilitySkipsFetch(t *testing.T) {
	r, _, tr, _ := newFixture(t, agent.NewTestAgent())
	if err := r.Run(context.Background(), queue.Job{Key: 7, Capability: "nope"}); err == nil {
		t.Fatal("expected error")
	}
	if len(tr.fetched) != 0 {
		t.Errorf("fetched %v before resolving the agent", tr.fetched)
	}
}

func TestRunThroughQueue(t *testing.T) {
	ag := agent.NewTestAgent()
	r, store, _, _ := newFixture(t, ag)

	q := queue.New(r, queue.Options{Concurrency: 2, Capability: "test"})
	id, events := q.Subscribe()
	defer q.Unsubscribe(id)

	if n := q.Enqueue(7, 8, 7); n != 2 {
		t.Errorf("Enqueue admitted %d, want 2", n)
	}

	var succeeded, failed int
	timeout := time.After(10 * time.Second)
	for done := false; !done; {
		select {
		case e := <-events:
			switch e.(type) {
			case queue.Succeeded:
				succeeded++
			case queue.Failed:
				failed++
			case queue.Drained:
				done = true
			}
		case <-timeout:
			t.Fatal("queue did not drain")
		}
	}
	if succeeded != 2 || failed != 0 {
		t.Errorf("succeeded=%d failed=%d", succeeded, failed)
	}
	if ag.Calls() != 2 {
		t.Errorf("agent calls = %d, want 2", ag.Calls())
	}
	if st := store.Stats(); st.Analyzed != 2 || st.ClosedRemotely != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRecordHistory(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	events := make(chan queue.Event, 8)
	events <- queue.Queued{Key: 1}
	events <- queue.Started{Key: 1, Capability: "test"}
	events <- queue.Started{Key: 2, Capability: "codex"}
	events <- queue.Succeeded{Key: 1, Capability: "test", Duration: time.Second}
	events <- queue.Failed{Key: 2, Capability: "codex", Err: "codex: timed out", Duration: 2 * time.Second}
	events <- queue.Failed{Key: 3, Err: "never started"}
	events <- queue.Drained{}
	close(events)

	RecordHistory(events, db, "acme/widgets")

	runs, err := db.ListRuns(storage.RunFilter{Repo: "acme/widgets"})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	byIssue := map[int]storage.Run{}
	for _, r := range runs {
		byIssue[r.Issue] = r
	}
	if r := byIssue[1]; r.Status != storage.RunSucceeded || r.Agent != "test" || r.Duration != time.Second {
		t.Errorf("run #1 = %+v", r)
	}
	if r := byIssue[2]; r.Status != storage.RunFailed || r.Error != "codex: timed out" {
		t.Errorf("run #2 = %+v", r)
	}
}
