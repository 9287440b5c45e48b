package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeGitHub serves a minimal subset of the issues API.
type fakeGitHub struct {
	mu       sync.Mutex
	issues   []map[string]any
	comments []map[string]any
	edits    []map[string]any
	queries  []string
	status   int
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.RawQuery)
		status := f.status
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"message":"upstream trouble"}`)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		writeJSON(t, w, paginate(f.issues, page, perPage))
	})
	mux.HandleFunc("/repos/acme/widgets/issues/5", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, issueJSON(5, "Broken build", "open", false))
		case http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			var edit map[string]any
			if err := json.Unmarshal(body, &edit); err != nil {
				t.Errorf("decode edit: %v", err)
			}
			f.mu.Lock()
			f.edits = append(f.edits, edit)
			f.mu.Unlock()
			state, _ := edit["state"].(string)
			if state == "" {
				state = "open"
			}
			writeJSON(t, w, issueJSON(5, "Broken build", state, false))
		}
	})
	mux.HandleFunc("/repos/acme/widgets/issues/5/comments", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		writeJSON(t, w, paginate(f.comments, page, perPage))
	})
	return mux
}

func paginate(all []map[string]any, page, perPage int) []map[string]any {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(all) {
		return []map[string]any{}
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func issueJSON(n int, title, state string, pr bool) map[string]any {
	is := map[string]any{
		"number":     n,
		"title":      title,
		"body":       "body of " + title,
		"state":      state,
		"html_url":   fmt.Sprintf("https://github.com/acme/widgets/issues/%d", n),
		"comments":   2,
		"user":       map[string]any{"login": "reporter"},
		"labels":     []map[string]any{{"name": "bug"}},
		"created_at": "2026-02-01T10:00:00Z",
		"updated_at": "2026-02-02T10:00:00Z",
	}
	if pr {
		is["pull_request"] = map[string]any{"url": "https://api.github.com/x"}
	}
	return is
}

func newTestClient(t *testing.T, f *fakeGitHub) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Options{Owner: "acme", Repo: "widgets", Token: "tok", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestListItemsPaginationAndPRFilter(t *testing.T) {
	f := &fakeGitHub{}
	for i := 1; i <= 150; i++ {
		f.issues = append(f.issues, issueJSON(i, fmt.Sprintf("issue %d", i), "closed", i%10 == 0))
	}
	c := newTestClient(t, f)
	ctx := context.Background()

	p1, err := c.ListItems(ctx, StateClosed, []string{"bug", "p1"}, 1)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if p1.Size != 100 || p1.Last() {
		t.Errorf("page 1 size=%d last=%v, want 100/false", p1.Size, p1.Last())
	}
	if len(p1.Items) != 90 {
		t.Errorf("page 1 items = %d, want 90 after dropping pull requests", len(p1.Items))
	}

	p2, err := c.ListItems(ctx, StateClosed, nil, 2)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if p2.Size != 50 || !p2.Last() {
		t.Errorf("page 2 size=%d last=%v, want 50/true", p2.Size, p2.Last())
	}

	f.mu.Lock()
	first := f.queries[0]
	f.mu.Unlock()
	if !strings.Contains(first, "state=closed") || !strings.Contains(first, "labels=bug%2Cp1") {
		t.Errorf("unexpected query %q", first)
	}
	if !strings.Contains(first, "per_page=100") {
		t.Errorf("query %q should request 100 per page", first)
	}

	got := p1.Items[0]
	if got.Number != 1 || got.Title != "issue 1" || got.Author != "reporter" || got.State != "closed" {
		t.Errorf("item = %+v", got)
	}
	if diff := cmp.Diff([]string{"bug"}, got.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("timestamps not parsed: %+v", got)
	}
}

func TestGetItemAndComments(t *testing.T) {
	f := &fakeGitHub{}
	for i := 1; i <= 120; i++ {
		f.comments = append(f.comments, map[string]any{
			"id":         i,
			"body":       fmt.Sprintf("comment %d", i),
			"user":       map[string]any{"login": "dev"},
			"created_at": "2026-02-03T10:00:00Z",
		})
	}
	c := newTestClient(t, f)
	ctx := context.Background()

	item, err := c.GetItem(ctx, 5)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Title != "Broken build" || item.Comments != 2 || item.URL == "" {
		t.Errorf("item = %+v", item)
	}

	comments, err := c.ListComments(ctx, 5)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 120 {
		t.Fatalf("got %d comments, want 120", len(comments))
	}
	if comments[119].Body != "comment 120" || comments[0].Author != "dev" {
		t.Errorf("comments = %+v ... %+v", comments[0], comments[119])
	}
}

func TestUpdateItem(t *testing.T) {
	f := &fakeGitHub{}
	c := newTestClient(t, f)
	ctx := context.Background()

	item, err := c.UpdateItem(ctx, 5, Update{State: StateClosed, Labels: []string{"wontfix"}})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if item.State != StateClosed {
		t.Errorf("state = %q", item.State)
	}

	if _, err := c.UpdateItem(ctx, 5, Update{State: "merged"}); err == nil {
		t.Error("expected error for invalid state")
	}

	f.mu.Lock()
	edits := f.edits
	f.mu.Unlock()
	if len(edits) != 1 {
		t.Fatalf("edits = %v", edits)
	}
	if edits[0]["state"] != "closed" {
		t.Errorf("edit = %v", edits[0])
	}
	if diff := cmp.Diff([]any{"wontfix"}, edits[0]["labels"]); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestIsTransient(t *testing.T) {
	f := &fakeGitHub{status: http.StatusBadGateway}
	c := newTestClient(t, f)

	_, err := c.ListItems(context.Background(), StateOpen, nil, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("502 should be transient: %v", err)
	}

	f.mu.Lock()
	f.status = http.StatusNotFound
	f.mu.Unlock()
	_, err = c.ListItems(context.Background(), StateOpen, nil, 1)
	if err == nil || IsTransient(err) {
		t.Errorf("404 should not be transient: %v", err)
	}

	if IsTransient(nil) || IsTransient(errors.New("plain")) {
		t.Error("nil and plain errors are not transient")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{Owner: "acme"}); err == nil {
		t.Error("expected error without repo")
	}
	c, err := New(Options{Owner: "acme", Repo: "widgets", BaseURL: "http://example.test/api"})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.gh.BaseURL.String(); got != "http://example.test/api/" {
		t.Errorf("base url = %q", got)
	}
	if c.Repo() != "acme/widgets" {
		t.Errorf("Repo() = %q", c.Repo())
	}
}
