package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chhoumann/claude-github-triage/internal/agent"
	"github.com/chhoumann/claude-github-triage/internal/artifact"
	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/testenv"
)

// TestMain keeps CLI tests away from the real ~/.triage.
func TestMain(m *testing.M) {
	os.Exit(testenv.RunIsolatedMain(m))
}

// fakeGitHub serves the issues endpoints the CLI uses.
type fakeGitHub struct {
	mu      sync.Mutex
	issues  map[int]map[string]any
	patches []int
}

func newFakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	f := &fakeGitHub{issues: map[int]map[string]any{
		3: issueJSON(3, "Old crash report", "closed"),
		7: issueJSON(7, "Export hangs on large files", "open"),
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		list := []map[string]any{}
		f.mu.Lock()
		if page <= 1 {
			for _, n := range []int{7, 3} {
				if is := f.issues[n]; state == "all" || is["state"] == state {
					list = append(list, is)
				}
			}
		}
		f.mu.Unlock()
		writeJSON(t, w, list)
	})
	mux.HandleFunc("GET /repos/acme/widgets/issues/{n}", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.PathValue("n"))
		f.mu.Lock()
		is, ok := f.issues[n]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
			return
		}
		writeJSON(t, w, is)
	})
	mux.HandleFunc("PATCH /repos/acme/widgets/issues/{n}", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.PathValue("n"))
		var edit map[string]any
		if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
			t.Errorf("decode edit: %v", err)
		}
		f.mu.Lock()
		f.patches = append(f.patches, n)
		is := f.issues[n]
		if state, ok := edit["state"].(string); ok {
			is["state"] = state
		}
		f.mu.Unlock()
		writeJSON(t, w, is)
	})
	mux.HandleFunc("GET /repos/acme/widgets/issues/{n}/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{{
			"id":         1,
			"body":       "Still happens on 2.3",
			"user":       map[string]any{"login": "someone"},
			"created_at": "2026-02-03T10:00:00Z",
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func issueJSON(n int, title, state string) map[string]any {
	return map[string]any{
		"number":     n,
		"title":      title,
		"body":       "body of " + title,
		"state":      state,
		"html_url":   fmt.Sprintf("https://github.com/acme/widgets/issues/%d", n),
		"user":       map[string]any{"login": "reporter"},
		"labels":     []map[string]any{{"name": "bug"}},
		"created_at": "2026-02-01T10:00:00Z",
		"updated_at": "2026-02-02T10:00:00Z",
	}
}

// setupProject creates an isolated data dir and a project directory bound
// to acme/widgets, and returns the project directory.
func setupProject(t *testing.T, apiURL string) string {
	t.Helper()
	dataDir := testenv.SetDataDir(t)
	t.Setenv("GITHUB_TOKEN", "test-token")
	t.Setenv("GH_TOKEN", "")

	global := fmt.Sprintf("api_base_url = %q\n", apiURL+"/")
	if err := os.WriteFile(filepath.Join(dataDir, "config.toml"), []byte(global), 0644); err != nil {
		t.Fatal(err)
	}

	projectDir := t.TempDir()
	local := "repo = \"acme/widgets\"\nagent = \"test\"\n"
	if err := os.WriteFile(filepath.Join(projectDir, config.ProjectConfigFile), []byte(local), 0644); err != nil {
		t.Fatal(err)
	}
	return projectDir
}

// runCLI executes the root command against projectDir.
func runCLI(t *testing.T, projectDir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--dir", projectDir}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, projectDir string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, projectDir, args...)
	if err != nil {
		t.Fatalf("triage %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func writeArtifact(t *testing.T, projectDir string, n int, body string) {
	t.Helper()
	dir := filepath.Join(projectDir, ".triage")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact.Path(dir, n), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

const closeArtifact = `MODEL: claude-code

=== TRIAGE ANALYSIS START ===
SHOULD_CLOSE: Yes
LABELS: duplicate
CONFIDENCE: High
ANALYSIS:
Duplicate of #1.
=== TRIAGE ANALYSIS END ===
`

func TestScanListMark(t *testing.T) {
	dir := setupProject(t, "http://127.0.0.1:1")
	writeArtifact(t, dir, 3, closeArtifact)

	out := mustRun(t, dir, "scan")
	if !strings.Contains(out, "Scanned 1 artifacts: 1 new") {
		t.Errorf("scan output = %q", out)
	}

	out = mustRun(t, dir, "list")
	if !strings.Contains(out, "unread") || !strings.Contains(out, "close") {
		t.Errorf("list output = %q", out)
	}

	mustRun(t, dir, "mark", "read", "#3")
	if out := mustRun(t, dir, "list", "--unread"); !strings.Contains(out, "No issues found.") {
		t.Errorf("list --unread after mark = %q", out)
	}

	out = mustRun(t, dir, "stats", "--json")
	var st struct {
		Total int `json:"total"`
		Read  int `json:"read"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("stats json: %v\n%s", err, out)
	}
	if st.Total != 1 || st.Read != 1 {
		t.Errorf("stats = %+v", st)
	}

	if _, err := runCLI(t, dir, "mark", "done", "3"); err == nil {
		t.Error("expected error for invalid review state")
	}
	if _, err := runCLI(t, dir, "mark", "read", "99"); err == nil {
		t.Error("expected error for unknown issue")
	}
}

func TestNoteAndTag(t *testing.T) {
	dir := setupProject(t, "http://127.0.0.1:1")
	writeArtifact(t, dir, 3, closeArtifact)
	mustRun(t, dir, "scan")

	mustRun(t, dir, "note", "3", "checked", "with", "team")
	out := mustRun(t, dir, "tag", "3", "later", "dupe")
	if !strings.Contains(out, "#3 tags: dupe, later") && !strings.Contains(out, "#3 tags: later, dupe") {
		t.Errorf("tag output = %q", out)
	}
	out = mustRun(t, dir, "tag", "--remove", "3", "dupe")
	if strings.Contains(out, "dupe") {
		t.Errorf("tag --remove output = %q", out)
	}

	out = mustRun(t, dir, "show", "3")
	for _, want := range []string{"Recommendation: close", "Duplicate of #1.", "checked with team", "Tags: later"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestRunAnalyzesIssue(t *testing.T) {
	srv := newFakeGitHub(t)
	dir := setupProject(t, srv.URL)

	out := mustRun(t, dir, "run", "7")
	if !strings.Contains(out, "#7 done") || !strings.Contains(out, "all jobs finished") {
		t.Errorf("run output = %q", out)
	}

	data, err := os.ReadFile(artifact.Path(filepath.Join(dir, ".triage"), 7))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !strings.HasPrefix(string(data), "MODEL: test") {
		t.Errorf("artifact = %q", data)
	}

	out = mustRun(t, dir, "list", "--model", "test")
	if !strings.Contains(out, "Export hangs on large files") {
		t.Errorf("list output = %q", out)
	}

	out = mustRun(t, dir, "log", "--issue", "7")
	if !strings.Contains(out, "succeeded") || !strings.Contains(out, "test") {
		t.Errorf("log output = %q", out)
	}
}

func TestRunJSONEvents(t *testing.T) {
	srv := newFakeGitHub(t)
	dir := setupProject(t, srv.URL)

	out := mustRun(t, dir, "run", "--json", "7")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var types []string
	for _, line := range lines {
		var ev struct {
			Type string `json:"type"`
			Key  int    `json:"key"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		types = append(types, ev.Type)
	}
	want := []string{"queued", "started", "succeeded", "drained"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event types = %v, want %v", types, want)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRunOutputErrorStopsQueue(t *testing.T) {
	srv := newFakeGitHub(t)
	dir := setupProject(t, srv.URL)

	done := make(chan error, 1)
	go func() {
		root := newRootCmd()
		root.SetOut(failingWriter{})
		root.SetErr(io.Discard)
		root.SetArgs([]string{"--dir", dir, "run", "--json", "7", "3"})
		done <- root.Execute()
	}()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "broken pipe") {
			t.Errorf("err = %v, want write error", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after its output failed")
	}

	out := mustRun(t, dir, "log")
	if strings.Contains(out, "running") {
		t.Errorf("history left a run unfinished:\n%s", out)
	}
}

func TestRunOpenSkipsAnalyzed(t *testing.T) {
	srv := newFakeGitHub(t)
	dir := setupProject(t, srv.URL)
	writeArtifact(t, dir, 7, closeArtifact)
	mustRun(t, dir, "scan")

	out := mustRun(t, dir, "run", "--open")
	if !strings.Contains(out, "Nothing to analyze.") {
		t.Errorf("run --open output = %q", out)
	}
}

func TestRunReportsFailures(t *testing.T) {
	srv := newFakeGitHub(t)
	dir := setupProject(t, srv.URL)

	orig := newRegistry
	t.Cleanup(func() { newRegistry = orig })
	newRegistry = func(*config.Config) *agent.Registry {
		r := agent.NewRegistry()
		a := agent.NewTestAgent()
		a.Fail = true
		r.Register(a)
		return r
	}

	out, err := runCLI(t, dir, "run", "7")
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 1 {
		t.Fatalf("err = %v, want exit code 1", err)
	}
	if !strings.Contains(out, "1 of 1 jobs failed") {
		t.Errorf("run output = %q", out)
	}

	out = mustRun(t, dir, "log", "--status", "failed")
	if !strings.Contains(out, "test agent configured to fail") {
		t.Errorf("log output = %q", out)
	}
}

func TestRunArgumentErrors(t *testing.T) {
	dir := setupProject(t, "http://127.0.0.1:1")
	tests := [][]string{
		{"run"},
		{"run", "--open", "7"},
		{"run", "seven"},
		{"run", "--agent", "gemini", "7"},
	}
	for _, args := range tests {
		if _, err := runCLI(t, dir, args...); err == nil {
			t.Errorf("triage %v: expected error", args)
		}
	}
}

func TestCloseAndSync(t *testing.T) {
	srv := newFakeGitHub(t)
	dir := setupProject(t, srv.URL)
	writeArtifact(t, dir, 3, closeArtifact)
	writeArtifact(t, dir, 7, closeArtifact)
	mustRun(t, dir, "scan")

	out := mustRun(t, dir, "sync")
	if !strings.Contains(out, "Synced 1 closed issues: 1 updated") {
		t.Errorf("sync output = %q", out)
	}
	out = mustRun(t, dir, "list", "--closed")
	if !strings.Contains(out, "Old crash report") {
		t.Errorf("list --closed = %q", out)
	}

	out = mustRun(t, dir, "close", "7")
	if !strings.Contains(out, "Closed #7") {
		t.Errorf("close output = %q", out)
	}
	out = mustRun(t, dir, "list", "--closed", "--json")
	var records []struct {
		Number         int    `json:"number"`
		ReviewState    string `json:"reviewState"`
		ClosedRemotely bool   `json:"closedRemotely"`
	}
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("list json: %v\n%s", err, out)
	}
	if len(records) != 2 {
		t.Fatalf("closed records = %+v", records)
	}
	for _, r := range records {
		if !r.ClosedRemotely || r.ReviewState != "read" {
			t.Errorf("record = %+v", r)
		}
	}
}

func TestSyncReportsTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message":"Bad Gateway"}`)
	}))
	t.Cleanup(srv.Close)
	dir := setupProject(t, srv.URL)

	out, err := runCLI(t, dir, "sync")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, "run it again") {
		t.Errorf("sync output = %q, want retry hint", out)
	}
}

func TestConfigSetGet(t *testing.T) {
	dir := setupProject(t, "http://127.0.0.1:1")

	mustRun(t, dir, "config", "set", "max_concurrency", "5")
	if out := mustRun(t, dir, "config", "get", "max_concurrency"); strings.TrimSpace(out) != "5" {
		t.Errorf("config get = %q", out)
	}

	mustRun(t, dir, "config", "set", "--local", "agent", "codex")
	if out := mustRun(t, dir, "config", "get", "--local", "agent"); strings.TrimSpace(out) != "codex" {
		t.Errorf("config get --local = %q", out)
	}
	if out := mustRun(t, dir, "config", "get", "--local", "repo"); strings.TrimSpace(out) != "acme/widgets" {
		t.Errorf("local repo should survive set, got %q", out)
	}

	mustRun(t, dir, "config", "set", "github_token", "ghp_secretvalue")
	if out := mustRun(t, dir, "config", "list"); !strings.Contains(out, "github_token=****alue") {
		t.Errorf("token should be masked: %q", out)
	}

	if _, err := runCLI(t, dir, "config", "set", "no_such_key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, t.TempDir(), "version")
	if !strings.HasPrefix(out, "triage ") {
		t.Errorf("version output = %q", out)
	}
}

func TestParseNumbers(t *testing.T) {
	got, err := parseNumbers([]string{"1", "#42"})
	if err != nil || len(got) != 2 || got[0] != 1 || got[1] != 42 {
		t.Errorf("parseNumbers = %v, %v", got, err)
	}
	for _, bad := range []string{"0", "-3", "abc", "#"} {
		if _, err := parseNumbers([]string{bad}); err == nil {
			t.Errorf("parseNumbers(%q): expected error", bad)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short title", 20, "short title"},
		{"multi\n  line   title", 0, "multi line title"},
		{"abcdefghij", 5, "abcd…"},
		{"日本語のタイトル", 7, "日本語…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestProgressLogPrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	p := &progressLog{w: &buf}
	a, b := p.writer(3), p.writer(12)
	fmt.Fprint(a, "reading ")
	fmt.Fprint(b, "one\ntwo\n")
	fmt.Fprint(a, "files\n")

	want := "#12 | one\n#12 | two\n#3 | reading files\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
