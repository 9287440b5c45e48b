package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"

	"github.com/chhoumann/claude-github-triage/internal/config"
)

// ErrNoResult is returned when an analysis run ends without a terminal
// result message.
var ErrNoResult = errors.New("analysis produced no result")

// Options carries the per-run budget handed to an agent.
type Options struct {
	// WorkDir is the directory the agent runs in.
	WorkDir string
	// MaxSteps caps agent turns/tool calls. Zero means the agent default.
	MaxSteps int
}

// Agent defines the interface for analysis agents
type Agent interface {
	// Name returns the agent identifier (e.g., "codex", "claude-code")
	Name() string

	// Analyze runs one analysis and returns the terminal result text.
	// If progress is non-nil, intermediate output is streamed to it.
	// The run is bounded by ctx; a deadline surfaces as an error.
	Analyze(ctx context.Context, prompt string, opts Options, progress io.Writer) (result string, err error)
}

// CommandAgent is an agent that uses an external command
type CommandAgent interface {
	Agent
	// CommandName returns the executable command name
	CommandName() string
}

// aliases maps short names to full agent names
var aliases = map[string]string{
	"claude": "claude-code",
}

// CanonicalName resolves aliases, e.g. "claude" -> "claude-code".
func CanonicalName(name string) string {
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Registry holds the agents a queue may select by name.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// DefaultRegistry registers the built-in agents using commands from cfg.
func DefaultRegistry(cfg *config.Config) *Registry {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	r := NewRegistry()
	r.Register(NewClaudeAgent(cfg.ClaudeCodeCmd))
	r.Register(NewCodexAgent(cfg.CodexCmd))
	r.Register(NewTestAgent())
	return r
}

// Register adds an agent, replacing any agent with the same name.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// Get returns an agent by name (supports aliases like "claude" for "claude-code")
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[CanonicalName(name)]
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", name)
	}
	return a, nil
}

// Available returns the sorted names of all registered agents
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAvailable checks if an agent's command is installed on the system
func (r *Registry) IsAvailable(name string) bool {
	a, err := r.Get(name)
	if err != nil {
		return false
	}
	if ca, ok := a.(CommandAgent); ok {
		_, err := exec.LookPath(ca.CommandName())
		return err == nil
	}
	// Non-command agents (like test) are always available
	return true
}

// syncWriter wraps an io.Writer with mutex protection for concurrent writes.
// io.MultiWriter may send stdout and stderr to the same writer concurrently.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// newSyncWriter creates a thread-safe wrapper around an io.Writer.
// Returns nil if w is nil.
func newSyncWriter(w io.Writer) *syncWriter {
	if w == nil {
		return nil
	}
	return &syncWriter{w: w}
}

func (sw *syncWriter) Write(p []byte) (n int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w.Write(p)
}
