package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// DefaultTestOutput is a well-formed triage block.
const DefaultTestOutput = `=== TRIAGE ANALYSIS START ===
SHOULD_CLOSE: No
LABELS: needs-triage
CONFIDENCE: Medium
ANALYSIS:
Test analysis output.
=== TRIAGE ANALYSIS END ===`

// TestAgent is a mock agent for testing that returns predictable output
type TestAgent struct {
	Delay  time.Duration // Simulated processing delay
	Output string        // Fixed output to return
	Fail   bool          // If true, returns an error

	calls atomic.Int32
}

// NewTestAgent creates a new test agent
func NewTestAgent() *TestAgent {
	return &TestAgent{
		Delay:  10 * time.Millisecond,
		Output: DefaultTestOutput,
	}
}

func (a *TestAgent) Name() string {
	return "test"
}

// Calls returns how many times Analyze has been invoked.
func (a *TestAgent) Calls() int {
	return int(a.calls.Load())
}

func (a *TestAgent) Analyze(ctx context.Context, prompt string, opts Options, progress io.Writer) (string, error) {
	a.calls.Add(1)

	// Respect context cancellation
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(a.Delay):
	}

	if a.Fail {
		return "", errors.New("test agent configured to fail")
	}
	if a.Output == "" {
		return "", ErrNoResult
	}

	if progress != nil {
		if _, err := fmt.Fprintf(progress, "test agent: %d byte prompt\n", len(prompt)); err != nil {
			return "", fmt.Errorf("write progress: %w", err)
		}
	}
	return a.Output, nil
}
