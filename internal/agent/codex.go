package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// CodexAgent runs analyses using the Codex CLI
type CodexAgent struct {
	Command string // The codex command to run (default: "codex")
}

const codexAutoApproveFlag = "--full-auto"

var codexAutoApproveSupport sync.Map

// NewCodexAgent creates a new Codex agent
func NewCodexAgent(command string) *CodexAgent {
	if command == "" {
		command = "codex"
	}
	return &CodexAgent{Command: command}
}

func (a *CodexAgent) Name() string {
	return "codex"
}

func (a *CodexAgent) CommandName() string {
	return a.Command
}

func (a *CodexAgent) buildArgs(workDir, outputFile string, autoApprove bool) []string {
	args := []string{"exec"}
	if autoApprove {
		args = append(args, codexAutoApproveFlag)
	}
	args = append(args, "--sandbox", "read-only")
	if workDir != "" {
		args = append(args, "-C", workDir)
	}
	args = append(args, "-o", outputFile)
	// "-" must come after all flags to read prompt from stdin
	return append(args, "-")
}

func codexSupportsAutoApproveFlag(ctx context.Context, command string) (bool, error) {
	if cached, ok := codexAutoApproveSupport.Load(command); ok {
		return cached.(bool), nil
	}
	cmd := exec.CommandContext(ctx, command, "--help")
	output, err := cmd.CombinedOutput()
	supported := strings.Contains(string(output), codexAutoApproveFlag)
	if err != nil && !supported {
		return false, fmt.Errorf("check %s --help: %w: %s", command, err, output)
	}
	codexAutoApproveSupport.Store(command, supported)
	return supported, nil
}

// Analyze runs codex exec. Codex has no turn limit flag, so MaxSteps is
// not forwarded; the context deadline bounds the run.
func (a *CodexAgent) Analyze(ctx context.Context, prompt string, opts Options, progress io.Writer) (string, error) {
	// Create unique temp file for output
	tmpFile, err := os.CreateTemp("", "triage-codex-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	outputFile := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(outputFile)

	autoApprove, err := codexSupportsAutoApproveFlag(ctx, a.Command)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, a.Command, a.buildArgs(opts.WorkDir, outputFile, autoApprove)...)
	cmd.Dir = opts.WorkDir
	cmd.Stdin = strings.NewReader(prompt)

	var stderr bytes.Buffer
	if sw := newSyncWriter(progress); sw != nil {
		// Stream stderr (progress info) to output
		cmd.Stderr = io.MultiWriter(&stderr, sw)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("codex: %w", ctxErr)
		}
		return "", fmt.Errorf("codex failed: %w\nstderr: %s", err, stderr.String())
	}

	result, err := os.ReadFile(outputFile)
	if err != nil {
		return "", fmt.Errorf("read output: %w", err)
	}
	if len(bytes.TrimSpace(result)) == 0 {
		return "", ErrNoResult
	}
	return string(result), nil
}
