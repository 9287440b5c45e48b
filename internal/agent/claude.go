package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// ClaudeAgent runs analyses using the Claude Code CLI in non-interactive
// stream-json mode.
type ClaudeAgent struct {
	Command string // The claude command to run (default: "claude")
}

// NewClaudeAgent creates a new Claude Code agent
func NewClaudeAgent(command string) *ClaudeAgent {
	if command == "" {
		command = "claude"
	}
	return &ClaudeAgent{Command: command}
}

func (a *ClaudeAgent) Name() string {
	return "claude-code"
}

func (a *ClaudeAgent) CommandName() string {
	return a.Command
}

// claudeReadOnlyTools keeps analysis runs from editing the working tree.
const claudeReadOnlyTools = "Read,Glob,Grep,LS,WebFetch,WebSearch"

func (a *ClaudeAgent) buildArgs(maxSteps int) []string {
	// Prompt is piped via stdin, not passed as argument
	args := []string{"-p", "--verbose", "--output-format", "stream-json",
		"--allowedTools", claudeReadOnlyTools}
	if maxSteps > 0 {
		args = append(args, "--max-turns", strconv.Itoa(maxSteps))
	}
	return args
}

func (a *ClaudeAgent) Analyze(ctx context.Context, prompt string, opts Options, progress io.Writer) (string, error) {
	cmd := exec.CommandContext(ctx, a.Command, a.buildArgs(opts.MaxSteps)...)
	cmd.Dir = opts.WorkDir
	cmd.Stdin = strings.NewReader(prompt)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start claude: %w", err)
	}

	result, parseErr := parseStreamJSON(stdoutPipe, progress)

	if waitErr := cmd.Wait(); waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("claude: %w", ctxErr)
		}
		if parseErr != nil {
			return "", fmt.Errorf("claude failed: %w (parse error: %v)\nstderr: %s", waitErr, parseErr, stderr.String())
		}
		return "", fmt.Errorf("claude failed: %w\nstderr: %s", waitErr, stderr.String())
	}
	if parseErr != nil {
		return "", parseErr
	}
	return result, nil
}

// claudeStreamMessage represents a message in Claude's stream-json output format
type claudeStreamMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// parseStreamJSON consumes Claude's stream-json output, streaming every
// line to progress, and returns the payload of the terminal result message.
// Intermediate messages are opaque; only the final "result" is inspected.
func parseStreamJSON(r io.Reader, progress io.Writer) (string, error) {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large JSON lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	sw := newSyncWriter(progress)
	var terminal *claudeStreamMessage

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if sw != nil {
			sw.Write([]byte(line + "\n"))
		}

		var msg claudeStreamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// Skip malformed lines
			continue
		}
		if msg.Type == "result" {
			terminal = &msg
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan output: %w", err)
	}

	if terminal == nil {
		return "", ErrNoResult
	}
	if terminal.IsError || (terminal.Subtype != "" && terminal.Subtype != "success") {
		subtype := terminal.Subtype
		if subtype == "" || subtype == "success" {
			subtype = "error"
		}
		return "", fmt.Errorf("claude run ended with %s", subtype)
	}
	if strings.TrimSpace(terminal.Result) == "" {
		return "", ErrNoResult
	}
	return terminal.Result, nil
}
