// Package prompt builds the instructions handed to an analysis agent for
// one issue.
package prompt

import (
	"fmt"
	"strings"

	"github.com/chhoumann/claude-github-triage/internal/tracker"
)

// MaxPromptSize is the maximum size of a prompt in bytes (250KB).
// Older comments are dropped first when an issue thread exceeds it.
const MaxPromptSize = 250 * 1024

// SystemPrompt is the base triage instruction.
const SystemPrompt = `You are triaging an issue for a software project. You have read-only access
to the project's source code in the current working directory. Investigate the
code as needed to decide whether the issue should be closed.

Consider:

1. **Validity**: Is this a real bug or a reasonable feature request?
2. **Duplicates**: Does it repeat a known issue or one already fixed?
3. **Reproducibility**: Is there enough information to act on it?
4. **Scope**: Does it fit the project's goals?

Finish with exactly one block in this format and nothing after it:

=== TRIAGE ANALYSIS START ===
SHOULD_CLOSE: Yes|No
LABELS: comma, separated, list
CONFIDENCE: High|Medium|Low
ANALYSIS:
<your reasoning>
SUGGESTED_RESPONSE:
<optional reply to post on the issue>
=== TRIAGE ANALYSIS END ===`

// codexSuffix is appended for agents that print their whole transcript.
const codexSuffix = `

Your final message must contain only the triage block.`

// ProjectGuidelinesHeader introduces the project-specific guidelines section
const ProjectGuidelinesHeader = `
## Project Guidelines

The following are project-specific triage guidelines. Take these into account;
they may override the default criteria.
`

// Input is everything a prompt is built from.
type Input struct {
	Repo       string
	Agent      string
	Item       tracker.Item
	Comments   []tracker.Comment
	Guidelines string
}

// GetSystemPrompt returns the base instruction for an agent.
func GetSystemPrompt(agentName string) string {
	switch strings.ToLower(agentName) {
	case "codex":
		return SystemPrompt + codexSuffix
	default:
		return SystemPrompt
	}
}

// Build renders the full prompt for one issue.
func Build(in Input) string {
	var sb strings.Builder
	sb.WriteString(GetSystemPrompt(in.Agent))
	sb.WriteString("\n")
	writeGuidelines(&sb, in.Guidelines)

	item := in.Item
	fmt.Fprintf(&sb, "\n## Issue #%d: %s\n\n", item.Number, item.Title)
	if in.Repo != "" {
		fmt.Fprintf(&sb, "Repository: %s\n", in.Repo)
	}
	if item.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", item.Author)
	}
	if item.State != "" {
		fmt.Fprintf(&sb, "State: %s\n", item.State)
	}
	if len(item.Labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n", strings.Join(item.Labels, ", "))
	}
	if !item.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "Created: %s\n", item.CreatedAt.UTC().Format("2006-01-02"))
	}
	sb.WriteString("\n")
	body := strings.TrimSpace(item.Body)
	if body == "" {
		body = "(no description)"
	}
	sb.WriteString(body)
	sb.WriteString("\n")

	writeComments(&sb, in.Comments, MaxPromptSize-sb.Len())
	return sb.String()
}

func writeGuidelines(sb *strings.Builder, guidelines string) {
	if strings.TrimSpace(guidelines) == "" {
		return
	}
	sb.WriteString(ProjectGuidelinesHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(guidelines))
	sb.WriteString("\n")
}

// writeComments writes the newest comments that fit in budget, oldest
// first, noting how many were omitted.
func writeComments(sb *strings.Builder, comments []tracker.Comment, budget int) {
	if len(comments) == 0 {
		return
	}

	rendered := make([]string, len(comments))
	for i, c := range comments {
		author := c.Author
		if author == "" {
			author = "unknown"
		}
		rendered[i] = fmt.Sprintf("\n### %s (%s)\n\n%s\n",
			author, c.CreatedAt.UTC().Format("2006-01-02"), strings.TrimSpace(c.Body))
	}

	header := fmt.Sprintf("\n## Comments (%d)\n", len(comments))
	// Reserve room for the omission note.
	budget -= len(header) + 64
	start := len(rendered)
	for start > 0 && budget-len(rendered[start-1]) >= 0 {
		start--
		budget -= len(rendered[start])
	}

	sb.WriteString(header)
	if start > 0 {
		fmt.Fprintf(sb, "\n(%d earlier comments omitted for length)\n", start)
	}
	for _, r := range rendered[start:] {
		sb.WriteString(r)
	}
}
