// Package streamfmt renders agent progress output for people.
package streamfmt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// Styles for TTY-mode stream output.
var (
	sfToolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "30", Dark: "51"})
	sfArgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "242", Dark: "246"})
	sfGutterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "242", Dark: "240"})
)

var ansiEscapePattern = regexp.MustCompile(
	`\x1b\[[0-9;?]*[a-zA-Z]` +
		`|\x1b\]([^\x07\x1b]|\x1b[^\\])*(\x07|\x1b\\)`,
)

// Formatter wraps an io.Writer to turn Claude's stream-json output into
// compact progress lines. Tool calls become one-line summaries:
//
//	│ Read   internal/export/writer.go
//	│ Grep   ErrTooLarge  internal/
//
// Lines that are not JSON events (codex stderr, plain text) are written
// as-is. In non-TTY mode everything is passed through unchanged.
type Formatter struct {
	w     io.Writer
	buf   []byte
	isTTY bool
	width int // 0 = no truncation

	writeErr    error // first write error encountered during formatting
	lastWasTool bool
	hasOutput   bool
}

// New creates a Formatter that writes to w. width bounds rendered lines
// in TTY mode; 0 disables truncation.
func New(w io.Writer, isTTY bool, width int) *Formatter {
	return &Formatter{w: w, isTTY: isTTY, width: width}
}

// TerminalWidth returns the terminal width for the given writer,
// defaulting to 100 if detection fails.
func TerminalWidth(w io.Writer) int {
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 100
}

func (f *Formatter) Write(p []byte) (int, error) {
	if !f.isTTY {
		return f.w.Write(p)
	}

	n := len(p)
	f.buf = append(f.buf, p...)
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(f.buf[:idx])
		f.buf = f.buf[idx+1:]
		f.processLine(line)
	}
	if f.writeErr != nil {
		return n, f.writeErr
	}
	return n, nil
}

// Flush writes any remaining buffered content.
func (f *Formatter) Flush() {
	if len(f.buf) > 0 {
		line := string(f.buf)
		f.buf = nil
		f.processLine(line)
	}
}

// streamEvent is the subset of a Claude stream-json event we render.
//
//	{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{...}}]}}
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Content json.RawMessage `json:"content,omitempty"`
	} `json:"message,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

func (f *Formatter) processLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !LooksLikeJSON(line) {
		f.writeText(line)
		return
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return
	}
	// system, user, result and other lifecycle events are suppressed
	if ev.Type == "assistant" && ev.Message != nil {
		f.processAssistantContent(ev.Message.Content)
	}
}

func (f *Formatter) processAssistantContent(raw json.RawMessage) {
	if raw == nil {
		return
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			f.writeText(text)
		}
		return
	}

	for _, b := range blocks {
		switch b.Type {
		case "text":
			f.writeText(b.Text)
		case "tool_use":
			f.formatToolUse(b.Name, b.Input)
		}
	}
}

func (f *Formatter) formatToolUse(name string, input json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		f.writeTool(name, "")
		return
	}

	switch name {
	case "Read":
		f.writeTool(name, jsonString(fields["file_path"]))
	case "LS":
		f.writeTool(name, jsonString(fields["path"]))
	case "Grep":
		pattern := jsonString(fields["pattern"])
		if path := jsonString(fields["path"]); path != "" {
			f.writeTool(name, pattern+"  "+path)
		} else {
			f.writeTool(name, pattern)
		}
	case "Glob":
		f.writeTool(name, jsonString(fields["pattern"]))
	case "WebFetch":
		f.writeTool(name, jsonString(fields["url"]))
	case "WebSearch":
		f.writeTool(name, jsonString(fields["query"]))
	default:
		f.writeTool(name, "")
	}
}

func (f *Formatter) writef(format string, args ...any) {
	if f.writeErr != nil {
		return
	}
	_, f.writeErr = fmt.Fprintf(f.w, format, args...)
}

func (f *Formatter) writeText(text string) {
	text = strings.TrimSpace(sanitizeControl(text, true))
	if text == "" {
		return
	}
	if f.lastWasTool && f.hasOutput {
		f.writef("\n")
	}
	f.lastWasTool = false
	f.hasOutput = true
	for _, line := range strings.Split(text, "\n") {
		f.writef("%s\n", f.fit(line))
	}
}

func (f *Formatter) writeTool(name, arg string) {
	name = sanitizeControl(name, false)
	arg = sanitizeControl(arg, false)
	if !f.lastWasTool && f.hasOutput {
		f.writef("\n")
	}
	f.lastWasTool = true
	f.hasOutput = true
	// gutter and name take 10 cells
	arg = f.fitWidth(arg, f.width-10)
	f.writef("%s %s %s\n",
		sfGutterStyle.Render(" │"),
		sfToolStyle.Render(fmt.Sprintf("%-6s", name)),
		sfArgStyle.Render(arg))
}

func (f *Formatter) fit(s string) string {
	return f.fitWidth(s, f.width)
}

func (f *Formatter) fitWidth(s string, width int) string {
	if f.width <= 0 || width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// sanitizeControl strips ANSI escapes and control characters so agent
// output cannot drive the terminal.
func sanitizeControl(s string, keepNewlines bool) string {
	s = ansiEscapePattern.ReplaceAllString(s, "")
	if keepNewlines {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
	} else {
		s = strings.ReplaceAll(s, "\r\n", " ")
		s = strings.ReplaceAll(s, "\n", " ")
		s = strings.ReplaceAll(s, "\r", " ")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func jsonString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.Trim(string(raw), `"`)
	}
	return s
}

// LooksLikeJSON reports whether line is a JSON object with a "type" field.
func LooksLikeJSON(line string) bool {
	for _, c := range line {
		switch c {
		case ' ', '\t':
			continue
		case '{':
			var probe struct{ Type string }
			if json.Unmarshal([]byte(line), &probe) != nil {
				return false
			}
			return probe.Type != ""
		default:
			return false
		}
	}
	return false
}
