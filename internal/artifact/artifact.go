// Package artifact reads and writes the triage result files produced by an
// analysis run. A result is a block of fixed-format marker lines between
// sentinel lines; parsing tolerates missing and malformed fields.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Sentinel lines delimiting a triage block.
const (
	StartSentinel = "=== TRIAGE ANALYSIS START ==="
	EndSentinel   = "=== TRIAGE ANALYSIS END ==="
)

// Marker identifies a recognized field line.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerShouldClose
	MarkerLabels
	MarkerConfidence
	MarkerModel
	MarkerAnalysis
	MarkerSuggestedResponse
)

var markerPrefixes = []struct {
	marker Marker
	prefix string
}{
	{MarkerShouldClose, "SHOULD_CLOSE:"},
	{MarkerLabels, "LABELS:"},
	{MarkerConfidence, "CONFIDENCE:"},
	{MarkerModel, "MODEL:"},
	{MarkerAnalysis, "ANALYSIS:"},
	{MarkerSuggestedResponse, "SUGGESTED_RESPONSE:"},
}

// FieldState distinguishes a field that was not in the text from one that
// was present but carried an unrecognized value.
type FieldState int

const (
	Absent FieldState = iota
	Malformed
	Present
)

func (s FieldState) String() string {
	switch s {
	case Present:
		return "present"
	case Malformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Recommendation is the close/keep verdict.
type Recommendation string

const (
	RecommendClose   Recommendation = "close"
	RecommendKeep    Recommendation = "keep"
	RecommendUnknown Recommendation = "unknown"
)

// Confidence is the analysis confidence label.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Result is a parsed triage block.
type Result struct {
	Recommendation      Recommendation
	RecommendationState FieldState

	Labels      []string
	LabelsState FieldState

	Confidence      Confidence
	ConfidenceState FieldState

	Model string

	Analysis          string
	SuggestedResponse string

	// Complete is true when both sentinels were found.
	Complete bool
}

// HasBlock reports whether text contains a triage start sentinel.
func HasBlock(text string) bool {
	return strings.Contains(text, StartSentinel)
}

// Extract returns the triage block of text including both sentinels. If the
// end sentinel is missing the block runs to the end of text. The second
// return is false when there is no start sentinel.
func Extract(text string) (string, bool) {
	start := strings.Index(text, StartSentinel)
	if start < 0 {
		return "", false
	}
	block := text[start:]
	if end := strings.Index(block, EndSentinel); end >= 0 {
		block = block[:end+len(EndSentinel)]
	}
	return block, true
}

// Parse reads marker lines out of text. When a start sentinel is present
// only lines after it (and before the end sentinel) contribute, except for
// MODEL which may also appear in a header above the block. Text without a
// start sentinel is parsed whole. Parse never fails; unrecognized content
// is ignored.
func Parse(text string) Result {
	var res Result

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	hasStart := HasBlock(text)
	inBlock := !hasStart

	var section Marker
	var analysis, suggested []string

	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		switch line {
		case StartSentinel:
			inBlock = true
			section = MarkerNone
			continue
		case EndSentinel:
			if inBlock && hasStart {
				res.Complete = true
			}
			inBlock = false
			section = MarkerNone
			continue
		}

		marker, value := matchMarker(line)
		if !inBlock {
			if marker == MarkerModel && value != "" {
				res.Model = value
			}
			continue
		}

		switch marker {
		case MarkerShouldClose:
			res.Recommendation, res.RecommendationState = parseShouldClose(value)
			section = MarkerNone
		case MarkerLabels:
			res.Labels = splitLabels(value)
			res.LabelsState = Present
			section = MarkerNone
		case MarkerConfidence:
			res.Confidence, res.ConfidenceState = parseConfidence(value)
			section = MarkerNone
		case MarkerModel:
			if value != "" {
				res.Model = value
			}
			section = MarkerNone
		case MarkerAnalysis:
			section = MarkerAnalysis
			if value != "" {
				analysis = append(analysis, value)
			}
		case MarkerSuggestedResponse:
			section = MarkerSuggestedResponse
			if value != "" {
				suggested = append(suggested, value)
			}
		default:
			switch section {
			case MarkerAnalysis:
				analysis = append(analysis, strings.TrimRight(raw, " \t\r"))
			case MarkerSuggestedResponse:
				suggested = append(suggested, strings.TrimRight(raw, " \t\r"))
			}
		}
	}

	res.Analysis = strings.TrimSpace(strings.Join(analysis, "\n"))
	res.SuggestedResponse = strings.TrimSpace(strings.Join(suggested, "\n"))
	return res
}

// matchMarker matches a marker prefix case-insensitively, tolerating
// markdown bold wrappers like "**SHOULD_CLOSE:** Yes".
func matchMarker(line string) (Marker, string) {
	line = strings.TrimLeft(line, "*_# ")
	for _, mp := range markerPrefixes {
		if len(line) >= len(mp.prefix) && strings.EqualFold(line[:len(mp.prefix)], mp.prefix) {
			value := line[len(mp.prefix):]
			value = strings.Trim(strings.TrimSpace(value), "*_ ")
			return mp.marker, value
		}
	}
	return MarkerNone, ""
}

func parseShouldClose(value string) (Recommendation, FieldState) {
	word := strings.ToLower(firstWord(value))
	switch word {
	case "yes", "true":
		return RecommendClose, Present
	case "no", "false":
		return RecommendKeep, Present
	default:
		return RecommendUnknown, Malformed
	}
}

func parseConfidence(value string) (Confidence, FieldState) {
	switch strings.ToLower(firstWord(value)) {
	case "high":
		return ConfidenceHigh, Present
	case "medium":
		return ConfidenceMedium, Present
	case "low":
		return ConfidenceLow, Present
	default:
		return "", Malformed
	}
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t,.;("); i >= 0 {
		s = s[:i]
	}
	return s
}

// splitLabels splits a comma separated list into a sorted, de-duplicated set.
func splitLabels(value string) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, part := range strings.Split(value, ",") {
		l := strings.Trim(strings.TrimSpace(part), "`\"'")
		if l == "" || strings.EqualFold(l, "none") || seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

var fileNameRe = regexp.MustCompile(`^issue-(\d+)-triage\.md$`)

// FileName returns the artifact file name for an issue number.
func FileName(number int) string {
	return fmt.Sprintf("issue-%d-triage.md", number)
}

// Path returns the artifact path for number inside dir.
func Path(dir string, number int) string {
	return filepath.Join(dir, FileName(number))
}

// NumberFromName extracts the issue number from an artifact file name.
func NumberFromName(name string) (int, bool) {
	m := fileNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// File is an artifact found on disk.
type File struct {
	Number int
	Path   string
	Info   os.FileInfo
}

// List returns all artifact files in dir sorted by issue number. A missing
// directory yields no files and no error.
func List(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := NumberFromName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Number: n, Path: filepath.Join(dir, e.Name()), Info: info})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Number < files[j].Number })
	return files, nil
}

// Render builds the artifact file body: a MODEL header followed by the
// triage block extracted from output.
func Render(model, output string) (string, error) {
	block, ok := Extract(output)
	if !ok {
		return "", fmt.Errorf("output has no %q block", StartSentinel)
	}
	var sb strings.Builder
	if model != "" {
		fmt.Fprintf(&sb, "MODEL: %s\n\n", model)
	}
	sb.WriteString(block)
	if !strings.HasSuffix(block, "\n") {
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
