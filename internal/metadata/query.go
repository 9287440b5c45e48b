package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chhoumann/claude-github-triage/internal/artifact"
)

// Filter selects records. Set fields combine with AND; zero values match
// everything.
type Filter struct {
	ReviewState    ReviewState
	Recommendation artifact.Recommendation
	Closed         *bool
	// Text matches the issue number, title or labels, case-insensitively.
	Text         string
	ModelTag     string
	Tag          string
	AnalyzedOnly bool
}

// SortKey names the field records are ordered by.
type SortKey int

const (
	SortNumber SortKey = iota
	SortGenerated
	SortCreated
	SortUpdated
)

var sortKeyNames = map[string]SortKey{
	"number":    SortNumber,
	"generated": SortGenerated,
	"created":   SortCreated,
	"updated":   SortUpdated,
}

// ParseSortKey maps a name like "updated" to a SortKey.
func ParseSortKey(name string) (SortKey, error) {
	if k, ok := sortKeyNames[strings.ToLower(name)]; ok {
		return k, nil
	}
	return SortNumber, fmt.Errorf("invalid sort key %q (want number, generated, created or updated)", name)
}

// Sort orders query results. The zero value is number descending.
type Sort struct {
	Key       SortKey
	Ascending bool
}

func (f Filter) match(r *Record) bool {
	if f.ReviewState != "" && r.ReviewState != f.ReviewState {
		return false
	}
	if f.Recommendation != "" && r.Recommendation != f.Recommendation {
		return false
	}
	if f.Closed != nil && r.ClosedRemotely != *f.Closed {
		return false
	}
	if f.ModelTag != "" && !strings.EqualFold(r.ModelTag, f.ModelTag) {
		return false
	}
	if f.Tag != "" && !containsFold(r.Tags, f.Tag) {
		return false
	}
	if f.AnalyzedOnly && !r.Analyzed() {
		return false
	}
	if f.Text != "" && !matchText(r, f.Text) {
		return false
	}
	return true
}

func matchText(r *Record, text string) bool {
	needle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(text), "#"))
	if needle == "" {
		return true
	}
	if strings.Contains(strconv.Itoa(r.Number), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Title), needle) {
		return true
	}
	for _, l := range r.Labels {
		if strings.Contains(strings.ToLower(l), needle) {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// Query returns copies of the matching records in the requested order.
func (s *Store) Query(f Filter, order Sort) []Record {
	s.mu.Lock()
	var matched []*Record
	for _, r := range s.records {
		if f.match(r) {
			matched = append(matched, r.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		c := compareBy(order.Key, a, b)
		if c == 0 {
			// Ties fall back to number descending.
			return a.Number > b.Number
		}
		if order.Ascending {
			return c < 0
		}
		return c > 0
	})

	out := make([]Record, len(matched))
	for i, r := range matched {
		out[i] = *r
	}
	return out
}

func compareBy(key SortKey, a, b *Record) int {
	switch key {
	case SortGenerated:
		return compareTime(a.GeneratedAt, b.GeneratedAt)
	case SortCreated:
		return compareTime(a.CreatedAt, b.CreatedAt)
	case SortUpdated:
		return compareTime(a.UpdatedAt, b.UpdatedAt)
	default:
		return a.Number - b.Number
	}
}

// compareTime orders nil before every real time.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// Stats are counts derived from the live record map.
type Stats struct {
	Total          int `json:"total"`
	Read           int `json:"read"`
	Unread         int `json:"unread"`
	Analyzed       int `json:"analyzed"`
	ClosedRemotely int `json:"closedRemotely"`
	ShouldClose    int `json:"shouldClose"`
}

// Stats counts records. Nothing is cached between calls.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, r := range s.records {
		st.Total++
		if r.ReviewState == Read {
			st.Read++
		} else {
			st.Unread++
		}
		if r.Analyzed() {
			st.Analyzed++
		}
		if r.ClosedRemotely {
			st.ClosedRemotely++
		}
		if r.Recommendation == artifact.RecommendClose {
			st.ShouldClose++
		}
	}
	return st
}
