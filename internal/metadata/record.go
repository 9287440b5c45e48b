package metadata

import (
	"fmt"
	"sort"
	"time"

	"github.com/chhoumann/claude-github-triage/internal/artifact"
)

// ReviewState is the user's review status for an issue.
type ReviewState string

const (
	Unread ReviewState = "unread"
	Read   ReviewState = "read"
)

// ParseReviewState validates a review state name.
func ParseReviewState(s string) (ReviewState, error) {
	switch ReviewState(s) {
	case Unread, Read:
		return ReviewState(s), nil
	}
	return "", fmt.Errorf("invalid review state %q (want unread or read)", s)
}

// Record is the reconciled state of one tracked issue.
type Record struct {
	Number int `json:"number"`

	// GeneratedAt is nil until an artifact for the issue has been seen.
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`

	ReviewState ReviewState `json:"reviewState"`
	ReviewedAt  *time.Time  `json:"reviewedAt,omitempty"`

	Recommendation artifact.Recommendation `json:"recommendation,omitempty"`
	Confidence     artifact.Confidence     `json:"confidence,omitempty"`
	Labels         []string                `json:"labels,omitempty"`

	Title     string     `json:"title,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	ClosedRemotely bool   `json:"closedRemotely"`
	ModelTag       string `json:"modelTag,omitempty"`

	Notes string   `json:"notes,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Analyzed reports whether an artifact has been reconciled for the record.
func (r Record) Analyzed() bool {
	return r.GeneratedAt != nil
}

func newRecord(n int) *Record {
	return &Record{Number: n, ReviewState: Unread}
}

func (r *Record) clone() *Record {
	c := *r
	c.GeneratedAt = cloneTime(r.GeneratedAt)
	c.ReviewedAt = cloneTime(r.ReviewedAt)
	c.CreatedAt = cloneTime(r.CreatedAt)
	c.UpdatedAt = cloneTime(r.UpdatedAt)
	c.Labels = cloneStrings(r.Labels)
	c.Tags = cloneStrings(r.Tags)
	return &c
}

func (r *Record) equal(o *Record) bool {
	return r.Number == o.Number &&
		timeEqual(r.GeneratedAt, o.GeneratedAt) &&
		r.ReviewState == o.ReviewState &&
		timeEqual(r.ReviewedAt, o.ReviewedAt) &&
		r.Recommendation == o.Recommendation &&
		r.Confidence == o.Confidence &&
		stringsEqual(r.Labels, o.Labels) &&
		r.Title == o.Title &&
		timeEqual(r.CreatedAt, o.CreatedAt) &&
		timeEqual(r.UpdatedAt, o.UpdatedAt) &&
		r.ClosedRemotely == o.ClosedRemotely &&
		r.ModelTag == o.ModelTag &&
		r.Notes == o.Notes &&
		stringsEqual(r.Tags, o.Tags)
}

// normalize repairs a loaded record so the review invariant holds.
func (r *Record) normalize(now time.Time) {
	if r.ReviewState != Read {
		r.ReviewState = Unread
		r.ReviewedAt = nil
		return
	}
	if r.ReviewedAt == nil {
		t := now
		r.ReviewedAt = &t
	}
}

// markReview sets the review state, keeping ReviewedAt non-nil iff read.
func (r *Record) markReview(state ReviewState, now time.Time) {
	switch state {
	case Read:
		if r.ReviewState != Read || r.ReviewedAt == nil {
			t := now
			r.ReviewedAt = &t
		}
		r.ReviewState = Read
	default:
		r.ReviewState = Unread
		r.ReviewedAt = nil
	}
}

// foldRemote upgrades remote metadata. Empty values never clear data.
func (r *Record) foldRemote(item RemoteItem) {
	if item.Title != "" {
		r.Title = item.Title
	}
	if !item.CreatedAt.IsZero() {
		t := item.CreatedAt.UTC()
		r.CreatedAt = &t
	}
	if !item.UpdatedAt.IsZero() {
		t := item.UpdatedAt.UTC()
		r.UpdatedAt = &t
	}
	switch item.State {
	case StateClosed:
		r.ClosedRemotely = true
	case StateOpen:
		r.ClosedRemotely = false
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mergeSet adds values to a sorted, de-duplicated set.
func mergeSet(set []string, values ...string) []string {
	seen := make(map[string]bool, len(set)+len(values))
	var out []string
	for _, v := range append(cloneStrings(set), values...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func removeFromSet(set []string, values ...string) []string {
	drop := make(map[string]bool, len(values))
	for _, v := range values {
		drop[v] = true
	}
	var out []string
	for _, v := range set {
		if !drop[v] {
			out = append(out, v)
		}
	}
	return out
}
