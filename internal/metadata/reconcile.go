package metadata

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/chhoumann/claude-github-triage/internal/artifact"
)

// Remote states understood by ReconcileFromRemote.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// RemoteItem is the tracker's view of an issue. Zero values mean the pass
// did not carry that field.
type RemoteItem struct {
	Number    int
	Title     string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScanResult summarizes an artifact scan.
type ScanResult struct {
	Scanned int
	Created int
	Updated int
	Skipped int
}

// SyncOutcome is what ApplyRemoteClosed did to a record.
type SyncOutcome int

const (
	// OutcomeConsistent means the record already reflected the close.
	OutcomeConsistent SyncOutcome = iota
	// OutcomePromoted means an unread record became read and closed.
	OutcomePromoted
	// OutcomeMarkedClosed means a read record was marked closed.
	OutcomeMarkedClosed
	// OutcomeUnanalyzed means the issue has no artifact; its remote
	// metadata was folded into a bare record.
	OutcomeUnanalyzed
)

func (o SyncOutcome) String() string {
	switch o {
	case OutcomePromoted:
		return "promoted"
	case OutcomeMarkedClosed:
		return "marked-closed"
	case OutcomeUnanalyzed:
		return "unanalyzed"
	default:
		return "consistent"
	}
}

// ReconcileFromArtifacts scans the artifact directory and folds every
// artifact into its record. Re-running without filesystem changes is a
// no-op and does not rewrite the document. Unreadable files are skipped.
func (s *Store) ReconcileFromArtifacts() (ScanResult, error) {
	var res ScanResult
	files, err := artifact.List(s.artifactDir)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.begin()
	for _, f := range files {
		res.Scanned++
		data, err := os.ReadFile(f.Path)
		if err != nil {
			log.Printf("[metadata] skipping %s: %v", f.Path, err)
			res.Skipped++
			continue
		}
		_, existed := s.records[f.Number]
		if t.put(s.foldArtifactLocked(f.Number, string(data), f.Info.ModTime())) {
			if existed {
				res.Updated++
			} else {
				res.Created++
			}
		}
	}
	if err := t.commit(); err != nil {
		return ScanResult{Scanned: res.Scanned, Skipped: res.Skipped}, err
	}
	return res, nil
}

// ReconcileArtifact folds a single artifact file into its record.
func (s *Store) ReconcileArtifact(path string) error {
	n, ok := artifact.NumberFromName(path)
	if !ok {
		return fmt.Errorf("%s is not an artifact file name", filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.begin()
	t.put(s.foldArtifactLocked(n, string(data), info.ModTime()))
	return t.commit()
}

// foldArtifactLocked returns a copy of record n with the artifact's fields
// applied. Fields the artifact does not mention keep their previous value;
// ClosedRemotely and user fields are left alone.
func (s *Store) foldArtifactLocked(n int, body string, modTime time.Time) *Record {
	var rec *Record
	if cur, ok := s.records[n]; ok {
		rec = cur.clone()
	} else {
		rec = newRecord(n)
	}

	parsed := artifact.Parse(body)
	if parsed.RecommendationState != artifact.Absent {
		rec.Recommendation = parsed.Recommendation
	}
	if parsed.ConfidenceState != artifact.Absent {
		rec.Confidence = parsed.Confidence
	}
	if parsed.LabelsState != artifact.Absent {
		rec.Labels = parsed.Labels
	}
	if parsed.Model != "" {
		rec.ModelTag = parsed.Model
	}

	mt := modTime.UTC()
	if rec.GeneratedAt == nil || mt.After(*rec.GeneratedAt) {
		rec.GeneratedAt = &mt
	}
	return rec
}

// ReconcileFromRemote folds a (possibly partial) remote snapshot into the
// store, creating bare records for unknown issues.
func (s *Store) ReconcileFromRemote(items []RemoteItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.begin()
	for _, item := range items {
		if item.Number <= 0 {
			continue
		}
		var rec *Record
		if cur, ok := s.records[item.Number]; ok {
			rec = cur.clone()
		} else {
			rec = newRecord(item.Number)
		}
		rec.foldRemote(item)
		t.put(rec)
	}
	return t.commit()
}

// ApplyRemoteClosed folds one remotely closed issue. An analyzed unread
// record is promoted to read in the same write that marks it closed.
func (s *Store) ApplyRemoteClosed(item RemoteItem) (SyncOutcome, error) {
	if item.Number <= 0 {
		return OutcomeConsistent, fmt.Errorf("invalid issue number %d", item.Number)
	}
	item.State = StateClosed

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[item.Number]
	var rec *Record
	if ok {
		rec = cur.clone()
	} else {
		rec = newRecord(item.Number)
	}

	outcome := OutcomeConsistent
	switch {
	case !rec.Analyzed():
		outcome = OutcomeUnanalyzed
	case rec.ReviewState == Unread:
		rec.markReview(Read, s.now())
		outcome = OutcomePromoted
	case !rec.ClosedRemotely:
		outcome = OutcomeMarkedClosed
	}
	rec.foldRemote(item)

	t := s.begin()
	t.put(rec)
	if err := t.commit(); err != nil {
		return OutcomeConsistent, err
	}
	return outcome, nil
}
