// Package metadata owns the per-issue review records and reconciles
// generated artifacts, remote tracker state and user actions into them.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// ErrNotFound is returned by mutations on an unknown issue number.
var ErrNotFound = errors.New("issue not tracked")

// Store holds the record map and persists it as one JSON document.
// Every exported method is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	path        string
	artifactDir string
	records     map[int]*Record
	now         func() time.Time
}

type document struct {
	Issues map[string]*Record `json:"issues"`
}

// Open loads the store at path. A missing file yields an empty store. A file
// that is not valid JSON is moved aside and the store starts empty.
func Open(path, artifactDir string) (*Store, error) {
	s := &Store{
		path:        path,
		artifactDir: artifactDir,
		records:     make(map[int]*Record),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the JSON document path.
func (s *Store) Path() string { return s.path }

// ArtifactDir returns the directory scanned for artifacts.
func (s *Store) ArtifactDir() string { return s.artifactDir }

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read metadata: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		log.Printf("[metadata] %s is corrupt (%v), moving it to %s", s.path, err, aside)
		if err := os.Rename(s.path, aside); err != nil {
			return fmt.Errorf("move corrupt metadata aside: %w", err)
		}
		return nil
	}

	now := s.now()
	for key, rec := range doc.Issues {
		if rec == nil {
			continue
		}
		if rec.Number <= 0 {
			n, err := strconv.Atoi(key)
			if err != nil || n <= 0 {
				log.Printf("[metadata] skipping record with invalid key %q", key)
				continue
			}
			rec.Number = n
		}
		rec.normalize(now)
		s.records[rec.Number] = rec
	}
	return nil
}

// saveLocked writes the whole document. Callers hold s.mu.
func (s *Store) saveLocked() error {
	doc := document{Issues: make(map[string]*Record, len(s.records))}
	for n, rec := range s.records {
		doc.Issues[strconv.Itoa(n)] = rec
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// txn collects record replacements so a failed save can be rolled back.
// Records in the map are never mutated in place; changes go through put.
type txn struct {
	s    *Store
	prev map[int]*Record // nil value: record did not exist
}

func (s *Store) begin() *txn {
	return &txn{s: s, prev: make(map[int]*Record)}
}

// put stores rec if it differs from the current record and reports whether
// anything changed.
func (t *txn) put(rec *Record) bool {
	cur, ok := t.s.records[rec.Number]
	if ok && cur.equal(rec) {
		return false
	}
	if _, seen := t.prev[rec.Number]; !seen {
		t.prev[rec.Number] = cur
	}
	t.s.records[rec.Number] = rec
	return true
}

func (t *txn) commit() error {
	if len(t.prev) == 0 {
		return nil
	}
	if err := t.s.saveLocked(); err != nil {
		for n, old := range t.prev {
			if old == nil {
				delete(t.s.records, n)
			} else {
				t.s.records[n] = old
			}
		}
		return err
	}
	return nil
}

// mutate applies fn to a copy of record n and commits the result.
func (s *Store) mutate(n int, fn func(r *Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[n]
	if !ok {
		return fmt.Errorf("#%d: %w", n, ErrNotFound)
	}
	rec := cur.clone()
	if err := fn(rec); err != nil {
		return err
	}
	t := s.begin()
	t.put(rec)
	return t.commit()
}

// SetReviewState marks an issue read or unread.
func (s *Store) SetReviewState(n int, state ReviewState) error {
	if _, err := ParseReviewState(string(state)); err != nil {
		return err
	}
	return s.mutate(n, func(r *Record) error {
		r.markReview(state, s.now())
		return nil
	})
}

// SetClosedRemotely records the remote open/closed state of an issue.
func (s *Store) SetClosedRemotely(n int, closed bool) error {
	return s.mutate(n, func(r *Record) error {
		r.ClosedRemotely = closed
		return nil
	})
}

// AddNote appends a line to the issue's notes.
func (s *Store) AddNote(n int, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("note is empty")
	}
	return s.mutate(n, func(r *Record) error {
		if r.Notes == "" {
			r.Notes = text
		} else {
			r.Notes += "\n" + text
		}
		return nil
	})
}

// AddTags adds user tags to an issue.
func (s *Store) AddTags(n int, tags ...string) error {
	tags = trimAll(tags)
	if len(tags) == 0 {
		return errors.New("no tags given")
	}
	return s.mutate(n, func(r *Record) error {
		r.Tags = mergeSet(r.Tags, tags...)
		return nil
	})
}

// RemoveTags removes user tags from an issue.
func (s *Store) RemoveTags(n int, tags ...string) error {
	tags = trimAll(tags)
	return s.mutate(n, func(r *Record) error {
		r.Tags = removeFromSet(r.Tags, tags...)
		return nil
	})
}

// Get returns a copy of the record for n.
func (s *Store) Get(n int) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[n]
	if !ok {
		return Record{}, false
	}
	return *rec.clone(), true
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
