package testenv

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ProdDataBarrier records the state of the production data directory
// before tests run, and provides a Check method that reports any file a
// test created, modified or deleted there.
type ProdDataBarrier struct {
	realDataDir string
	files       map[string]fileState
}

type fileState struct {
	size  int64
	mtime time.Time
}

// DefaultProdDataDir returns the default production data directory
// (~/.triage). This is resolved from the user's home directory,
// ignoring TRIAGE_DATA_DIR so it always points to the real dir.
func DefaultProdDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".triage")
}

// NewProdDataBarrier snapshots realDataDir. Call Check() after m.Run()
// to detect test pollution.
func NewProdDataBarrier(realDataDir string) *ProdDataBarrier {
	return &ProdDataBarrier{
		realDataDir: realDataDir,
		files:       snapshot(realDataDir),
	}
}

// Check returns a non-empty message if the data directory changed since
// the barrier was created.
func (b *ProdDataBarrier) Check() string {
	now := snapshot(b.realDataDir)
	var violations []string

	for path, cur := range now {
		prev, ok := b.files[path]
		switch {
		case !ok:
			violations = append(violations, "test created "+path)
		case cur.size != prev.size || !cur.mtime.Equal(prev.mtime):
			violations = append(violations,
				fmt.Sprintf("test modified %s (size %d→%d, mtime %s→%s)",
					path, prev.size, cur.size,
					prev.mtime.Format(time.RFC3339Nano),
					cur.mtime.Format(time.RFC3339Nano)))
		}
	}
	for path := range b.files {
		if _, ok := now[path]; !ok {
			violations = append(violations, "test deleted "+path)
		}
	}

	if len(violations) == 0 {
		return ""
	}
	sort.Strings(violations)
	return "PROD DATA BARRIER FAILED:\n  " +
		strings.Join(violations, "\n  ")
}

// snapshot maps every regular file under dir (relative path) to its size
// and mtime. SQLite's -wal and -shm side files are ignored.
func snapshot(dir string) map[string]fileState {
	files := make(map[string]fileState)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // dir gone or unreadable
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, "-wal") || strings.HasSuffix(path, "-shm") {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		files[rel] = fileState{size: info.Size(), mtime: info.ModTime()}
		return nil
	})
	return files
}
