// Package testenv provides environment isolation helpers for tests.
// This package intentionally has no dependencies on other internal packages
// to avoid import cycles.
package testenv

import (
	"fmt"
	"os"
	"testing"
)

// DataDirEnv is the variable config.DataDir reads.
const DataDirEnv = "TRIAGE_DATA_DIR"

// SetDataDir sets TRIAGE_DATA_DIR to a temp directory to isolate tests
// from production ~/.triage. Returns the temp directory path. Cleanup is
// automatic via t.Cleanup.
func SetDataDir(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv(DataDirEnv, tmpDir)
	return tmpDir
}

// RunIsolatedMain runs a package's tests with TRIAGE_DATA_DIR pointed at a
// throwaway directory, then fails the run if anything under the real data
// directory changed. Use from TestMain:
//
//	func TestMain(m *testing.M) { os.Exit(testenv.RunIsolatedMain(m)) }
func RunIsolatedMain(m *testing.M) int {
	barrier := NewProdDataBarrier(DefaultProdDataDir())

	tmpDir, err := os.MkdirTemp("", "triage-test-data-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testenv: create data dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tmpDir)

	orig, hadOrig := os.LookupEnv(DataDirEnv)
	os.Setenv(DataDirEnv, tmpDir)
	defer func() {
		if hadOrig {
			os.Setenv(DataDirEnv, orig)
		} else {
			os.Unsetenv(DataDirEnv)
		}
	}()

	code := m.Run()
	if msg := barrier.Check(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
		if code == 0 {
			code = 1
		}
	}
	return code
}
