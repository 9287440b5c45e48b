package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one analysis attempt for one issue.
type Run struct {
	ID         string
	Repo       string
	Issue      int
	Agent      string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Duration   time.Duration
	Error      string
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Repo   string
	Issue  int
	Status RunStatus
	Limit  int
}

// StartRun records a running attempt and returns its ID.
func (db *DB) StartRun(repo string, issue int, agent string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (uuid, repo, issue, agent, status, started_at) VALUES (?, ?, ?, ?, 'running', ?)`,
		id, repo, issue, agent, db.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks a running attempt as done.
func (db *DB) FinishRun(id string, status RunStatus, errMsg string, duration time.Duration) error {
	if status != RunSucceeded && status != RunFailed {
		return fmt.Errorf("invalid finish status %q", status)
	}
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	res, err := db.Exec(`UPDATE runs SET status = ?, finished_at = ?, duration_ms = ?, error = ? WHERE uuid = ? AND status = 'running'`,
		string(status), db.now().UTC().Format(time.RFC3339Nano), duration.Milliseconds(), errVal, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// AbandonRunning fails runs left running by a process that exited before
// finishing them. It returns how many were changed.
func (db *DB) AbandonRunning() (int, error) {
	res, err := db.Exec(`UPDATE runs SET status = 'failed', finished_at = ?, error = 'interrupted' WHERE status = 'running'`,
		db.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetRun returns one run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE uuid = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns runs newest first.
func (db *DB) ListRuns(f RunFilter) ([]Run, error) {
	var conds []string
	var args []any
	if f.Repo != "" {
		conds = append(conds, "repo = ?")
		args = append(args, f.Repo)
	}
	if f.Issue > 0 {
		conds = append(conds, "issue = ?")
		args = append(args, f.Issue)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

const runColumns = `uuid, repo, issue, agent, status, started_at, finished_at, duration_ms, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var status, startedAt string
	var finishedAt, errMsg sql.NullString
	var durationMs sql.NullInt64
	if err := s.Scan(&r.ID, &r.Repo, &r.Issue, &r.Agent, &status, &startedAt, &finishedAt, &durationMs, &errMsg); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.StartedAt = parseSQLiteTime(startedAt)
	if finishedAt.Valid {
		t := parseSQLiteTime(finishedAt.String)
		r.FinishedAt = &t
	}
	if durationMs.Valid {
		r.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	}
	r.Error = errMsg.String
	return &r, nil
}
