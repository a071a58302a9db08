// Package journal records worker runs and stop attempts in SQLite, so an
// operator can see when the server ran and how each stop ended.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run is one worker launch.
type Run struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	MaxHeap       string     `json:"max_heap"`
	MinHeap       string     `json:"min_heap"`
	TunnelEnabled bool       `json:"tunnel_enabled"`
	Endpoint      string     `json:"endpoint,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	ExitError     string     `json:"exit_error,omitempty"`
}

// StopAttempt is one pass through the stop protocol.
type StopAttempt struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	RequestedAt time.Time     `json:"requested_at"`
	Outcome     string        `json:"outcome"`
	CommandSent bool          `json:"command_sent"`
	TimedOut    bool          `json:"timed_out"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Filter controls which runs to return.
type Filter struct {
	Outcome string // optional: graceful, forced, exited, failed
	Limit   int    // default 20, max 200
	Offset  int
}

// ListResult is a page of runs, most recent first.
type ListResult struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Repository defines the journal operations used by the session controller
// and the read surfaces.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	SetEndpoint(ctx context.Context, runID, endpoint string) error
	FinishRun(ctx context.Context, runID string, stoppedAt time.Time, outcome, exitErr string) error
	RecordStopAttempt(ctx context.Context, attempt *StopAttempt) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter Filter) (*ListResult, error)
	ListStopAttempts(ctx context.Context, runID string) ([]StopAttempt, error)
}

// SQLiteRepository stores the journal in the runs and stop_attempts tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRun inserts a run. ID and StartedAt are generated if empty.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, max_heap, min_heap, tunnel_enabled, endpoint)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(timeFormat),
		run.MaxHeap, run.MinHeap, boolToInt(run.TunnelEnabled), run.Endpoint,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// SetEndpoint records the latest endpoint announced during a run.
func (r *SQLiteRepository) SetEndpoint(ctx context.Context, runID, endpoint string) error {
	return r.update(ctx, "UPDATE runs SET endpoint = ? WHERE id = ?", runID, endpoint, runID)
}

// FinishRun marks a run as stopped.
func (r *SQLiteRepository) FinishRun(ctx context.Context, runID string, stoppedAt time.Time, outcome, exitErr string) error {
	return r.update(ctx,
		"UPDATE runs SET stopped_at = ?, outcome = ?, exit_error = ? WHERE id = ?",
		runID, stoppedAt.UTC().Format(timeFormat), outcome, exitErr, runID,
	)
}

func (r *SQLiteRepository) update(ctx context.Context, query, runID string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// RecordStopAttempt inserts a stop attempt. ID and RequestedAt are
// generated if empty.
func (r *SQLiteRepository) RecordStopAttempt(ctx context.Context, a *StopAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO stop_attempts (id, run_id, requested_at, outcome, command_sent, timed_out, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.RequestedAt.UTC().Format(timeFormat), a.Outcome,
		boolToInt(a.CommandSent), boolToInt(a.TimedOut), a.Duration.Milliseconds(), a.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting stop attempt: %w", err)
	}
	return nil
}

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = "id, started_at, stopped_at, max_heap, min_heap, tunnel_enabled, endpoint, outcome, exit_error"

// GetRun returns one run.
func (r *SQLiteRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, most recent first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM runs " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}

	query := "SELECT " + runColumns + " FROM runs " + where + " ORDER BY started_at DESC LIMIT ? OFFSET ?" //nolint:gosec // as above
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	result := &ListResult{Runs: []Run{}, Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		result.Runs = append(result.Runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return result, nil
}

// ListStopAttempts returns the attempts of one run in request order.
func (r *SQLiteRepository) ListStopAttempts(ctx context.Context, runID string) ([]StopAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, requested_at, outcome, command_sent, timed_out, duration_ms, error
		 FROM stop_attempts WHERE run_id = ? ORDER BY requested_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying stop attempts: %w", err)
	}
	defer rows.Close()

	attempts := []StopAttempt{}
	for rows.Next() {
		var a StopAttempt
		var requestedAt string
		var commandSent, timedOut int
		var durationMS int64
		if err := rows.Scan(&a.ID, &a.RunID, &requestedAt, &a.Outcome, &commandSent, &timedOut, &durationMS, &a.Error); err != nil {
			return nil, fmt.Errorf("scanning stop attempt: %w", err)
		}
		a.RequestedAt, _ = time.Parse(time.RFC3339Nano, requestedAt) //nolint:errcheck // written by RecordStopAttempt
		a.CommandSent = commandSent != 0
		a.TimedOut = timedOut != 0
		a.Duration = time.Duration(durationMS) * time.Millisecond
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stop attempts: %w", err)
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var stoppedAt sql.NullString
	var tunnel int
	if err := row.Scan(&run.ID, &startedAt, &stoppedAt, &run.MaxHeap, &run.MinHeap,
		&tunnel, &run.Endpoint, &run.Outcome, &run.ExitError); err != nil {
		return nil, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt) //nolint:errcheck // written by CreateRun
	if stoppedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, stoppedAt.String)
		if err == nil {
			run.StoppedAt = &t
		}
	}
	run.TunnelEnabled = tunnel != 0
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
