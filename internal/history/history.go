// Package history records every harmonization run in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// DefaultLimit is the page size used when ListOptions.Limit is unset.
const DefaultLimit = 50

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Trigger says what started a run.
type Trigger string

const (
	TriggerDownload Trigger = "download"
	TriggerExport   Trigger = "export"
	TriggerSchedule Trigger = "schedule"
	TriggerPreview  Trigger = "preview"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// SourceOutcome is the result of one source within a run.
type SourceOutcome struct {
	URL    string `json:"url"`
	Agency string `json:"agency"`
	Rows   int64  `json:"rows"`
	Kind   string `json:"kind,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Run is one recorded run.
type Run struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Constraints string          `json:"constraints"`
	Trigger     Trigger         `json:"trigger"`
	Destination string          `json:"destination,omitempty"`
	Status      Status          `json:"status"`
	Rows        int64           `json:"rows"`
	Sources     []SourceOutcome `json:"sources,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Duration is the run's wall time, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedSources counts sources that were skipped.
func (r *Run) FailedSources() int {
	n := 0
	for _, s := range r.Sources {
		if s.Error != "" {
			n++
		}
	}
	return n
}

// StartParams describe a run that is about to start.
type StartParams struct {
	Topic       string
	Constraints core.Constraints
	Trigger     Trigger
	Destination string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	topic       TEXT NOT NULL,
	constraints TEXT NOT NULL,
	started_by  TEXT NOT NULL,
	destination TEXT,
	status      TEXT NOT NULL,
	row_count   INTEGER NOT NULL DEFAULT 0,
	sources     TEXT,
	error       TEXT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
CREATE INDEX IF NOT EXISTS runs_topic ON runs (topic);
`

// Store persists runs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and if needed creates) the history database at path.
// Use ":memory:" for a private in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Start records a new running run and returns it.
func (s *Store) Start(ctx context.Context, p StartParams) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		Topic:       p.Topic,
		Constraints: p.Constraints.String(),
		Trigger:     p.Trigger,
		Destination: p.Destination,
		Status:      StatusRunning,
		StartedAt:   s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, topic, constraints, started_by, destination, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Topic, run.Constraints, string(run.Trigger), nullString(run.Destination),
		string(run.Status), run.StartedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Finish marks a run finished. A nil runErr means success.
func (s *Store) Finish(ctx context.Context, id string, rows int64, results []core.SourceResult, runErr error) error {
	outcomes := make([]SourceOutcome, len(results))
	for i, r := range results {
		outcomes[i] = SourceOutcome{URL: r.URL, Agency: r.Agency, Rows: int64(r.Rows)}
		if r.Err != nil {
			outcomes[i].Kind = string(r.Err.Kind)
			outcomes[i].Error = r.Err.Error()
		}
	}
	sources, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, row_count = ?, sources = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), rows, string(sources), nullString(msg), s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectRun = `SELECT id, topic, constraints, started_by, destination, status, row_count,
	sources, error, started_at, finished_at FROM runs`

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// ListOptions filter and paginate List.
type ListOptions struct {
	Topic  string
	Status Status
	Since  time.Time
	Limit  int
	Offset int
}

// ListResult is one page of runs, newest first.
type ListResult struct {
	Runs       []Run `json:"runs"`
	TotalCount int64 `json:"totalCount"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

// List returns runs matching opts, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	var (
		conds []string
		args  []any
	)
	if opts.Topic != "" {
		conds = append(conds, "topic = ?")
		args = append(args, opts.Topic)
	}
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		selectRun+where+" ORDER BY started_at DESC, id LIMIT ? OFFSET ?",
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int((total + int64(opts.Limit) - 1) / int64(opts.Limit))
	if totalPages < 1 {
		totalPages = 1
	}
	return &ListResult{
		Runs:       runs,
		TotalCount: total,
		Page:       opts.Offset/opts.Limit + 1,
		PageSize:   opts.Limit,
		TotalPages: totalPages,
	}, nil
}

// Purge deletes finished runs that started before cutoff and returns how
// many were removed.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ? AND status != ?`,
		cutoff.UnixMilli(), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                  Run
		trigger, status      string
		destination, sources sql.NullString
		errMsg               sql.NullString
		startedAt            int64
		finishedAt           sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Topic, &run.Constraints, &trigger, &destination,
		&status, &run.Rows, &sources, &errMsg, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.Trigger = Trigger(trigger)
	run.Status = Status(status)
	run.Destination = destination.String
	run.Error = errMsg.String
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	if sources.Valid && sources.String != "" {
		if err := json.Unmarshal([]byte(sources.String), &run.Sources); err != nil {
			return nil, fmt.Errorf("decode sources of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
