// Package history keeps a record of every analyze_week run in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// StatusRunning marks a run that was started and has not finished yet.
const StatusRunning domain.RunStatus = "running"

// DefaultListLimit bounds ListRuns when the caller passes no limit.
const DefaultListLimit = 50

// Fixed width so that lexical order in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Failure is one file that failed during a run.
type Failure struct {
	File  string       `json:"file"`
	Stage domain.Stage `json:"stage"`
	Error string       `json:"error"`
}

// Run is one stored analysis run.
type Run struct {
	ID            string
	Week          domain.WeekID
	Status        domain.RunStatus
	Reason        string
	Images        int
	Processed     int
	Skipped       int
	Failed        int
	TotalReceipts int
	TotalFood     decimal.Decimal
	TotalNonFood  decimal.Decimal
	Warnings      int
	StartedAt     time.Time
	FinishedAt    *time.Time

	// Failures is only filled by GetRun.
	Failures []Failure
}

// Repository stores runs in a SQLite database.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository opens (creating if needed) the database at dbPath and migrates it.
func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between job workers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, now: time.Now}, nil
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// StartRun inserts a running run for week and returns its id.
func (r *Repository) StartRun(ctx context.Context, week domain.WeekID, images int) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, week, status, images, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, week.String(), string(StatusRunning), images, formatTime(r.now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("run_id", id).Str("week", week.String()).Msg("Run started")
	return id, nil
}

// FinishRun stores the outcome of result under runID.
func (r *Repository) FinishRun(ctx context.Context, runID string, result *domain.AnalysisResult) error {
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, reason = ?, images = ?, processed = ?, skipped = ?, failed = ?,
			total_receipts = ?, total_food = ?, total_nonfood = ?, warnings = ?, finished_at = ?
		WHERE id = ?`,
		string(result.Status), result.Reason, result.Images, result.Processed,
		len(result.Skipped), len(result.Failures), result.Summary.TotalReceipts,
		result.Summary.TotalFood.StringFixed(2), result.Summary.TotalNonFood.StringFixed(2),
		result.Summary.Warnings, formatTime(finished), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	for _, f := range result.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_failures (run_id, file, stage, error) VALUES (?, ?, ?, ?)`,
			runID, f.File, string(f.Stage), msg,
		); err != nil {
			return fmt.Errorf("insert run failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `id, week, status, reason, images, processed, skipped, failed,
	total_receipts, total_food, total_nonfood, warnings, started_at, finished_at`

// ListRuns returns the most recent runs, newest first. An empty week lists all weeks.
func (r *Repository) ListRuns(ctx context.Context, week domain.WeekID, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if week == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM runs WHERE week = ? ORDER BY started_at DESC LIMIT ?`,
			week.String(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run including its failures.
func (r *Repository) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT file, stage, error FROM run_failures WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f Failure
		var stage string
		if err := rows.Scan(&f.File, &stage, &f.Error); err != nil {
			return nil, fmt.Errorf("scan run failure: %w", err)
		}
		f.Stage = domain.Stage(stage)
		run.Failures = append(run.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run failures: %w", err)
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run           Run
		week, status  string
		food, nonFood string
		started       string
		finished      sql.NullString
	)
	err := s.Scan(&run.ID, &week, &status, &run.Reason, &run.Images, &run.Processed,
		&run.Skipped, &run.Failed, &run.TotalReceipts, &food, &nonFood, &run.Warnings,
		&started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return run, err
	}
	if err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}

	run.Week = domain.WeekID(week)
	run.Status = domain.RunStatus(status)
	run.TotalFood = domain.Amount(food).Decimal()
	run.TotalNonFood = domain.Amount(nonFood).Decimal()

	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return run, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return run, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
