package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/store/migrate"
)

//go:embed sql/insert-run.sql
var insertRunSQL string

//go:embed sql/update-status.sql
var updateStatusSQL string

//go:embed sql/insert-step.sql
var insertStepSQL string

//go:embed sql/finish-run.sql
var finishRunSQL string

//go:embed sql/get-run.sql
var getRunSQL string

//go:embed sql/list-runs.sql
var listRunsSQL string

//go:embed sql/get-steps.sql
var getStepsSQL string

//go:embed sql/get-run-status.sql
var getRunStatusSQL string

// SQLiteStore is a run ledger that survives restarts.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the ledger at path and migrates it.
// A path of ":memory:" gives a private in-memory database.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrate.Run(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) (string, error) {
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
	}
	if path == ":memory:" {
		return "file::memory:?" + strings.Join(params, "&"), nil
	}

	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	params = append(params, "_journal_mode=WAL")

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// CreateRun records a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run forecast.Run) error {
	_, err := s.db.ExecContext(ctx, insertRunSQL,
		run.ID, formatTime(run.Start), formatTime(run.End), string(run.Policy),
		run.PlannedSteps, string(run.Status), formatTime(run.CreatedAt),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", ErrExists, run.ID)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateStatus moves a run to a non-terminal status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, runID string, status forecast.RunStatus) error {
	res, err := s.db.ExecContext(ctx, updateStatusSQL, string(status), runID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return s.checkAffected(ctx, res, runID)
}

// AppendStep records a completed step.
func (s *SQLiteStore) AppendStep(ctx context.Context, runID string, step forecast.StepRecord) error {
	res, err := s.db.ExecContext(ctx, insertStepSQL,
		runID, step.Index, step.Operator, int64(step.Increment), formatTime(step.Valid),
		nullString(step.Path), formatTime(step.CompletedAt), runID,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return s.checkAffected(ctx, res, runID)
}

// FinishRun records the terminal outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, o forecast.RunOutcome) error {
	res, err := s.db.ExecContext(ctx, finishRunSQL,
		string(o.Status), nullString(o.SeriesPath), nullString(o.Error),
		nullTime(o.FailedAt), nullString(o.FailedOperator), nullTime(o.FinishedAt),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return s.checkAffected(ctx, res, runID)
}

// checkAffected tells a missing run from a finished one when nothing changed.
func (s *SQLiteStore) checkAffected(ctx context.Context, res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, getRunStatusSQL, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrFinished, runID, status)
}

// GetRun returns a run with its steps.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (forecast.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, getRunSQL, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return forecast.Run{}, ErrNotFound
	}
	if err != nil {
		return forecast.Run{}, err
	}
	if run.Steps, err = s.steps(ctx, runID); err != nil {
		return forecast.Run{}, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first, at most limit when limit > 0.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]forecast.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close runs rows", "error", err)
		}
	}()

	var out []forecast.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Steps are loaded after the cursor is drained: the pool has one connection.
	for i := range out {
		if out[i].Steps, err = s.steps(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) steps(ctx context.Context, runID string) ([]forecast.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, getStepsSQL, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close steps rows", "error", err)
		}
	}()

	var out []forecast.StepRecord
	for rows.Next() {
		var (
			rec       forecast.StepRecord
			increment int64
			valid     string
			path      sql.NullString
			completed string
		)
		if err := rows.Scan(&rec.Index, &rec.Operator, &increment, &valid, &path, &completed); err != nil {
			return nil, err
		}
		rec.Increment = time.Duration(increment)
		rec.Path = path.String
		if rec.Valid, err = parseTime(valid); err != nil {
			return nil, err
		}
		if rec.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (forecast.Run, error) {
	var (
		run                                forecast.Run
		start, end, policy, status, create string
		seriesPath, errMsg, failedOperator sql.NullString
		failedAt, finishedAt               sql.NullString
	)
	if err := row.Scan(&run.ID, &start, &end, &policy, &run.PlannedSteps, &status,
		&seriesPath, &errMsg, &failedAt, &failedOperator, &create, &finishedAt); err != nil {
		return forecast.Run{}, err
	}

	var err error
	if run.Start, err = parseTime(start); err != nil {
		return forecast.Run{}, err
	}
	if run.End, err = parseTime(end); err != nil {
		return forecast.Run{}, err
	}
	if run.CreatedAt, err = parseTime(create); err != nil {
		return forecast.Run{}, err
	}
	if run.FailedAt, err = parseNullTime(failedAt); err != nil {
		return forecast.Run{}, err
	}
	if run.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return forecast.Run{}, err
	}
	run.Policy = forecast.Policy(policy)
	run.Status = forecast.RunStatus(status)
	run.SeriesPath = seriesPath.String
	run.Error = errMsg.String
	run.FailedOperator = failedOperator.String
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
