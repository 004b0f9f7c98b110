package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Runs ---

// SaveRun inserts a run. An empty ID is replaced with a new UUID, which is
// returned.
func (s *Store) SaveRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO harvest_runs (id, started_at, finished_at, outcome, origin, posts_processed, new_keywords, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Outcome, r.Origin,
		r.PostsProcessed, r.NewKeywords, r.Error,
	)
	if err != nil {
		return "", fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return r.ID, nil
}

const runColumns = `id, started_at, finished_at, outcome, origin, posts_processed, new_keywords, error`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var started, finished string
	if err := row.Scan(&r.ID, &started, &finished, &r.Outcome, &r.Origin, &r.PostsProcessed, &r.NewKeywords, &r.Error); err != nil {
		return Run{}, err
	}
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("parsing started_at of run %s: %w", r.ID, err)
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("parsing finished_at of run %s: %w", r.ID, err)
	}
	return r, nil
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM harvest_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM harvest_runs ORDER BY started_at DESC LIMIT ?`, limit)
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
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Fetch attempts ---

// SaveAttempts inserts the attempts of one run in a single transaction.
func (s *Store) SaveAttempts(ctx context.Context, runID string, attempts []FetchAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning attempts transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fetch_attempts (id, run_id, adapter, attempt, outcome, items, error, duration_ms, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing attempt insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range attempts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, a.ID, runID, a.Adapter, a.Attempt, a.Outcome, a.Items, a.Error,
			a.Duration.Milliseconds(), formatTime(a.AttemptedAt)); err != nil {
			return fmt.Errorf("saving attempt %d of %s: %w", a.Attempt, a.Adapter, err)
		}
	}
	return tx.Commit()
}

// AttemptsForRun returns the attempts of a run in the order they were made.
// It returns ErrNotFound if the run does not exist.
func (s *Store) AttemptsForRun(ctx context.Context, runID string) ([]FetchAttempt, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, adapter, attempt, outcome, items, error, duration_ms, attempted_at
		FROM fetch_attempts WHERE run_id = ? ORDER BY attempted_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FetchAttempt
	for rows.Next() {
		var a FetchAttempt
		var ms int64
		var at string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Adapter, &a.Attempt, &a.Outcome, &a.Items, &a.Error, &ms, &at); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		if a.AttemptedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing attempted_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdapterStats summarises recorded attempts per adapter, ordered by adapter.
func (s *Store) AdapterStats(ctx context.Context) ([]AdapterStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT adapter,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome = 'empty' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome = 'rate_limited' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome = 'unreachable' THEN 1 ELSE 0 END),
		       COALESCE(MAX(CASE WHEN outcome = 'ok' THEN attempted_at END), '')
		FROM fetch_attempts
		GROUP BY adapter
		ORDER BY adapter`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []AdapterStat
	for rows.Next() {
		var st AdapterStat
		var last string
		if err := rows.Scan(&st.Adapter, &st.Attempts, &st.Successes, &st.Empty, &st.RateLimited, &st.Unreachable, &last); err != nil {
			return nil, err
		}
		if last != "" {
			if st.LastSuccess, err = parseTime(last); err != nil {
				return nil, fmt.Errorf("parsing last success of %s: %w", st.Adapter, err)
			}
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// PruneRuns deletes runs (and their attempts) started before cutoff and
// returns how many runs were removed.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM harvest_runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return res.RowsAffected()
}
