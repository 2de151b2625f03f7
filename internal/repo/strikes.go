package repo

import (
	"context"
	"database/sql"

	"taskwarden/internal/domain"
)

// MaxStrikes caps the escalation counter.
const MaxStrikes = 3

// EnsureStrikeState seeds the singleton row if missing.
func (r Repo) EnsureStrikeState(ctx context.Context, now string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO strike_state(id,strike_count,window_start,updated_at) VALUES (1,0,?,?)`, now, now)
	return err
}

func (r Repo) EnsureStrikeStateTx(ctx context.Context, tx *sql.Tx, now string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO strike_state(id,strike_count,window_start,updated_at) VALUES (1,0,?,?)`, now, now)
	return err
}

func (r Repo) GetStrikeState(ctx context.Context) (domain.StrikeState, error) {
	var s domain.StrikeState
	err := r.DB.QueryRowContext(ctx,
		`SELECT strike_count,window_start,updated_at FROM strike_state WHERE id=1`).
		Scan(&s.StrikeCount, &s.WindowStart, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetStrikeStateTx(ctx context.Context, tx *sql.Tx) (domain.StrikeState, error) {
	var s domain.StrikeState
	err := tx.QueryRowContext(ctx,
		`SELECT strike_count,window_start,updated_at FROM strike_state WHERE id=1`).
		Scan(&s.StrikeCount, &s.WindowStart, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// IncrementStrikesTx advances the counter by one, capped at MaxStrikes, and
// returns the new count. The cap is applied in SQL so two racing increments
// cannot overshoot.
func (r Repo) IncrementStrikesTx(ctx context.Context, tx *sql.Tx, now string) (int, error) {
	_, err := tx.ExecContext(ctx,
		`UPDATE strike_state SET strike_count = MIN(?, strike_count + 1), updated_at = ? WHERE id=1`,
		MaxStrikes, now)
	if err != nil {
		return 0, err
	}
	var count int
	err = tx.QueryRowContext(ctx, `SELECT strike_count FROM strike_state WHERE id=1`).Scan(&count)
	return count, err
}

// ResetStrikesTx zeroes the counter and starts a fresh window.
func (r Repo) ResetStrikesTx(ctx context.Context, tx *sql.Tx, now string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE strike_state SET strike_count = 0, window_start = ?, updated_at = ? WHERE id=1`, now, now)
	return err
}

// AdvanceWindowTx keeps the count but moves the window forward. updated_at
// is left alone: it marks the last increment.
func (r Repo) AdvanceWindowTx(ctx context.Context, tx *sql.Tx, now string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE strike_state SET window_start = ? WHERE id=1`, now)
	return err
}
