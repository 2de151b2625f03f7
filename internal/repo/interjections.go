package repo

import (
	"context"
	"database/sql"

	"taskwarden/internal/domain"
)

// HasPendingInterjection reports whether any interjection is unacknowledged.
func (r Repo) HasPendingInterjection(ctx context.Context) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_interjections WHERE acknowledged=0`).Scan(&n)
	return n > 0, err
}

// OpenInterjectionTx inserts a new unacknowledged interjection iff none
// exists, as a single conditional statement. Returns false when the gate is
// already held. The partial unique index on acknowledged=0 backs this up.
func (r Repo) OpenInterjectionTx(ctx context.Context, tx *sql.Tx, id, ts, message string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO pending_interjections(id,ts,message,acknowledged)
		 SELECT ?,?,?,0
		 WHERE NOT EXISTS (SELECT 1 FROM pending_interjections WHERE acknowledged=0)`,
		id, ts, message)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PendingInterjection returns the current unacknowledged interjection.
func (r Repo) PendingInterjection(ctx context.Context) (domain.PendingInterjection, error) {
	var p domain.PendingInterjection
	var ack int
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,ts,message,acknowledged FROM pending_interjections WHERE acknowledged=0 ORDER BY ts DESC LIMIT 1`).
		Scan(&p.ID, &p.TS, &p.Message, &ack)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Acknowledged = ack != 0
	return p, err
}

// AcknowledgeInterjectionsTx marks every unacknowledged row acknowledged and
// returns how many rows changed. Zero rows is a valid, silent outcome.
func (r Repo) AcknowledgeInterjectionsTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE pending_interjections SET acknowledged=1 WHERE acknowledged=0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListInterjections(ctx context.Context, limit int) ([]domain.PendingInterjection, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,message,acknowledged FROM pending_interjections ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PendingInterjection
	for rows.Next() {
		var p domain.PendingInterjection
		var ack int
		if err := rows.Scan(&p.ID, &p.TS, &p.Message, &ack); err != nil {
			return nil, err
		}
		p.Acknowledged = ack != 0
		res = append(res, p)
	}
	return res, rows.Err()
}
