// Package ledger holds the fictional penalty and reward side-effect system.
// Penalties debit the singleton account; rewards issue fulfillment orders.
// The two channels never touch each other's tables.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskwarden/internal/domain"
	"taskwarden/internal/events"
)

// Tiers is the configured amount table, indexed by strike tier 1..3 and
// strictly increasing.
type Tiers struct {
	Penalties [3]float64
	Rewards   RewardItems
}

type RewardItems struct {
	Base string
	Mid  string
	Top  string
}

type Ledger struct {
	DB             *sql.DB
	Events         events.Writer
	Tiers          Tiers
	InitialBalance float64
	Currency       string
	Now            func() time.Time
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// PenaltyFor returns the amount for a strike tier, clamped into [1,3].
func (l Ledger) PenaltyFor(strike int) float64 {
	if strike < 1 {
		strike = 1
	}
	if strike > 3 {
		strike = 3
	}
	return l.Tiers.Penalties[strike-1]
}

// EnsureAccount seeds the singleton account row if missing.
func (l Ledger) EnsureAccount(ctx context.Context) error {
	_, err := l.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO account(id,balance,currency) VALUES (1,?,?)`,
		l.InitialBalance, l.Currency)
	return err
}

func (l Ledger) EnsureAccountTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO account(id,balance,currency) VALUES (1,?,?)`,
		l.InitialBalance, l.Currency)
	return err
}

// Account returns the current balance.
func (l Ledger) Account(ctx context.Context) (domain.Account, error) {
	var a domain.Account
	err := l.DB.QueryRowContext(ctx, `SELECT balance,currency FROM account WHERE id=1`).
		Scan(&a.Balance, &a.Currency)
	return a, err
}

// ApplyPenalty debits the tier amount, clamping the balance at zero, and
// writes the matching transaction row in the same transaction. A balance
// below the amount still produces a full-amount transaction record.
func (l Ledger) ApplyPenalty(ctx context.Context, strike int, description string) (domain.Transaction, error) {
	amount := l.PenaltyFor(strike)
	ts := l.now().UTC().Format(time.RFC3339)

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer tx.Rollback()

	var balance float64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM account WHERE id=1`).Scan(&balance); err != nil {
		return domain.Transaction{}, fmt.Errorf("read account: %w", err)
	}
	newBalance := balance - amount
	if newBalance < 0 {
		newBalance = 0
	}
	if _, err := tx.ExecContext(ctx, `UPDATE account SET balance=? WHERE id=1`, newBalance); err != nil {
		return domain.Transaction{}, fmt.Errorf("debit account: %w", err)
	}
	t := domain.Transaction{
		TS:           ts,
		Type:         "PENALTY",
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
		StrikeCount:  strike,
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions(ts,type,amount,balance_after,description,strike_count) VALUES (?,?,?,?,?,?)`,
		t.TS, t.Type, t.Amount, t.BalanceAfter, nullable(t.Description), t.StrikeCount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	if err := l.Events.Append(ctx, tx, "account.penalized", "transaction", fmt.Sprintf("%d", t.ID), events.EventPayload{
		"strike_count":  strike,
		"amount":        amount,
		"balance_after": newBalance,
	}); err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

// ResetAccount restores the configured initial balance and records a CREDIT
// row so the transaction chain stays complete.
func (l Ledger) ResetAccount(ctx context.Context) (domain.Account, error) {
	ts := l.now().UTC().Format(time.RFC3339)
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	var balance float64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM account WHERE id=1`).Scan(&balance); err != nil {
		return domain.Account{}, fmt.Errorf("read account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE account SET balance=? WHERE id=1`, l.InitialBalance); err != nil {
		return domain.Account{}, fmt.Errorf("reset account: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions(ts,type,amount,balance_after,description,strike_count) VALUES (?,?,?,?,?,0)`,
		ts, "CREDIT", l.InitialBalance-balance, l.InitialBalance, "account reset"); err != nil {
		return domain.Account{}, fmt.Errorf("insert reset transaction: %w", err)
	}
	if err := l.Events.Append(ctx, tx, "account.reset", "account", "1", events.EventPayload{
		"balance": l.InitialBalance,
	}); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return domain.Account{Balance: l.InitialBalance, Currency: l.Currency}, nil
}

// ListTransactions returns the newest ledger rows first.
func (l Ledger) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.DB.QueryContext(ctx,
		`SELECT id,ts,type,amount,balance_after,COALESCE(description,''),strike_count FROM transactions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.TS, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &t.StrikeCount); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
