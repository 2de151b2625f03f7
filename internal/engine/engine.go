// Package engine runs the enforcement loop: observations come in, the
// manager judges them, strikes and interjections escalate, compaction folds
// history and forgives accumulated strikes. All state lives in SQLite; every
// mutation that must hold together runs in one transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskwarden/internal/config"
	"taskwarden/internal/domain"
	"taskwarden/internal/events"
	"taskwarden/internal/ledger"
	"taskwarden/internal/oracle"
	"taskwarden/internal/repo"
)

// ErrInvalidInput marks requests rejected before any oracle call or write.
var ErrInvalidInput = errors.New("invalid input")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ledger ledger.Ledger
	Events events.Writer
	Oracle oracle.Oracle
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, orc oracle.Oracle, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:   db,
		Repo: repo.Repo{DB: db},
		Ledger: ledger.Ledger{
			DB:     db,
			Events: events.Writer{DB: db},
			Tiers: ledger.Tiers{
				Penalties: [3]float64{cfg.PenaltyFor(1), cfg.PenaltyFor(2), cfg.PenaltyFor(3)},
				Rewards: ledger.RewardItems{
					Base: cfg.Rewards.BaseItem,
					Mid:  cfg.Rewards.MidItem,
					Top:  cfg.Rewards.TopItem,
				},
			},
			InitialBalance: cfg.Account.InitialBalance,
			Currency:       cfg.Account.Currency,
		},
		Events: events.Writer{DB: db},
		Oracle: orc,
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Init seeds the singleton rows. Safe to call on every start.
func (e Engine) Init(ctx context.Context) error {
	now := repo.FormatTS(e.now())
	if err := e.Repo.EnsureStrikeState(ctx, now); err != nil {
		return fmt.Errorf("seed strike state: %w", err)
	}
	if err := e.Ledger.EnsureAccount(ctx); err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	return nil
}

// StrikeStatus is the strike counter as presented to callers. ForceRedirect
// flips when the worker has exhausted all strikes.
type StrikeStatus struct {
	StrikeCount   int    `json:"strike_count"`
	WindowStart   string `json:"window_start"`
	ForceRedirect bool   `json:"force_redirect"`
}

func (e Engine) StrikeStatus(ctx context.Context) (StrikeStatus, error) {
	st, err := e.Repo.GetStrikeState(ctx)
	if err != nil {
		return StrikeStatus{}, err
	}
	return StrikeStatus{
		StrikeCount:   st.StrikeCount,
		WindowStart:   st.WindowStart,
		ForceRedirect: st.StrikeCount >= repo.MaxStrikes,
	}, nil
}

// AckResult reports an acknowledgment: how many rows were closed and the
// strike counter as it stands. Acknowledgment never resets strikes; only
// compaction forgives.
type AckResult struct {
	Acknowledged int64 `json:"acknowledged"`
	StrikeCount  int   `json:"strike_count"`
}

// AcknowledgeInterjection clears every unacknowledged interjection.
// Acknowledging an empty gate is a no-op, not an error.
func (e Engine) AcknowledgeInterjection(ctx context.Context) (AckResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AckResult{}, err
	}
	defer tx.Rollback()

	n, err := e.Repo.AcknowledgeInterjectionsTx(ctx, tx)
	if err != nil {
		return AckResult{}, err
	}
	st, err := e.Repo.GetStrikeStateTx(ctx, tx)
	if err != nil {
		return AckResult{}, err
	}
	if n > 0 {
		if err := e.Events.Append(ctx, tx, "interjection.acknowledged", "interjection", "", events.EventPayload{
			"count": n,
		}); err != nil {
			return AckResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return AckResult{}, err
	}
	return AckResult{Acknowledged: n, StrikeCount: st.StrikeCount}, nil
}

// Mood derives the avatar mood from the latest decision and the strike
// counter. Completing tasks trumps everything else.
func (e Engine) Mood(ctx context.Context) (string, error) {
	st, err := e.Repo.GetStrikeState(ctx)
	if err != nil {
		return "", err
	}
	decisions, err := e.Repo.ListDecisions(ctx, 1)
	if err != nil {
		return "", err
	}
	var latest *domain.ManagerDecision
	if len(decisions) > 0 {
		latest = &decisions[0]
	}
	switch {
	case latest != nil && len(latest.TasksUpdated) > 0:
		return "happy", nil
	case latest != nil && latest.IsProductive && st.StrikeCount == 0:
		return "happy", nil
	case st.StrikeCount >= repo.MaxStrikes:
		return "angry", nil
	case st.StrikeCount == 2:
		return "sad", nil
	default:
		return "cool", nil
	}
}

// ResetAll wipes every table back to the seeded state. Used by the reset
// endpoint and the CLI.
func (e Engine) ResetAll(ctx context.Context) error {
	now := repo.FormatTS(e.now())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{
		"tasks", "observations", "compactions", "pending_interjections",
		"manager_decisions", "transactions", "reward_orders",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := e.Repo.ResetStrikesTx(ctx, tx, now); err != nil {
		return fmt.Errorf("reset strikes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE account SET balance=?, currency=? WHERE id=1`,
		e.Ledger.InitialBalance, e.Ledger.Currency); err != nil {
		return fmt.Errorf("reset account: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "system.reset", "system", "", nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateTask adds one task to the list.
func (e Engine) CreateTask(ctx context.Context, text string) (domain.Task, error) {
	if text == "" {
		return domain.Task{}, fmt.Errorf("%w: task text is required", ErrInvalidInput)
	}
	now := repo.FormatTS(e.now())
	id, err := e.Repo.InsertTask(ctx, text, now)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: id, Text: text, CreatedAt: now, UpdatedAt: now}, nil
}

// CompleteTask marks one task done by id. Completing an already done task
// reports false.
func (e Engine) CompleteTask(ctx context.Context, id int64) (bool, error) {
	if _, err := e.Repo.GetTask(ctx, id); err != nil {
		return false, err
	}
	now := repo.FormatTS(e.now())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	done, err := e.Repo.MarkTaskDoneByIDTx(ctx, tx, id, now)
	if err != nil {
		return false, err
	}
	if done {
		if err := e.Events.Append(ctx, tx, "task.completed", "task", fmt.Sprintf("%d", id), nil); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return done, nil
}
