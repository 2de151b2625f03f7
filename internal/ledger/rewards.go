package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskwarden/internal/domain"
	"taskwarden/internal/events"
)

// RewardItemFor maps a cumulative completion ratio to a catalog item.
// An empty task list earns the base item.
func (l Ledger) RewardItemFor(completed, total int) string {
	if total <= 0 {
		return l.Tiers.Rewards.Base
	}
	ratio := float64(completed) / float64(total)
	switch {
	case ratio >= 1:
		return l.Tiers.Rewards.Top
	case ratio >= 0.5:
		return l.Tiers.Rewards.Mid
	default:
		return l.Tiers.Rewards.Base
	}
}

// IssueReward places a fulfillment order for the tier matching the ratio.
func (l Ledger) IssueReward(ctx context.Context, completed, total int, reason string) (domain.RewardOrder, error) {
	o := domain.RewardOrder{
		OrderID:        uuid.NewString(),
		Item:           l.RewardItemFor(completed, total),
		Status:         "placed",
		Reason:         reason,
		TasksCompleted: completed,
		TotalTasks:     total,
		TS:             l.now().UTC().Format(time.RFC3339),
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RewardOrder{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reward_orders(order_id,item,status,reason,tasks_completed,total_tasks,ts) VALUES (?,?,?,?,?,?,?)`,
		o.OrderID, o.Item, o.Status, nullable(o.Reason), o.TasksCompleted, o.TotalTasks, o.TS); err != nil {
		return domain.RewardOrder{}, fmt.Errorf("insert reward order: %w", err)
	}
	if err := l.Events.Append(ctx, tx, "reward.issued", "reward_order", o.OrderID, events.EventPayload{
		"item":            o.Item,
		"tasks_completed": completed,
		"total_tasks":     total,
	}); err != nil {
		return domain.RewardOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RewardOrder{}, err
	}
	return o, nil
}

// ListRewards returns the newest orders first.
func (l Ledger) ListRewards(ctx context.Context, limit int) ([]domain.RewardOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.DB.QueryContext(ctx,
		`SELECT order_id,item,status,COALESCE(reason,''),tasks_completed,total_tasks,ts FROM reward_orders ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RewardOrder
	for rows.Next() {
		var o domain.RewardOrder
		if err := rows.Scan(&o.OrderID, &o.Item, &o.Status, &o.Reason, &o.TasksCompleted, &o.TotalTasks, &o.TS); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ResetRewards clears the order history.
func (l Ledger) ResetRewards(ctx context.Context) error {
	_, err := l.DB.ExecContext(ctx, `DELETE FROM reward_orders`)
	return err
}
