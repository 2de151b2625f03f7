package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskwarden/internal/db"
	"taskwarden/internal/events"
	"taskwarden/internal/migrate"
)

func testLedger(t *testing.T) Ledger {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	l := Ledger{
		DB:     conn,
		Events: events.Writer{DB: conn},
		Tiers: Tiers{
			Penalties: [3]float64{10, 25, 50},
			Rewards:   RewardItems{Base: "sticker pack", Mid: "coffee voucher", Top: "premium treat"},
		},
		InitialBalance: 500,
		Currency:       "focus-credits",
		Now:            func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	require.NoError(t, l.EnsureAccount(context.Background()))
	return l
}

func TestPenaltyTiersIncrease(t *testing.T) {
	l := testLedger(t)
	require.Less(t, l.PenaltyFor(1), l.PenaltyFor(2))
	require.Less(t, l.PenaltyFor(2), l.PenaltyFor(3))
	require.Equal(t, l.PenaltyFor(3), l.PenaltyFor(7), "tier clamps above 3")
	require.Equal(t, l.PenaltyFor(1), l.PenaltyFor(0), "tier clamps below 1")
}

func TestApplyPenaltyDebitsAndRecords(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	tr, err := l.ApplyPenalty(ctx, 1, "unproductive window")
	require.NoError(t, err)
	require.Equal(t, "PENALTY", tr.Type)
	require.Equal(t, 10.0, tr.Amount)
	require.Equal(t, 490.0, tr.BalanceAfter)

	a, err := l.Account(ctx)
	require.NoError(t, err)
	require.Equal(t, 490.0, a.Balance)

	tr2, err := l.ApplyPenalty(ctx, 3, "third strike")
	require.NoError(t, err)
	require.Equal(t, 440.0, tr2.BalanceAfter)

	txs, err := l.ListTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, tr2.ID, txs[0].ID, "newest first")
}

func TestApplyPenaltyClampsAtZero(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := l.ApplyPenalty(ctx, 3, "drain")
		require.NoError(t, err)
	}
	tr, err := l.ApplyPenalty(ctx, 3, "already empty")
	require.NoError(t, err)
	require.Equal(t, 0.0, tr.BalanceAfter)
	require.Equal(t, 50.0, tr.Amount, "transaction records the full tier amount")

	a, err := l.Account(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.0, a.Balance)
}

func TestResetAccount(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	_, err := l.ApplyPenalty(ctx, 2, "strike")
	require.NoError(t, err)

	a, err := l.ResetAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, 500.0, a.Balance)

	txs, err := l.ListTransactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "CREDIT", txs[0].Type)
	require.Equal(t, 500.0, txs[0].BalanceAfter)
}

func TestRewardItemTiers(t *testing.T) {
	l := testLedger(t)
	cases := []struct {
		completed, total int
		want             string
	}{
		{0, 0, "sticker pack"},
		{1, 4, "sticker pack"},
		{2, 4, "coffee voucher"},
		{3, 4, "coffee voucher"},
		{4, 4, "premium treat"},
		{5, 4, "premium treat"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, l.RewardItemFor(c.completed, c.total), "completed=%d total=%d", c.completed, c.total)
	}
}

func TestIssueAndListRewards(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	o, err := l.IssueReward(ctx, 2, 4, "half the list done")
	require.NoError(t, err)
	require.NotEmpty(t, o.OrderID)
	require.Equal(t, "coffee voucher", o.Item)
	require.Equal(t, "placed", o.Status)

	list, err := l.ListRewards(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, o.OrderID, list[0].OrderID)

	require.NoError(t, l.ResetRewards(ctx))
	list, err = l.ListRewards(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, list)
}
