package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taskwarden/internal/domain"
	"taskwarden/internal/events"
	"taskwarden/internal/oracle"
	"taskwarden/internal/repo"
)

// CompactionResult is one compaction tick's outcome.
type CompactionResult struct {
	Created    bool
	Compaction domain.Compaction
	Forgiven   bool
}

// RunCompaction folds the elapsed window of observations into one summary
// row and settles the strike window. Forgiveness settles first so an oracle
// outage cannot block it.
func (e Engine) RunCompaction(ctx context.Context) (CompactionResult, error) {
	now := e.now()
	periodEnd := repo.FormatTS(now)
	periodStart := repo.FormatTS(now.Add(-e.Config.CompactionWindow()))

	forgiven, err := e.settleStrikeWindow(ctx, periodEnd)
	if err != nil {
		return CompactionResult{}, err
	}
	res := CompactionResult{Forgiven: forgiven}

	obs, err := e.Repo.ObservationsSince(ctx, periodStart)
	if err != nil {
		return res, err
	}
	if len(obs) == 0 {
		e.Log.Debug("compaction tick, no observations in window")
		return res, nil
	}

	lines := make([]oracle.ObservationLine, 0, len(obs))
	for _, o := range obs {
		lines = append(lines, oracle.ObservationLine{
			TS:          o.TS,
			WindowTitle: o.WindowTitle,
			AppName:     o.AppName,
			Description: o.Description,
		})
	}
	summary, err := e.Oracle.Summarize(ctx, lines)
	if err != nil {
		return res, fmt.Errorf("summarize: %w", err)
	}

	c := domain.Compaction{
		TS:               periodEnd,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		ObservationCount: len(obs),
		Summary:          summary.Text,
		AppsUsed:         summary.AppsUsed,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	c.ID, err = e.Repo.InsertCompactionTx(ctx, tx, c)
	if err != nil {
		return res, fmt.Errorf("insert compaction: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "compaction.created", "compaction", fmt.Sprintf("%d", c.ID), events.EventPayload{
		"observation_count": c.ObservationCount,
		"apps_used":         c.AppsUsed,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}

	res.Created = true
	res.Compaction = c
	e.Log.Info("compaction tick",
		zap.Int("observations", c.ObservationCount),
		zap.Bool("forgiven", forgiven))
	return res, nil
}

// settleStrikeWindow clears the counter and restarts the window. A count
// above the cap should be unreachable; if it ever happens the count is kept
// and only the window advances.
func (e Engine) settleStrikeWindow(ctx context.Context, now string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	st, err := e.Repo.GetStrikeStateTx(ctx, tx)
	if err != nil {
		return false, err
	}
	forgiven := st.StrikeCount > 0 && st.StrikeCount <= repo.MaxStrikes
	if forgiven {
		if err := e.Repo.ResetStrikesTx(ctx, tx, now); err != nil {
			return false, err
		}
		if err := e.Events.Append(ctx, tx, "strikes.forgiven", "strike_state", "1", events.EventPayload{
			"previous_count": st.StrikeCount,
		}); err != nil {
			return false, err
		}
	} else {
		if err := e.Repo.AdvanceWindowTx(ctx, tx, now); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return forgiven, nil
}
