package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskwarden/internal/domain"
	"taskwarden/internal/events"
	"taskwarden/internal/oracle"
	"taskwarden/internal/repo"
)

// ManagerResult is one manager tick's outcome.
type ManagerResult struct {
	Skipped  bool
	Decision domain.ManagerDecision
	Penalty  *domain.Transaction
}

// RunManager executes one judgment tick. While an interjection is pending
// the tick is skipped entirely: the worker has been told off and nothing new
// is decided until they acknowledge. The oracle's verdict is untrusted; all
// side effects flow from the normalized form.
func (e Engine) RunManager(ctx context.Context) (ManagerResult, error) {
	pending, err := e.Repo.HasPendingInterjection(ctx)
	if err != nil {
		return ManagerResult{}, err
	}
	if pending {
		// The audit log records every tick, skips included.
		d := domain.ManagerDecision{
			TS:           repo.FormatTS(e.now()),
			IsProductive: true,
			Reasoning:    "skipped: interjection pending acknowledgment",
			TasksUpdated: []string{},
		}
		d.ID, err = e.Repo.InsertDecision(ctx, d)
		if err != nil {
			return ManagerResult{}, fmt.Errorf("record decision: %w", err)
		}
		e.Log.Debug("manager tick skipped, interjection pending")
		return ManagerResult{Skipped: true, Decision: d}, nil
	}

	req, err := e.assembleContext(ctx)
	if err != nil {
		return ManagerResult{}, err
	}

	start := e.now()
	verdict, err := e.Oracle.Judge(ctx, req)
	if err != nil {
		return ManagerResult{}, fmt.Errorf("judge: %w", err)
	}
	elapsed := e.now().Sub(start)

	res := ManagerResult{}
	tasksUpdated, err := e.applyVerdict(ctx, verdict, &res)
	if err != nil {
		return ManagerResult{}, err
	}

	d := domain.ManagerDecision{
		TS:                  repo.FormatTS(start),
		IsProductive:        verdict.IsProductive,
		Reasoning:           verdict.Reasoning,
		Interjection:        verdict.Interjection,
		InterjectionMessage: verdict.InterjectionMessage,
		TasksUpdated:        tasksUpdated,
		ElapsedMs:           elapsed.Milliseconds(),
	}
	d.ID, err = e.Repo.InsertDecision(ctx, d)
	if err != nil {
		return ManagerResult{}, fmt.Errorf("record decision: %w", err)
	}
	res.Decision = d

	e.Log.Info("manager tick",
		zap.Bool("productive", d.IsProductive),
		zap.Bool("interjection", d.Interjection),
		zap.Strings("tasks_updated", tasksUpdated),
		zap.Int64("elapsed_ms", d.ElapsedMs))
	return res, nil
}

// assembleContext gathers the task list, the recent observation window and
// the latest compaction summary for the judge prompt.
func (e Engine) assembleContext(ctx context.Context) (oracle.JudgeRequest, error) {
	var req oracle.JudgeRequest

	tasks, err := e.Repo.ListTasks(ctx)
	if err != nil {
		return req, err
	}
	for _, t := range tasks {
		req.Tasks = append(req.Tasks, oracle.TaskLine{ID: t.ID, Text: t.Text, Done: t.Done})
	}

	since := repo.FormatTS(e.now().Add(-e.Config.ObservationWindow()))
	obs, err := e.Repo.RecentObservations(ctx, since, e.Config.Context.MaxObservations)
	if err != nil {
		return req, err
	}
	// RecentObservations is newest first; the prompt wants newest last.
	for i := len(obs) - 1; i >= 0; i-- {
		o := obs[i]
		req.Observations = append(req.Observations, oracle.ObservationLine{
			TS:          o.TS,
			WindowTitle: o.WindowTitle,
			AppName:     o.AppName,
			Description: o.Description,
		})
	}

	comp, err := e.Repo.LatestCompaction(ctx)
	if err == nil {
		req.Summary = comp.Summary
	} else if !errors.Is(err, repo.ErrNotFound) {
		return req, err
	}

	st, err := e.Repo.GetStrikeState(ctx)
	if err != nil {
		return req, err
	}
	req.StrikeCount = st.StrikeCount
	return req, nil
}

// applyVerdict runs the verdict's side effects in one transaction: completed
// tasks are marked done, and an interjection verdict opens the gate and
// increments the strike counter. The gate insert is a
// conditional single statement, so two concurrent ticks cannot both open it.
// The penalty debit runs after commit and is non-fatal.
func (e Engine) applyVerdict(ctx context.Context, v oracle.Verdict, res *ManagerResult) ([]string, error) {
	now := repo.FormatTS(e.now())
	tasksUpdated := []string{}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if len(v.TasksToComplete) > 0 {
		open, err := e.Repo.ListTasks(ctx)
		if err != nil {
			return nil, err
		}
		for _, claimed := range v.TasksToComplete {
			for _, t := range open {
				if t.Done || !MatchApproximate(t.Text, claimed) {
					continue
				}
				done, err := e.Repo.MarkTaskDoneByIDTx(ctx, tx, t.ID, now)
				if err != nil {
					return nil, err
				}
				if done {
					tasksUpdated = append(tasksUpdated, t.Text)
					if err := e.Events.Append(ctx, tx, "task.completed", "task", fmt.Sprintf("%d", t.ID), events.EventPayload{
						"source": "manager",
					}); err != nil {
						return nil, err
					}
				}
				break
			}
		}
	}

	// Escalation follows the interjection verdict alone; normalization
	// already dropped any interjection without a message.
	var penaltyStrike int
	if v.Interjection {
		opened, err := e.Repo.OpenInterjectionTx(ctx, tx, uuid.NewString(), now, v.InterjectionMessage)
		if err != nil {
			return nil, err
		}
		if opened {
			count, err := e.Repo.IncrementStrikesTx(ctx, tx, now)
			if err != nil {
				return nil, err
			}
			penaltyStrike = count
			if err := e.Events.Append(ctx, tx, "interjection.opened", "interjection", "", events.EventPayload{
				"message":      v.InterjectionMessage,
				"strike_count": count,
			}); err != nil {
				return nil, err
			}
			if err := e.Events.Append(ctx, tx, "strikes.incremented", "strike_state", "1", events.EventPayload{
				"strike_count": count,
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if penaltyStrike > 0 {
		t, err := e.Ledger.ApplyPenalty(ctx, penaltyStrike, fmt.Sprintf("strike %d: %s", penaltyStrike, v.Reasoning))
		if err != nil {
			// The strike and interjection already committed; a failed debit
			// must not undo them.
			e.Log.Error("penalty debit failed", zap.Int("strike", penaltyStrike), zap.Error(err))
		} else {
			res.Penalty = &t
		}
	}
	return tasksUpdated, nil
}
