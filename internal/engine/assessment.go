package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"taskwarden/internal/domain"
	"taskwarden/internal/events"
	"taskwarden/internal/oracle"
	"taskwarden/internal/repo"
)

// refusalMessage is what an empty or refused report earns.
const refusalMessage = "Refusal noted. Tasks remain pending."

// AssessmentOutcome is the result of reviewing a completion claim.
type AssessmentOutcome struct {
	IsCompliant    bool                `json:"is_compliant"`
	Message        string              `json:"message"`
	TasksCompleted []string            `json:"tasks_completed"`
	Reward         *domain.RewardOrder `json:"reward,omitempty"`
}

// AssessCompletion reviews the worker's report against the open task list.
// An empty report never reaches the oracle and has no side effects. The
// oracle returns numbers into the open list as presented; it may also echo
// task texts, which must then match a task exactly. A tick that completes at
// least one task is compliant regardless of the oracle's verdict and earns a
// reward tiered by the cumulative completion ratio.
func (e Engine) AssessCompletion(ctx context.Context, transcript string) (AssessmentOutcome, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return AssessmentOutcome{Message: refusalMessage, TasksCompleted: []string{}}, nil
	}

	tasks, err := e.Repo.ListTasks(ctx)
	if err != nil {
		return AssessmentOutcome{}, err
	}
	var open []domain.Task
	lines := make([]oracle.TaskLine, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, oracle.TaskLine{ID: t.ID, Text: t.Text, Done: t.Done})
		if !t.Done {
			open = append(open, t)
		}
	}

	a, err := e.Oracle.AssessCompletion(ctx, transcript, lines)
	if err != nil {
		return AssessmentOutcome{}, fmt.Errorf("assess: %w", err)
	}

	if !a.IsCompliant && len(a.CompletedNumbers) == 0 && len(a.CompletedTasks) == 0 {
		msg := a.Message
		if msg == "" {
			msg = refusalMessage
		}
		return AssessmentOutcome{Message: msg, TasksCompleted: []string{}}, nil
	}

	completed, err := e.markClaimedTasks(ctx, a.CompletedNumbers, a.CompletedTasks, open)
	if err != nil {
		return AssessmentOutcome{}, err
	}

	out := AssessmentOutcome{
		// Completed work is compliance, whatever the oracle thought of
		// the tone.
		IsCompliant:    a.IsCompliant || len(completed) > 0,
		Message:        a.Message,
		TasksCompleted: completed,
	}
	if len(completed) > 0 {
		done, total, err := e.Repo.CountTasks(ctx)
		if err != nil {
			return AssessmentOutcome{}, err
		}
		reward, err := e.Ledger.IssueReward(ctx, done, total,
			fmt.Sprintf("completed %d of %d tasks", done, total))
		if err != nil {
			e.Log.Error("reward issue failed", zap.Error(err))
		} else {
			out.Reward = &reward
		}
	}
	e.Log.Info("assessment",
		zap.Bool("compliant", out.IsCompliant),
		zap.Strings("completed", completed))
	return out, nil
}

// markClaimedTasks resolves oracle claims against the open list and marks
// the matches done in one transaction. Numbers are 1-based indices into the
// open list as shown to the oracle; text claims must match a task exactly.
// Returns the texts actually marked.
func (e Engine) markClaimedTasks(ctx context.Context, numbers []int, texts []string, open []domain.Task) ([]string, error) {
	completed := []string{}
	if (len(numbers) == 0 && len(texts) == 0) || len(open) == 0 {
		return completed, nil
	}
	now := repo.FormatTS(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	marked := map[int64]bool{}
	mark := func(target *domain.Task) error {
		if marked[target.ID] {
			return nil
		}
		done, err := e.Repo.MarkTaskDoneByIDTx(ctx, tx, target.ID, now)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		marked[target.ID] = true
		completed = append(completed, target.Text)
		return e.Events.Append(ctx, tx, "task.completed", "task", fmt.Sprintf("%d", target.ID), events.EventPayload{
			"source": "assessment",
		})
	}

	for _, idx := range numbers {
		if idx < 1 || idx > len(open) {
			continue
		}
		if err := mark(&open[idx-1]); err != nil {
			return nil, err
		}
	}
	for _, claim := range texts {
		var target *domain.Task
		if idx, err := strconv.Atoi(strings.TrimSpace(claim)); err == nil {
			// A bare number echoed as text still counts as an index.
			if idx >= 1 && idx <= len(open) {
				target = &open[idx-1]
			}
		} else {
			for i := range open {
				if MatchExact(open[i].Text, claim) {
					target = &open[i]
					break
				}
			}
		}
		if target == nil {
			continue
		}
		if err := mark(target); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return completed, nil
}
