package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taskwarden/internal/domain"
	"taskwarden/internal/repo"
)

// RecordObservation stores one screen observation as reported.
func (e Engine) RecordObservation(ctx context.Context, windowTitle, appName, description string) (domain.Observation, error) {
	if windowTitle == "" && appName == "" {
		return domain.Observation{}, fmt.Errorf("%w: window title or app name is required", ErrInvalidInput)
	}
	o := domain.Observation{
		TS:          repo.FormatTS(e.now()),
		WindowTitle: windowTitle,
		AppName:     appName,
		Description: description,
	}
	id, err := e.Repo.InsertObservation(ctx, o)
	if err != nil {
		return domain.Observation{}, err
	}
	o.ID = id
	return o, nil
}

// ObserveScreen records an observation, asking the oracle to describe the
// activity when the caller did not. A failed description is not fatal; the
// raw titles still carry signal for the manager.
func (e Engine) ObserveScreen(ctx context.Context, windowTitle, appName string) (domain.Observation, error) {
	description, err := e.Oracle.DescribeScreen(ctx, windowTitle, appName)
	if err != nil {
		e.Log.Warn("screen description failed", zap.Error(err))
		description = ""
	}
	return e.RecordObservation(ctx, windowTitle, appName, description)
}

// BrainDump turns free-form text into tasks via the oracle and stores each
// extracted item. Returns the created tasks in extraction order.
func (e Engine) BrainDump(ctx context.Context, text string) ([]domain.Task, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	items, err := e.Oracle.ExtractTasks(ctx, text)
	if err != nil {
		return nil, err
	}
	created := []domain.Task{}
	now := repo.FormatTS(e.now())
	for _, item := range items {
		if item == "" {
			continue
		}
		id, err := e.Repo.InsertTask(ctx, item, now)
		if err != nil {
			return created, err
		}
		created = append(created, domain.Task{ID: id, Text: item, CreatedAt: now, UpdatedAt: now})
	}
	e.Log.Info("brain dump", zap.Int("tasks_created", len(created)))
	return created, nil
}
