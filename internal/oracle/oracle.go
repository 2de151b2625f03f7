// Package oracle is the judgment boundary. Every call crosses to an external
// language model, so every reply is untrusted input: typed contracts on the
// way in, default-filled structs on the way out, and no caller ever sees a
// half-parsed verdict.
package oracle

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the model endpoint cannot be reached or
// answers with a non-success status. Callers decide whether the tick is
// skipped or surfaced.
var ErrUnavailable = errors.New("oracle unavailable")

// JudgeRequest carries the assembled context for one manager tick.
type JudgeRequest struct {
	Tasks        []TaskLine
	Observations []ObservationLine
	Summary      string
	StrikeCount  int
}

type TaskLine struct {
	ID   int64
	Text string
	Done bool
}

type ObservationLine struct {
	TS          string
	WindowTitle string
	AppName     string
	Description string
}

// Verdict is the normalized judgment. A missing or malformed field lands on
// the lenient default: productive, no interjection.
type Verdict struct {
	IsProductive        bool
	Reasoning           string
	Interjection        bool
	InterjectionMessage string
	TasksToComplete     []string
}

// Assessment is the normalized reply to a completion claim. CompletedNumbers
// carries 1-based indices into the numbered open-task list the model was
// shown; CompletedTasks is tolerance for models that echo task text instead.
type Assessment struct {
	IsCompliant      bool
	CompletedNumbers []int
	CompletedTasks   []string
	Message          string
}

// Summary folds a window of observations into one paragraph plus the app
// list that dominated it.
type Summary struct {
	Text     string
	AppsUsed []string
}

// Oracle is the full judgment surface. The engine only ever depends on this
// interface; the HTTP client and the test fakes both satisfy it.
type Oracle interface {
	// Judge decides whether the recent activity serves the task list.
	Judge(ctx context.Context, req JudgeRequest) (Verdict, error)
	// AssessCompletion checks a user's claim of finished work against the
	// open tasks.
	AssessCompletion(ctx context.Context, transcript string, tasks []TaskLine) (Assessment, error)
	// Summarize compacts a window of observations.
	Summarize(ctx context.Context, obs []ObservationLine) (Summary, error)
	// ExtractTasks pulls actionable items out of free-form text.
	ExtractTasks(ctx context.Context, text string) ([]string, error)
	// DescribeScreen renders one observation into a short activity line.
	DescribeScreen(ctx context.Context, windowTitle, appName string) (string, error)
}

// Wire shapes use pointers so absence is distinguishable from zero and the
// defaults can be filled deliberately.

type verdictWire struct {
	IsProductive        *bool    `json:"is_productive"`
	Reasoning           *string  `json:"reasoning"`
	Interjection        *bool    `json:"interjection"`
	InterjectionMessage *string  `json:"interjection_message"`
	TasksToComplete     []string `json:"tasks_to_complete"`
}

func (w verdictWire) normalize() Verdict {
	v := Verdict{
		IsProductive:    true,
		TasksToComplete: []string{},
	}
	if w.IsProductive != nil {
		v.IsProductive = *w.IsProductive
	}
	if w.Reasoning != nil {
		v.Reasoning = *w.Reasoning
	}
	if w.Interjection != nil {
		v.Interjection = *w.Interjection
	}
	if w.InterjectionMessage != nil {
		v.InterjectionMessage = *w.InterjectionMessage
	}
	if w.TasksToComplete != nil {
		v.TasksToComplete = w.TasksToComplete
	}
	// An interjection without a message cannot be surfaced; drop it.
	if v.Interjection && v.InterjectionMessage == "" {
		v.Interjection = false
	}
	return v
}

// defaultVerdict is what a fully malformed reply decays into.
func defaultVerdict() Verdict {
	return Verdict{IsProductive: true, TasksToComplete: []string{}}
}

type assessmentWire struct {
	IsCompliant          *bool    `json:"is_compliant"`
	CompletedTaskNumbers []int    `json:"completed_task_numbers"`
	CompletedTasks       []string `json:"completed_tasks"`
	Message              *string  `json:"message"`
}

func (w assessmentWire) normalize() Assessment {
	a := Assessment{CompletedNumbers: []int{}, CompletedTasks: []string{}}
	if w.IsCompliant != nil {
		a.IsCompliant = *w.IsCompliant
	}
	if w.CompletedTaskNumbers != nil {
		a.CompletedNumbers = w.CompletedTaskNumbers
	}
	if w.CompletedTasks != nil {
		a.CompletedTasks = w.CompletedTasks
	}
	if w.Message != nil {
		a.Message = *w.Message
	}
	return a
}

type summaryWire struct {
	Summary  *string  `json:"summary"`
	AppsUsed []string `json:"apps_used"`
}

func (w summaryWire) normalize() Summary {
	s := Summary{AppsUsed: []string{}}
	if w.Summary != nil {
		s.Text = *w.Summary
	}
	if w.AppsUsed != nil {
		s.AppsUsed = w.AppsUsed
	}
	return s
}

type taskListWire struct {
	Tasks []string `json:"tasks"`
}

type descriptionWire struct {
	Description *string `json:"description"`
}
