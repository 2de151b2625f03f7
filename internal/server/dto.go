package server

import (
	"taskwarden/internal/domain"
	"taskwarden/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	Text string `json:"text"`
}

type BrainDumpRequest struct {
	Text string `json:"text"`
}

type RecordObservationRequest struct {
	WindowTitle string  `json:"window_title"`
	AppName     string  `json:"app_name"`
	Description *string `json:"description,omitempty"`
}

type AssessmentRequest struct {
	Transcript string `json:"transcript"`
}

// Response payloads

type TaskResponse struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{ID: t.ID, Text: t.Text, Done: t.Done, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func taskResponses(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

type ObservationResponse struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	WindowTitle string `json:"window_title"`
	AppName     string `json:"app_name"`
	Description string `json:"description,omitempty"`
}

func observationResponse(o domain.Observation) ObservationResponse {
	return ObservationResponse{ID: o.ID, TS: o.TS, WindowTitle: o.WindowTitle, AppName: o.AppName, Description: o.Description}
}

func observationResponses(items []domain.Observation) []ObservationResponse {
	out := make([]ObservationResponse, 0, len(items))
	for _, o := range items {
		out = append(out, observationResponse(o))
	}
	return out
}

type CompactionResponse struct {
	ID               int64    `json:"id"`
	TS               string   `json:"ts"`
	PeriodStart      string   `json:"period_start"`
	PeriodEnd        string   `json:"period_end"`
	ObservationCount int      `json:"observation_count"`
	Summary          string   `json:"summary"`
	AppsUsed         []string `json:"apps_used"`
}

func compactionResponse(c domain.Compaction) CompactionResponse {
	apps := c.AppsUsed
	if apps == nil {
		apps = []string{}
	}
	return CompactionResponse{
		ID: c.ID, TS: c.TS, PeriodStart: c.PeriodStart, PeriodEnd: c.PeriodEnd,
		ObservationCount: c.ObservationCount, Summary: c.Summary, AppsUsed: apps,
	}
}

type DecisionResponse struct {
	ID                  int64    `json:"id"`
	TS                  string   `json:"ts"`
	IsProductive        bool     `json:"is_productive"`
	Reasoning           string   `json:"reasoning,omitempty"`
	Interjection        bool     `json:"interjection"`
	InterjectionMessage string   `json:"interjection_message,omitempty"`
	TasksUpdated        []string `json:"tasks_updated"`
	ElapsedMs           int64    `json:"elapsed_ms"`
}

func decisionResponse(d domain.ManagerDecision) DecisionResponse {
	updated := d.TasksUpdated
	if updated == nil {
		updated = []string{}
	}
	return DecisionResponse{
		ID: d.ID, TS: d.TS, IsProductive: d.IsProductive, Reasoning: d.Reasoning,
		Interjection: d.Interjection, InterjectionMessage: d.InterjectionMessage,
		TasksUpdated: updated, ElapsedMs: d.ElapsedMs,
	}
}

type InterjectionResponse struct {
	ID      string `json:"id"`
	TS      string `json:"ts"`
	Message string `json:"message"`
}

type InterjectionPollResponse struct {
	Pending      bool                  `json:"pending"`
	Interjection *InterjectionResponse `json:"interjection,omitempty"`
}

type AccountResponse struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type TransactionResponse struct {
	ID           int64   `json:"id"`
	TS           string  `json:"ts"`
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
	BalanceAfter float64 `json:"balance_after"`
	Description  string  `json:"description,omitempty"`
	StrikeCount  int     `json:"strike_count"`
}

func transactionResponse(t domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID: t.ID, TS: t.TS, Type: t.Type, Amount: t.Amount,
		BalanceAfter: t.BalanceAfter, Description: t.Description, StrikeCount: t.StrikeCount,
	}
}

type RewardResponse struct {
	OrderID        string `json:"order_id"`
	Item           string `json:"item"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	TasksCompleted int    `json:"tasks_completed"`
	TotalTasks     int    `json:"total_tasks"`
	TS             string `json:"ts"`
}

func rewardResponse(o domain.RewardOrder) RewardResponse {
	return RewardResponse{
		OrderID: o.OrderID, Item: o.Item, Status: o.Status, Reason: o.Reason,
		TasksCompleted: o.TasksCompleted, TotalTasks: o.TotalTasks, TS: o.TS,
	}
}

type ManagerRunResponse struct {
	Skipped  bool                 `json:"skipped"`
	Decision *DecisionResponse    `json:"decision,omitempty"`
	Penalty  *TransactionResponse `json:"penalty,omitempty"`
}

func managerRunResponse(res engine.ManagerResult) ManagerRunResponse {
	out := ManagerRunResponse{Skipped: res.Skipped}
	if !res.Skipped {
		d := decisionResponse(res.Decision)
		out.Decision = &d
	}
	if res.Penalty != nil {
		p := transactionResponse(*res.Penalty)
		out.Penalty = &p
	}
	return out
}

type CompactionRunResponse struct {
	Created    bool                `json:"created"`
	Forgiven   bool                `json:"forgiven"`
	Compaction *CompactionResponse `json:"compaction,omitempty"`
}

type AssessmentResponse struct {
	IsCompliant    bool            `json:"is_compliant"`
	Message        string          `json:"message"`
	TasksCompleted []string        `json:"tasks_completed"`
	Reward         *RewardResponse `json:"reward,omitempty"`
}
