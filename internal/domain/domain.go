package domain

// Task is a single user commitment. Done only ever flips to true; the sole
// way back is a full reset.
type Task struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Observation is one timestamped screen-state snapshot. Append-only.
type Observation struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	WindowTitle string `json:"window_title,omitempty"`
	AppName     string `json:"app_name,omitempty"`
	Description string `json:"description"`
}

// Compaction is a rollup summary over a trailing window of observations.
type Compaction struct {
	ID               int64    `json:"id"`
	TS               string   `json:"ts" format:"date-time"`
	PeriodStart      string   `json:"period_start" format:"date-time"`
	PeriodEnd        string   `json:"period_end" format:"date-time"`
	ObservationCount int      `json:"observation_count"`
	Summary          string   `json:"summary"`
	AppsUsed         []string `json:"apps_used,omitempty"`
}

// StrikeState is the singleton escalation counter. Count stays in [0,3];
// it rises one step per opened interjection and drops to zero only through
// the compaction forgiveness pass.
type StrikeState struct {
	StrikeCount int    `json:"strike_count"`
	WindowStart string `json:"window_start" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// PendingInterjection is one enforcement message awaiting acknowledgment.
// At most one row is unacknowledged at any instant.
type PendingInterjection struct {
	ID           string `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Message      string `json:"message"`
	Acknowledged bool   `json:"acknowledged"`
}

// ManagerDecision is the append-only audit row written once per manager run,
// including skipped runs.
type ManagerDecision struct {
	ID                  int64    `json:"id"`
	TS                  string   `json:"ts" format:"date-time"`
	IsProductive        bool     `json:"is_productive"`
	Reasoning           string   `json:"reasoning"`
	Interjection        bool     `json:"interjection"`
	InterjectionMessage string   `json:"interjection_message,omitempty"`
	TasksUpdated        []string `json:"tasks_updated,omitempty"`
	ElapsedMs           int64    `json:"elapsed_ms"`
}

// Account is the singleton fictional balance. Only penalty debits mutate it.
type Account struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Transaction is one append-only ledger row. BalanceAfter always equals the
// account balance immediately after the write.
type Transaction struct {
	ID           int64   `json:"id"`
	TS           string  `json:"ts" format:"date-time"`
	Type         string  `json:"type" enum:"PENALTY,CREDIT"`
	Amount       float64 `json:"amount"`
	BalanceAfter float64 `json:"balance_after"`
	Description  string  `json:"description,omitempty"`
	StrikeCount  int     `json:"strike_count"`
}

// RewardOrder is a fictional fulfillment order issued on task completion.
type RewardOrder struct {
	OrderID        string `json:"order_id"`
	Item           string `json:"item"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	TasksCompleted int    `json:"tasks_completed"`
	TotalTasks     int    `json:"total_tasks"`
	TS             string `json:"ts" format:"date-time"`
}

// Event is one row of the append-only change log, written inside the same
// transaction as the state change it records.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
