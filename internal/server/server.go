// Package server exposes the enforcement engine over HTTP. The observer
// client posts observations here, the avatar UI polls status and
// interjections, and the CLI drives everything else through the same API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskwarden/internal/engine"
	"taskwarden/internal/oracle"
	"taskwarden/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"task text is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskwarden API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Taskwarden API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerConfig(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerObservations(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerStrikes(group, cfg.Engine)
	registerInterjections(group, cfg.Engine)
	registerAccount(group, cfg.Engine)
	registerRewards(group, cfg.Engine)
	registerAssessment(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerReset(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, oracle.ErrUnavailable) {
		return newAPIError(http.StatusBadGateway, "oracle_unavailable", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidInput) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "oracle_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Engine status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		st, err := e.StrikeStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		mood, err := e.Mood(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		account, err := e.Ledger.Account(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		done, total, err := e.Repo.CountTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := e.Repo.HasPendingInterjection(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"mood":                 mood,
			"strike_count":         st.StrikeCount,
			"force_redirect":       st.ForceRedirect,
			"balance":              account.Balance,
			"currency":             account.Currency,
			"tasks_done":           done,
			"tasks_total":          total,
			"pending_interjection": pending,
		}}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Effective configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"intervals":   e.Config.Intervals,
			"context":     e.Config.Context,
			"enforcement": e.Config.Enforcement,
			"account":     e.Config.Account,
			"rewards":     e.Config.Rewards,
		}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: taskResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Text) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		t, err := e.CreateTask(ctx, strings.TrimSpace(input.Body.Text))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		done, err := e.CompleteTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !done {
			return nil, newAPIError(http.StatusConflict, "conflict", "task already done", nil)
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "brain-dump",
		Method:        http.MethodPost,
		Path:          "/tasks/braindump",
		Summary:       "Extract tasks from free-form text",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body BrainDumpRequest `json:"body"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Text) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		created, err := e.BrainDump(ctx, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: taskResponses(created)}, nil
	})
}

func registerObservations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-observations",
		Method:      http.MethodGet,
		Path:        "/observations",
		Summary:     "List observations",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []ObservationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListObservations(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ObservationResponse `json:"body"`
		}{Body: observationResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-observation",
		Method:        http.MethodPost,
		Path:          "/observations",
		Summary:       "Record a screen observation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RecordObservationRequest `json:"body"`
	}) (*struct {
		Body ObservationResponse `json:"body"`
	}, error) {
		var o ObservationResponse
		if input.Body.Description != nil {
			obs, err := e.RecordObservation(ctx, input.Body.WindowTitle, input.Body.AppName, *input.Body.Description)
			if err != nil {
				return nil, handleError(err)
			}
			o = observationResponse(obs)
		} else {
			obs, err := e.ObserveScreen(ctx, input.Body.WindowTitle, input.Body.AppName)
			if err != nil {
				return nil, handleError(err)
			}
			o = observationResponse(obs)
		}
		return &struct {
			Body ObservationResponse `json:"body"`
		}{Body: o}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-manager",
		Method:      http.MethodPost,
		Path:        "/manager/run",
		Summary:     "Run one manager tick",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ManagerRunResponse `json:"body"`
	}, error) {
		res, err := e.RunManager(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ManagerRunResponse `json:"body"`
		}{Body: managerRunResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-compaction",
		Method:      http.MethodPost,
		Path:        "/compaction/run",
		Summary:     "Run one compaction tick",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CompactionRunResponse `json:"body"`
	}, error) {
		res, err := e.RunCompaction(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := CompactionRunResponse{Created: res.Created, Forgiven: res.Forgiven}
		if res.Created {
			c := compactionResponse(res.Compaction)
			out.Compaction = &c
		}
		return &struct {
			Body CompactionRunResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerStrikes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-strikes",
		Method:      http.MethodGet,
		Path:        "/strikes",
		Summary:     "Strike counter",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.StrikeStatus `json:"body"`
	}, error) {
		st, err := e.StrikeStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StrikeStatus `json:"body"`
		}{Body: st}, nil
	})
}

func registerInterjections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "poll-interjection",
		Method:      http.MethodGet,
		Path:        "/interjection",
		Summary:     "Poll the pending interjection",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InterjectionPollResponse `json:"body"`
	}, error) {
		pi, err := e.Repo.PendingInterjection(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return &struct {
				Body InterjectionPollResponse `json:"body"`
			}{Body: InterjectionPollResponse{Pending: false}}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InterjectionPollResponse `json:"body"`
		}{Body: InterjectionPollResponse{
			Pending:      true,
			Interjection: &InterjectionResponse{ID: pi.ID, TS: pi.TS, Message: pi.Message},
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-interjection",
		Method:      http.MethodPost,
		Path:        "/interjection/ack",
		Summary:     "Acknowledge the pending interjection",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.AckResult `json:"body"`
	}, error) {
		res, err := e.AcknowledgeInterjection(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AckResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerAccount(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/account",
		Summary:     "Account balance",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		a, err := e.Ledger.Account(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: AccountResponse{Balance: a.Balance, Currency: a.Currency}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-account",
		Method:      http.MethodPost,
		Path:        "/account/reset",
		Summary:     "Restore the initial balance",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		a, err := e.Ledger.ResetAccount(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: AccountResponse{Balance: a.Balance, Currency: a.Currency}}, nil
	})
}

func registerRewards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rewards",
		Method:      http.MethodGet,
		Path:        "/rewards",
		Summary:     "List reward orders",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []RewardResponse `json:"body"`
	}, error) {
		items, err := e.Ledger.ListRewards(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RewardResponse, 0, len(items))
		for _, o := range items {
			out = append(out, rewardResponse(o))
		}
		return &struct {
			Body []RewardResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-rewards",
		Method:      http.MethodPost,
		Path:        "/rewards/reset",
		Summary:     "Clear reward history",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.Ledger.ResetRewards(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAssessment(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assess-completion",
		Method:      http.MethodPost,
		Path:        "/assessment",
		Summary:     "Assess a completion report",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body AssessmentRequest `json:"body"`
	}) (*struct {
		Body AssessmentResponse `json:"body"`
	}, error) {
		out, err := e.AssessCompletion(ctx, input.Body.Transcript)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AssessmentResponse{
			IsCompliant:    out.IsCompliant,
			Message:        out.Message,
			TasksCompleted: out.TasksCompleted,
		}
		if out.Reward != nil {
			r := rewardResponse(*out.Reward)
			resp.Reward = &r
		}
		return &struct {
			Body AssessmentResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List manager decisions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []DecisionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDecisions(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DecisionResponse, 0, len(items))
		for _, d := range items {
			out = append(out, decisionResponse(d))
		}
		return &struct {
			Body []DecisionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-compactions",
		Method:      http.MethodGet,
		Path:        "/compactions",
		Summary:     "List compactions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []CompactionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListCompactions(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]CompactionResponse, 0, len(items))
		for _, c := range items {
			out = append(out, compactionResponse(c))
		}
		return &struct {
			Body []CompactionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transactions",
		Method:      http.MethodGet,
		Path:        "/transactions",
		Summary:     "List ledger transactions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []TransactionResponse `json:"body"`
	}, error) {
		items, err := e.Ledger.ListTransactions(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TransactionResponse, 0, len(items))
		for _, t := range items {
			out = append(out, transactionResponse(t))
		}
		return &struct {
			Body []TransactionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerReset(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/reset",
		Summary:     "Wipe all state back to the seeded defaults",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.ResetAll(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
