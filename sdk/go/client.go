// Package taskwardensdk is a minimal Taskwarden HTTP API client, meant for
// observer clients and avatar UIs that poll the engine.
package taskwardensdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Taskwarden HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Observation represents one screen observation.
type Observation struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	WindowTitle string `json:"window_title"`
	AppName     string `json:"app_name"`
	Description string `json:"description,omitempty"`
}

// Status is the engine status snapshot.
type Status struct {
	Mood                string  `json:"mood"`
	StrikeCount         int     `json:"strike_count"`
	ForceRedirect       bool    `json:"force_redirect"`
	Balance             float64 `json:"balance"`
	Currency            string  `json:"currency"`
	TasksDone           int     `json:"tasks_done"`
	TasksTotal          int     `json:"tasks_total"`
	PendingInterjection bool    `json:"pending_interjection"`
}

// Interjection is a pending interjection.
type Interjection struct {
	ID      string `json:"id"`
	TS      string `json:"ts"`
	Message string `json:"message"`
}

// InterjectionPoll wraps the poll response.
type InterjectionPoll struct {
	Pending      bool          `json:"pending"`
	Interjection *Interjection `json:"interjection,omitempty"`
}

// Assessment is the reply to a completion report.
type Assessment struct {
	IsCompliant    bool     `json:"is_compliant"`
	Message        string   `json:"message"`
	TasksCompleted []string `json:"tasks_completed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Status returns the engine status snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, text string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", map[string]any{"text": text}, &resp)
	return resp, err
}

// ListTasks lists all tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v0/tasks", nil, &resp)
	return resp, err
}

// RecordObservation posts one screen observation. Pass a nil description to
// let the engine's oracle describe the activity.
func (c *Client) RecordObservation(ctx context.Context, windowTitle, appName string, description *string) (Observation, error) {
	body := map[string]any{
		"window_title": windowTitle,
		"app_name":     appName,
	}
	if description != nil {
		body["description"] = *description
	}
	var resp Observation
	err := c.do(ctx, http.MethodPost, "v0/observations", body, &resp)
	return resp, err
}

// PollInterjection returns the pending interjection, if any.
func (c *Client) PollInterjection(ctx context.Context) (InterjectionPoll, error) {
	var resp InterjectionPoll
	err := c.do(ctx, http.MethodGet, "v0/interjection", nil, &resp)
	return resp, err
}

// Acknowledgment reports how many interjections were closed and the strike
// count as it stands after acknowledging.
type Acknowledgment struct {
	Acknowledged int64 `json:"acknowledged"`
	StrikeCount  int   `json:"strike_count"`
}

// AcknowledgeInterjection clears the pending interjection.
func (c *Client) AcknowledgeInterjection(ctx context.Context) (Acknowledgment, error) {
	var resp Acknowledgment
	err := c.do(ctx, http.MethodPost, "v0/interjection/ack", nil, &resp)
	return resp, err
}

// Assess submits a completion report.
func (c *Client) Assess(ctx context.Context, transcript string) (Assessment, error) {
	var resp Assessment
	err := c.do(ctx, http.MethodPost, "v0/assessment", map[string]any{"transcript": transcript}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
