package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to any OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	log     *zap.Logger
}

type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("TASKWARDEN_API_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// chatJSON runs one completion and returns the raw content string. Transport
// and status failures map to ErrUnavailable; content parsing is left to the
// typed callers so malformed replies can decay to defaults instead of errors.
func (c *Client) chatJSON(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.1,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(raw), 200))
	}
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("%w: parse envelope: %v", ErrUnavailable, err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	c.log.Debug("oracle reply",
		zap.String("model", c.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_len", len(content)))
	return stripFences(content), nil
}

func (c *Client) Judge(ctx context.Context, req JudgeRequest) (Verdict, error) {
	content, err := c.chatJSON(ctx, judgeSystemPrompt, buildJudgeUser(req))
	if err != nil {
		return Verdict{}, err
	}
	var w verdictWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		c.log.Warn("malformed verdict, using defaults", zap.Error(err))
		return defaultVerdict(), nil
	}
	return w.normalize(), nil
}

func (c *Client) AssessCompletion(ctx context.Context, transcript string, tasks []TaskLine) (Assessment, error) {
	content, err := c.chatJSON(ctx, assessSystemPrompt, buildAssessUser(transcript, tasks))
	if err != nil {
		return Assessment{}, err
	}
	var w assessmentWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		c.log.Warn("malformed assessment, using defaults", zap.Error(err))
		return Assessment{CompletedNumbers: []int{}, CompletedTasks: []string{}}, nil
	}
	return w.normalize(), nil
}

func (c *Client) Summarize(ctx context.Context, obs []ObservationLine) (Summary, error) {
	content, err := c.chatJSON(ctx, summarizeSystemPrompt, buildSummarizeUser(obs))
	if err != nil {
		return Summary{}, err
	}
	var w summaryWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		c.log.Warn("malformed summary, using defaults", zap.Error(err))
		return Summary{AppsUsed: []string{}}, nil
	}
	return w.normalize(), nil
}

func (c *Client) ExtractTasks(ctx context.Context, text string) ([]string, error) {
	content, err := c.chatJSON(ctx, extractSystemPrompt, text)
	if err != nil {
		return nil, err
	}
	var w taskListWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		c.log.Warn("malformed task list, using defaults", zap.Error(err))
		return []string{}, nil
	}
	if w.Tasks == nil {
		return []string{}, nil
	}
	return w.Tasks, nil
}

func (c *Client) DescribeScreen(ctx context.Context, windowTitle, appName string) (string, error) {
	user := fmt.Sprintf("window=%q app=%q", windowTitle, appName)
	content, err := c.chatJSON(ctx, describeSystemPrompt, user)
	if err != nil {
		return "", err
	}
	var w descriptionWire
	if err := json.Unmarshal([]byte(content), &w); err != nil || w.Description == nil {
		return "", nil
	}
	return *w.Description, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one despite the response_format hint.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
