// Package narrate delivers spoken lines to an external text-to-speech sink.
// It tails the event log and turns enforcement events into short scripts, so
// the worker hears interjections and penalties as they land.
package narrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskwarden/internal/domain"
	"taskwarden/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// speakable are the event types worth saying out loud.
var speakable = map[string]struct{}{
	"interjection.opened": {},
	"account.penalized":   {},
	"strikes.forgiven":    {},
	"reward.issued":       {},
}

type Dispatcher struct {
	Repo     repo.Repo
	URL      string
	Secret   string
	Interval time.Duration
	Log      *zap.Logger

	client *http.Client
	cursor int64
}

func New(r repo.Repo, url, secret string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		Repo:     r,
		URL:      url,
		Secret:   secret,
		Interval: defaultInterval,
		Log:      log,
		client:   &http.Client{Timeout: defaultTimeout},
	}
}

// Run tails the event log until the context is cancelled. The cursor starts
// at the latest event so a restart does not replay old narration.
func (d *Dispatcher) Run(ctx context.Context) error {
	if strings.TrimSpace(d.URL) == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	cur, err := d.Repo.LatestEventID(ctx)
	if err != nil {
		d.Log.Warn("narration cursor init failed", zap.Error(err))
		cur = 0
	}
	d.cursor = cur

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.dispatch(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	events, err := d.Repo.EventsAfter(ctx, defaultBatch, d.cursor)
	if err != nil {
		d.Log.Warn("narration fetch failed", zap.Error(err))
		return
	}
	for _, evt := range events {
		if _, ok := speakable[evt.Type]; !ok {
			d.cursor = evt.ID
			continue
		}
		script := BuildScript(evt)
		if script == "" {
			d.cursor = evt.ID
			continue
		}
		if err := d.post(ctx, evt, script); err != nil {
			// Leave the cursor so delivery retries next tick.
			d.Log.Warn("narration delivery failed", zap.String("url", d.URL), zap.Error(err))
			return
		}
		d.cursor = evt.ID
	}
}

// BuildScript renders one event into a spoken line.
func BuildScript(evt domain.Event) string {
	var payload map[string]any
	if evt.Payload != "" {
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err != nil {
			payload = map[string]any{}
		}
	}
	switch evt.Type {
	case "interjection.opened":
		msg, _ := payload["message"].(string)
		return msg
	case "account.penalized":
		amount, _ := payload["amount"].(float64)
		strike, _ := payload["strike_count"].(float64)
		return fmt.Sprintf("Strike %d. %.0f credits deducted from your account.", int(strike), amount)
	case "strikes.forgiven":
		return "Clean window. Your strikes have been cleared."
	case "reward.issued":
		item, _ := payload["item"].(string)
		if item == "" {
			return ""
		}
		return fmt.Sprintf("Well done. A %s is on its way.", item)
	default:
		return ""
	}
}

type narrationRequest struct {
	Text    string `json:"text"`
	EventID int64  `json:"event_id"`
	Type    string `json:"type"`
	TS      string `json:"ts"`
}

func (d *Dispatcher) post(ctx context.Context, evt domain.Event, script string) error {
	data, err := json.Marshal(narrationRequest{
		Text:    script,
		EventID: evt.ID,
		Type:    evt.Type,
		TS:      evt.TS,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskwarden-Event", evt.Type)
	req.Header.Set("X-Taskwarden-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(d.Secret) != "" {
		req.Header.Set("X-Taskwarden-Secret", d.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
