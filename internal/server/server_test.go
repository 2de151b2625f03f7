package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"taskwarden/internal/config"
	"taskwarden/internal/db"
	"taskwarden/internal/engine"
	"taskwarden/internal/migrate"
	"taskwarden/internal/oracle"
)

type scriptedOracle struct {
	verdict    oracle.Verdict
	assessment oracle.Assessment
	summary    oracle.Summary
	tasks      []string
}

func (o *scriptedOracle) Judge(ctx context.Context, req oracle.JudgeRequest) (oracle.Verdict, error) {
	return o.verdict, nil
}

func (o *scriptedOracle) AssessCompletion(ctx context.Context, transcript string, tasks []oracle.TaskLine) (oracle.Assessment, error) {
	return o.assessment, nil
}

func (o *scriptedOracle) Summarize(ctx context.Context, obs []oracle.ObservationLine) (oracle.Summary, error) {
	return o.summary, nil
}

func (o *scriptedOracle) ExtractTasks(ctx context.Context, text string) ([]string, error) {
	return o.tasks, nil
}

func (o *scriptedOracle) DescribeScreen(ctx context.Context, windowTitle, appName string) (string, error) {
	return "described", nil
}

type testServer struct {
	URL    string
	Oracle *scriptedOracle
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	orc := &scriptedOracle{}
	e := engine.New(conn, config.Default(), orc, nil)
	e.Now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Oracle: orc,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)

	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", CreateTaskRequest{Text: "write report"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d: %s", res.StatusCode, data)
	}
	task := decode[TaskResponse](t, data)
	if task.Text != "write report" || task.Done {
		t.Fatalf("task = %+v", task)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tasks", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", res.StatusCode)
	}
	if tasks := decode[[]TaskResponse](t, data); len(tasks) != 1 {
		t.Fatalf("tasks = %v", tasks)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks/1/complete", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d: %s", res.StatusCode, data)
	}
	if task = decode[TaskResponse](t, data); !task.Done {
		t.Fatalf("task not done: %+v", task)
	}

	res, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks/1/complete", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double complete: status %d, want conflict", res.StatusCode)
	}

	res, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks/99/complete", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task: status %d, want not found", res.StatusCode)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", CreateTaskRequest{Text: "  "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "bad_request" {
		t.Fatalf("envelope = %s err=%v", data, err)
	}
}

func TestBrainDumpEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.Oracle.tasks = []string{"email Sam", "book flights"}

	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks/braindump", BrainDumpRequest{Text: "email sam, book flights"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if tasks := decode[[]TaskResponse](t, data); len(tasks) != 2 {
		t.Fatalf("tasks = %v", tasks)
	}
}

func TestEscalationFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.Oracle.verdict = oracle.Verdict{
		IsProductive:        false,
		Interjection:        true,
		InterjectionMessage: "Back to work.",
		TasksToComplete:     []string{},
	}

	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/manager/run", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manager run: status %d: %s", res.StatusCode, data)
	}
	run := decode[ManagerRunResponse](t, data)
	if run.Skipped || run.Penalty == nil || run.Penalty.Amount != 10 {
		t.Fatalf("run = %+v", run)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/strikes", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("strikes: status %d", res.StatusCode)
	}
	st := decode[engine.StrikeStatus](t, data)
	if st.StrikeCount != 1 || st.ForceRedirect {
		t.Fatalf("strikes = %+v", st)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/interjection", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("poll: status %d", res.StatusCode)
	}
	poll := decode[InterjectionPollResponse](t, data)
	if !poll.Pending || poll.Interjection == nil || poll.Interjection.Message != "Back to work." {
		t.Fatalf("poll = %+v", poll)
	}

	// Pending interjection gates the next tick.
	_, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/manager/run", nil)
	if run = decode[ManagerRunResponse](t, data); !run.Skipped {
		t.Fatalf("second run should skip: %+v", run)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/interjection/ack", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ack: status %d: %s", res.StatusCode, data)
	}
	ack := decode[engine.AckResult](t, data)
	if ack.Acknowledged != 1 || ack.StrikeCount != 1 {
		t.Fatalf("ack = %+v, want one row cleared and the strike kept", ack)
	}

	_, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/interjection", nil)
	if poll = decode[InterjectionPollResponse](t, data); poll.Pending {
		t.Fatalf("still pending after ack: %+v", poll)
	}

	_, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/account", nil)
	if account := decode[AccountResponse](t, data); account.Balance != 490 {
		t.Fatalf("account = %+v", account)
	}

	_, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/transactions", nil)
	if txs := decode[[]TransactionResponse](t, data); len(txs) != 1 || txs[0].Type != "PENALTY" {
		t.Fatalf("transactions = %v", txs)
	}
}

func TestObservationAndCompactionFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.Oracle.summary = oracle.Summary{Text: "Edited documents.", AppsUsed: []string{"Word"}}

	desc := "typing a report"
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/observations", RecordObservationRequest{
		WindowTitle: "report.docx - Word",
		AppName:     "Word",
		Description: &desc,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record: status %d: %s", res.StatusCode, data)
	}
	if o := decode[ObservationResponse](t, data); o.Description != desc {
		t.Fatalf("observation = %+v", o)
	}

	// Omitting the description asks the oracle for one.
	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/observations", RecordObservationRequest{
		WindowTitle: "inbox - Mail",
		AppName:     "Mail",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("observe: status %d: %s", res.StatusCode, data)
	}
	if o := decode[ObservationResponse](t, data); o.Description != "described" {
		t.Fatalf("observation = %+v", o)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/compaction/run", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("compaction: status %d: %s", res.StatusCode, data)
	}
	run := decode[CompactionRunResponse](t, data)
	if !run.Created || run.Compaction == nil || run.Compaction.Summary != "Edited documents." {
		t.Fatalf("compaction run = %+v", run)
	}

	_, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/compactions", nil)
	if list := decode[[]CompactionResponse](t, data); len(list) != 1 {
		t.Fatalf("compactions = %v", list)
	}
}

func TestAssessmentEndpoint(t *testing.T) {
	ts := newTestServer(t)
	if res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", CreateTaskRequest{Text: "write report"}); res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %s", data)
	}
	ts.Oracle.assessment = oracle.Assessment{
		IsCompliant:      true,
		CompletedNumbers: []int{1},
		Message:          "Done.",
	}

	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/assessment", AssessmentRequest{Transcript: "finished the report"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assessment: status %d: %s", res.StatusCode, data)
	}
	out := decode[AssessmentResponse](t, data)
	if !out.IsCompliant || len(out.TasksCompleted) != 1 || out.Reward == nil {
		t.Fatalf("assessment = %+v", out)
	}

	_, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/rewards", nil)
	if rewards := decode[[]RewardResponse](t, data); len(rewards) != 1 {
		t.Fatalf("rewards = %v", rewards)
	}
}

func TestStatusAndReset(t *testing.T) {
	ts := newTestServer(t)
	ts.Oracle.verdict = oracle.Verdict{
		IsProductive:        false,
		Interjection:        true,
		InterjectionMessage: "Hey.",
		TasksToComplete:     []string{},
	}
	doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/manager/run", nil)

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/status", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", res.StatusCode)
	}
	var status map[string]any
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatal(err)
	}
	if status["strike_count"].(float64) != 1 || status["pending_interjection"] != true {
		t.Fatalf("status = %v", status)
	}

	res, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/reset", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d", res.StatusCode)
	}

	_, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/status", nil)
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatal(err)
	}
	if status["strike_count"].(float64) != 0 || status["balance"].(float64) != 500 {
		t.Fatalf("status after reset = %v", status)
	}
}
