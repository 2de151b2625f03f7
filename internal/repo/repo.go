package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskwarden/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, text, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(text,done,created_at,updated_at) VALUES (?,0,?,?)`,
		text, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, text, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(text,done,created_at,updated_at) VALUES (?,0,?,?)`,
		text, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var t domain.Task
	var done int
	err := r.DB.QueryRowContext(ctx, `SELECT id,text,done,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.Text, &done, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.Done = done != 0
	return t, err
}

func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,text,done,created_at,updated_at FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var done int
		if err := rows.Scan(&t.ID, &t.Text, &done, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Done = done != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

// MarkTaskDoneByIDTx flips a single pending task to done.
func (r Repo) MarkTaskDoneByIDTx(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET done=1, updated_at=? WHERE id=? AND done=0`, now, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkTaskDoneByTextTx flips the pending task with exactly this text to done.
// Exact literal equality only; the approximate path resolves IDs first.
func (r Repo) MarkTaskDoneByTextTx(ctx context.Context, tx *sql.Tx, text, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET done=1, updated_at=? WHERE text=? AND done=0`, now, text)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CountTasks(ctx context.Context) (done, total int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(done),0), COUNT(*) FROM tasks`).Scan(&done, &total)
	return done, total, err
}

func (r Repo) CountTasksTx(ctx context.Context, tx *sql.Tx) (done, total int, err error) {
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(done),0), COUNT(*) FROM tasks`).Scan(&done, &total)
	return done, total, err
}

// --- observations ---

func (r Repo) InsertObservation(ctx context.Context, o domain.Observation) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO observations(ts,window_title,app_name,description) VALUES (?,?,?,?)`,
		o.TS, nullable(o.WindowTitle), nullable(o.AppName), o.Description)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentObservations returns observations newer than since, newest first,
// capped at limit.
func (r Repo) RecentObservations(ctx context.Context, since string, limit int) ([]domain.Observation, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,COALESCE(window_title,''),COALESCE(app_name,''),description FROM observations WHERE ts > ? ORDER BY ts DESC, id DESC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.ID, &o.TS, &o.WindowTitle, &o.AppName, &o.Description); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ObservationsSince returns observations newer than since in chronological
// order, uncapped. The compaction pass folds the whole window.
func (r Repo) ObservationsSince(ctx context.Context, since string) ([]domain.Observation, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,COALESCE(window_title,''),COALESCE(app_name,''),description FROM observations WHERE ts > ? ORDER BY ts ASC, id ASC`,
		since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.ID, &o.TS, &o.WindowTitle, &o.AppName, &o.Description); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) ListObservations(ctx context.Context, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,COALESCE(window_title,''),COALESCE(app_name,''),description FROM observations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.ID, &o.TS, &o.WindowTitle, &o.AppName, &o.Description); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// --- compactions ---

func (r Repo) InsertCompactionTx(ctx context.Context, tx *sql.Tx, c domain.Compaction) (int64, error) {
	appsJSON, err := marshalStringSlice(c.AppsUsed)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO compactions(ts,period_start,period_end,observation_count,summary,apps_used_json) VALUES (?,?,?,?,?,?)`,
		c.TS, c.PeriodStart, c.PeriodEnd, c.ObservationCount, c.Summary, nullableStringPtr(appsJSON))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) LatestCompaction(ctx context.Context) (domain.Compaction, error) {
	var c domain.Compaction
	var appsJSON sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,ts,period_start,period_end,observation_count,summary,apps_used_json FROM compactions ORDER BY id DESC LIMIT 1`).
		Scan(&c.ID, &c.TS, &c.PeriodStart, &c.PeriodEnd, &c.ObservationCount, &c.Summary, &appsJSON)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if appsJSON.Valid {
		if err := json.Unmarshal([]byte(appsJSON.String), &c.AppsUsed); err != nil {
			return c, fmt.Errorf("decode apps_used: %w", err)
		}
	}
	return c, nil
}

func (r Repo) ListCompactions(ctx context.Context, limit int) ([]domain.Compaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,period_start,period_end,observation_count,summary,apps_used_json FROM compactions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Compaction
	for rows.Next() {
		var c domain.Compaction
		var appsJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.TS, &c.PeriodStart, &c.PeriodEnd, &c.ObservationCount, &c.Summary, &appsJSON); err != nil {
			return nil, err
		}
		if appsJSON.Valid {
			if err := json.Unmarshal([]byte(appsJSON.String), &c.AppsUsed); err != nil {
				return nil, fmt.Errorf("decode apps_used: %w", err)
			}
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- manager decisions ---

func (r Repo) InsertDecision(ctx context.Context, d domain.ManagerDecision) (int64, error) {
	updatedJSON, err := marshalStringSlice(d.TasksUpdated)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO manager_decisions(ts,is_productive,reasoning,interjection,interjection_message,tasks_updated_json,elapsed_ms) VALUES (?,?,?,?,?,?,?)`,
		d.TS, boolInt(d.IsProductive), d.Reasoning, boolInt(d.Interjection), nullable(d.InterjectionMessage), nullableStringPtr(updatedJSON), d.ElapsedMs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListDecisions(ctx context.Context, limit int) ([]domain.ManagerDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,is_productive,reasoning,interjection,COALESCE(interjection_message,''),tasks_updated_json,elapsed_ms FROM manager_decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ManagerDecision
	for rows.Next() {
		var d domain.ManagerDecision
		var productive, interjection int
		var updatedJSON sql.NullString
		if err := rows.Scan(&d.ID, &d.TS, &productive, &d.Reasoning, &interjection, &d.InterjectionMessage, &updatedJSON, &d.ElapsedMs); err != nil {
			return nil, err
		}
		d.IsProductive = productive != 0
		d.Interjection = interjection != 0
		if updatedJSON.Valid {
			if err := json.Unmarshal([]byte(updatedJSON.String), &d.TasksUpdated); err != nil {
				return nil, fmt.Errorf("decode tasks_updated: %w", err)
			}
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- events ---

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- helpers ---

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FormatTS is the canonical timestamp encoding for every table.
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
