package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/imattau/nostr-community-conventions/internal/domain"
)

const taskColumns = `id,task_id,store_path,task_kind,draft_id,json_path,payload,relays,attempts,max_attempts,next_attempt_at,created_at,last_error`

func scanTask(scan func(dest ...any) error) (domain.PublishTask, error) {
	var t domain.PublishTask
	var storePath, jsonPath, payload, lastError sql.NullString
	var draftID sql.NullInt64
	var relaysRaw string
	err := scan(&t.ID, &t.TaskID, &storePath, &t.Kind, &draftID, &jsonPath, &payload, &relaysRaw,
		&t.Attempts, &t.MaxAttempts, &t.NextAttemptAt, &t.CreatedAt, &lastError)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if storePath.Valid {
		t.StorePath = storePath.String
	}
	if draftID.Valid {
		t.DraftID = &draftID.Int64
	}
	if jsonPath.Valid {
		t.JSONPath = &jsonPath.String
	}
	if payload.Valid {
		t.Payload = []byte(payload.String)
	}
	if lastError.Valid {
		t.LastError = &lastError.String
	}
	if relaysRaw != "" {
		if err := json.Unmarshal([]byte(relaysRaw), &t.Relays); err != nil {
			return t, err
		}
	}
	return t, nil
}

// InsertTask persists a new publish task.
func (r Repo) InsertTask(ctx context.Context, t domain.PublishTask) error {
	relays, err := json.Marshal(t.Relays)
	if err != nil {
		return err
	}
	var payload any
	if len(t.Payload) > 0 {
		payload = string(t.Payload)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO publish_queue
(task_id,store_path,task_kind,draft_id,json_path,payload,relays,attempts,max_attempts,next_attempt_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.TaskID, nullable(t.StorePath), t.Kind, nullableInt64Ptr(t.DraftID), nullableStringPtr(t.JSONPath),
		payload, string(relays), t.Attempts, t.MaxAttempts, t.NextAttemptAt, t.CreatedAt)
	return err
}

// NextDueTask returns the oldest-due task at or before now, ties broken by
// row id. ErrNotFound when nothing is due.
func (r Repo) NextDueTask(ctx context.Context, now int64) (domain.PublishTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM publish_queue
WHERE next_attempt_at <= ? ORDER BY next_attempt_at ASC, id ASC LIMIT 1`, now)
	return scanTask(row.Scan)
}

// ListTasks returns every pending task, due-first.
func (r Repo) ListTasks(ctx context.Context) ([]domain.PublishTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM publish_queue
ORDER BY next_attempt_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PublishTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeleteTask removes a task on terminal success or abandonment.
func (r Repo) DeleteTask(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM publish_queue WHERE id=?`, id)
	return err
}

// RescheduleTask records a failed attempt and its next due time.
func (r Repo) RescheduleTask(ctx context.Context, id int64, attempts int, nextAttemptAt int64, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE publish_queue
SET attempts=?, next_attempt_at=?, last_error=? WHERE id=?`,
		attempts, nextAttemptAt, lastError, id)
	return err
}
