// Package audit keeps an append-only activity log in the store: draft
// lifecycle, publishes, queue transitions. It answers "what did this tool do
// and when" without digging through relay history.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imattau/nostr-community-conventions/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Detail map[string]any

// Entry is one logged action.
type Entry struct {
	ID      int64       `json:"id"`
	TS      int64       `json:"ts"`
	Type    string      `json:"type"`
	Kind    domain.Kind `json:"kind,omitempty"`
	D       string      `json:"d,omitempty"`
	DraftID *int64      `json:"draft_id,omitempty"`
	Detail  Detail      `json:"detail,omitempty"`
}

func (w Writer) Append(ctx context.Context, evtType string, kind domain.Kind, d string, draftID int64, detail Detail) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if detail == nil {
		detail = Detail{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	var id any
	if draftID != 0 {
		id = draftID
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO audit_log(ts,type,kind,d,draft_id,detail_json) VALUES (?,?,?,?,?,?)`,
		now().Unix(), evtType, kind, d, id, string(data))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Tail returns the newest n entries, newest first.
func (w Writer) Tail(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,kind,d,draft_id,detail_json FROM audit_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var (
			e      Entry
			id     sql.NullInt64
			detail string
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Kind, &e.D, &id, &detail); err != nil {
			return nil, err
		}
		if id.Valid {
			e.DraftID = &id.Int64
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("decode audit detail: %w", err)
		}
		if len(e.Detail) == 0 {
			e.Detail = nil
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
