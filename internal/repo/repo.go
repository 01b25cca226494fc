package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imattau/nostr-community-conventions/internal/config"
	"github.com/imattau/nostr-community-conventions/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const draftColumns = `id,kind,d,title,content,created_at,updated_at,published_at,event_id,status`

func scanDraft(scan func(dest ...any) error) (domain.Draft, error) {
	var dr domain.Draft
	var title, eventID sql.NullString
	var publishedAt sql.NullInt64
	err := scan(&dr.ID, &dr.Kind, &dr.D, &title, &dr.Content, &dr.CreatedAt, &dr.UpdatedAt, &publishedAt, &eventID, &dr.Status)
	if err == sql.ErrNoRows {
		return dr, ErrNotFound
	}
	if err != nil {
		return dr, err
	}
	if title.Valid {
		dr.Title = title.String
	}
	if publishedAt.Valid {
		dr.PublishedAt = &publishedAt.Int64
	}
	if eventID.Valid {
		dr.EventID = &eventID.String
	}
	return dr, nil
}

// DraftInsertOptions are parameters for creating a new draft revision.
type DraftInsertOptions struct {
	Kind        domain.Kind
	D           string
	Title       string
	Content     string
	Tags        []domain.Tag
	Status      string
	PublishedAt *int64
	Now         int64
}

// InsertDraft creates a new current revision with its tags in one transaction.
func (r Repo) InsertDraft(ctx context.Context, opts DraftInsertOptions) (int64, error) {
	if opts.D == "" {
		return 0, domain.Validationf("draft identifier d is required")
	}
	if !opts.Kind.Valid() {
		return 0, domain.Validationf("unknown draft kind %d", opts.Kind)
	}
	if opts.Status == "" {
		opts.Status = domain.StatusDraft
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO drafts(kind,d,title,content,created_at,updated_at,published_at,status)
VALUES (?,?,?,?,?,?,?,?)`,
		opts.Kind, opts.D, nullable(opts.Title), opts.Content, opts.Now, opts.Now, nullableInt64Ptr(opts.PublishedAt), opts.Status)
	if err != nil {
		return 0, err
	}
	draftID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := setTags(ctx, tx, draftID, opts.Tags); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return draftID, nil
}

// DraftUpdateOptions replace title, content and tags of an existing row.
// Status, PublishedAt and EventID only overwrite when non-nil; the store
// keeps the prior value otherwise.
type DraftUpdateOptions struct {
	DraftID     int64
	Title       string
	Content     string
	Tags        []domain.Tag
	Status      *string
	PublishedAt *int64
	EventID     *string
	Now         int64
}

// UpdateDraft mutates a revision in place. Tag replacement is atomic with the
// draft row write.
func (r Repo) UpdateDraft(ctx context.Context, opts DraftUpdateOptions) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE drafts
SET title=?, content=?, updated_at=?,
    published_at=COALESCE(?, published_at),
    event_id=COALESCE(?, event_id),
    status=COALESCE(?, status)
WHERE id=?`,
		nullable(opts.Title), opts.Content, opts.Now,
		nullableInt64Ptr(opts.PublishedAt), nullableStringPtr(opts.EventID), nullableStringPtr(opts.Status),
		opts.DraftID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := setTags(ctx, tx, opts.DraftID, opts.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

func setTags(ctx context.Context, tx *sql.Tx, draftID int64, tags []domain.Tag) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE draft_id=?`, draftID); err != nil {
		return err
	}
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tags(draft_id,key,value) VALUES (?,?,?)`, draftID, t.Key, t.Value); err != nil {
			return err
		}
	}
	return nil
}

// GetDraft fetches one revision by row id.
func (r Repo) GetDraft(ctx context.Context, id int64) (domain.Draft, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=?`, id)
	return scanDraft(row.Scan)
}

// LatestDraft returns the current revision for (kind, d): the row with the
// greatest updated_at.
func (r Repo) LatestDraft(ctx context.Context, kind domain.Kind, d string) (domain.Draft, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts
WHERE kind=? AND d=? ORDER BY updated_at DESC, id DESC LIMIT 1`, kind, d)
	return scanDraft(row.Scan)
}

// ListDrafts returns all revisions of a kind, newest updated_at first. A zero
// kind lists every draft.
func (r Repo) ListDrafts(ctx context.Context, kind domain.Kind) ([]domain.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts ORDER BY updated_at DESC, id DESC`
	args := []any{}
	if kind != 0 {
		query = `SELECT ` + draftColumns + ` FROM drafts WHERE kind=? ORDER BY updated_at DESC, id DESC`
		args = append(args, kind)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Draft
	for rows.Next() {
		dr, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, dr)
	}
	return res, rows.Err()
}

// DraftTags returns a draft's tags in stored order.
func (r Repo) DraftTags(ctx context.Context, draftID int64) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,value FROM tags WHERE draft_id=? ORDER BY rowid`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

const configKey = "root"

// GetConfig loads the steward config blob, ErrNotFound when uninitialized.
func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM config WHERE key=?`, configKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("stored config: %w", err)
	}
	return &cfg, nil
}

// PutConfig upserts the steward config blob.
func (r Repo) PutConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO config(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, configKey, string(payload))
	return err
}

// HasConfig reports whether a steward config exists.
func (r Repo) HasConfig(ctx context.Context) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM config WHERE key=? LIMIT 1`, configKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
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
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
