// Package engine orchestrates drafts, payloads, relays and the publish queue
// behind the command surface. All operations take a context and return
// explicit errors; validation failures surface before any row is written.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/imattau/nostr-community-conventions/internal/audit"
	"github.com/imattau/nostr-community-conventions/internal/config"
	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/keys"
	"github.com/imattau/nostr-community-conventions/internal/payload"
	"github.com/imattau/nostr-community-conventions/internal/queue"
	"github.com/imattau/nostr-community-conventions/internal/relay"
	"github.com/imattau/nostr-community-conventions/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	StorePath string
	Queue     *queue.Manager
	Publisher relay.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, storePath string, q *queue.Manager) Engine {
	e := Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		StorePath: storePath,
		Queue:     q,
		Now:       time.Now,
	}
	if q != nil && q.Run == nil {
		q.Run = e.RunTask
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Audit returns the activity log writer for this store.
func (e Engine) Audit() audit.Writer {
	return audit.Writer{DB: e.DB, Now: e.Now}
}

// InitConfig seeds the store with the stock configuration. It refuses to
// overwrite an existing one.
func (e Engine) InitConfig(ctx context.Context) (*config.Config, error) {
	has, err := e.Repo.HasConfig(ctx)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, domain.Validationf("config already initialized, use config set or config import")
	}
	cfg := config.Default()
	if err := e.Repo.PutConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig returns the stored configuration or a clear error when the store
// has never been initialized.
func (e Engine) LoadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := e.Repo.GetConfig(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, domain.Validationf("store is not initialized, run: ncc config init")
	}
	return cfg, err
}

// ImportConfig replaces the stored configuration with a validated one.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return e.Repo.PutConfig(ctx, cfg)
}

// DocumentOptions carry the caller-facing fields of a convention document.
// Zero fields fall back to configured tag defaults on create and to the prior
// revision on revise.
type DocumentOptions struct {
	D       string
	Title   string
	Content string
	payload.DocumentInputs
}

// CreateDocument stores the first revision of a document draft. The
// identifier is normalized ("7" and "07" both become "ncc-07") and the title
// is kept in sync with a leading markdown heading.
func (e Engine) CreateDocument(ctx context.Context, opts DocumentOptions) (domain.Draft, error) {
	d, err := normalizeD(opts.D)
	if err != nil {
		return domain.Draft{}, err
	}
	opts.Title, opts.Content = syncTitle(opts.Title, opts.Content)
	e.fillDocumentDefaults(ctx, &opts.DocumentInputs)
	tags, err := payload.DocumentTags(opts.DocumentInputs)
	if err != nil {
		return domain.Draft{}, err
	}
	now := e.now().Unix()
	id, err := e.Repo.InsertDraft(ctx, repo.DraftInsertOptions{
		Kind:    domain.KindDocument,
		D:       d,
		Title:   opts.Title,
		Content: opts.Content,
		Tags:    tags,
		Now:     now,
	})
	if err != nil {
		return domain.Draft{}, err
	}
	return e.storedDraft(ctx, id, "document.create")
}

// ReviseDocument updates the current row of an existing document in place.
// Unset fields carry over from the stored revision, so a revise call that
// only changes the content leaves title and tags intact. Because the row id
// is stable, a queued publish task referencing the draft picks up the edit
// on its next attempt.
func (e Engine) ReviseDocument(ctx context.Context, opts DocumentOptions) (domain.Draft, error) {
	d, err := normalizeD(opts.D)
	if err != nil {
		return domain.Draft{}, err
	}
	prev, err := e.Repo.LatestDraft(ctx, domain.KindDocument, d)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Draft{}, domain.Validationf("no document draft for %s", d)
	}
	if err != nil {
		return domain.Draft{}, err
	}
	prevTags, err := e.Repo.DraftTags(ctx, prev.ID)
	if err != nil {
		return domain.Draft{}, err
	}
	opts.Title, opts.Content = syncTitle(opts.Title, opts.Content)
	if opts.Title == "" {
		opts.Title = prev.Title
	}
	if opts.Content == "" {
		opts.Content = prev.Content
	}
	mergeDocumentInputs(&opts.DocumentInputs, payload.TagMap(prevTags))
	tags, err := payload.DocumentTags(opts.DocumentInputs)
	if err != nil {
		return domain.Draft{}, err
	}
	err = e.Repo.UpdateDraft(ctx, repo.DraftUpdateOptions{
		DraftID: prev.ID,
		Title:   opts.Title,
		Content: opts.Content,
		Tags:    tags,
		Now:     e.now().Unix(),
	})
	if err != nil {
		return domain.Draft{}, err
	}
	return e.storedDraft(ctx, prev.ID, "document.revise")
}

// SuccessionOptions carry the caller-facing fields of a succession record.
type SuccessionOptions struct {
	D       string
	Content string
	payload.SuccessionInputs
}

// CreateSuccession stores the first revision of a succession record.
func (e Engine) CreateSuccession(ctx context.Context, opts SuccessionOptions) (domain.Draft, error) {
	d, err := normalizeD(opts.D)
	if err != nil {
		return domain.Draft{}, err
	}
	e.fillSuccessionDefaults(ctx, &opts.SuccessionInputs)
	tags, err := payload.SuccessionTags(opts.SuccessionInputs)
	if err != nil {
		return domain.Draft{}, err
	}
	now := e.now().Unix()
	id, err := e.Repo.InsertDraft(ctx, repo.DraftInsertOptions{
		Kind:    domain.KindSuccession,
		D:       d,
		Content: opts.Content,
		Tags:    tags,
		Now:     now,
	})
	if err != nil {
		return domain.Draft{}, err
	}
	return e.storedDraft(ctx, id, "succession.create")
}

// ReviseSuccession updates the current row of a succession record in place,
// merging unset fields from the stored revision.
func (e Engine) ReviseSuccession(ctx context.Context, opts SuccessionOptions) (domain.Draft, error) {
	d, err := normalizeD(opts.D)
	if err != nil {
		return domain.Draft{}, err
	}
	prev, err := e.Repo.LatestDraft(ctx, domain.KindSuccession, d)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Draft{}, domain.Validationf("no succession draft for %s", d)
	}
	if err != nil {
		return domain.Draft{}, err
	}
	prevTags, err := e.Repo.DraftTags(ctx, prev.ID)
	if err != nil {
		return domain.Draft{}, err
	}
	if opts.Content == "" {
		opts.Content = prev.Content
	}
	mergeSuccessionInputs(&opts.SuccessionInputs, payload.TagMap(prevTags))
	tags, err := payload.SuccessionTags(opts.SuccessionInputs)
	if err != nil {
		return domain.Draft{}, err
	}
	err = e.Repo.UpdateDraft(ctx, repo.DraftUpdateOptions{
		DraftID: prev.ID,
		Content: opts.Content,
		Tags:    tags,
		Now:     e.now().Unix(),
	})
	if err != nil {
		return domain.Draft{}, err
	}
	return e.storedDraft(ctx, prev.ID, "succession.revise")
}

// Drafts lists stored drafts, newest first, optionally restricted to a kind.
func (e Engine) Drafts(ctx context.Context, kind domain.Kind) ([]domain.Draft, error) {
	return e.Repo.ListDrafts(ctx, kind)
}

// Show returns the current revision for (kind, d) with its tags.
func (e Engine) Show(ctx context.Context, kind domain.Kind, d string) (domain.Draft, []domain.Tag, error) {
	nd, err := normalizeD(d)
	if err != nil {
		return domain.Draft{}, nil, err
	}
	draft, err := e.Repo.LatestDraft(ctx, kind, nd)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Draft{}, nil, domain.Validationf("no draft for %s", nd)
	}
	if err != nil {
		return domain.Draft{}, nil, err
	}
	tags, err := e.Repo.DraftTags(ctx, draft.ID)
	if err != nil {
		return domain.Draft{}, nil, err
	}
	return draft, tags, nil
}

// ExportMessage renders the current revision of (kind, d) as its canonical
// message. The stored updated_at doubles as created_at so repeated exports of
// an unchanged draft are byte-identical.
func (e Engine) ExportMessage(ctx context.Context, kind domain.Kind, d string) (payload.Message, error) {
	draft, tags, err := e.Show(ctx, kind, d)
	if err != nil {
		return payload.Message{}, err
	}
	return payload.FromDraft(draft.Kind, draft.D, draft.Title, draft.Content, tags, draft.UpdatedAt), nil
}

// ImportMessage stores a canonical message JSON document as the current
// revision of its identifier, updating the existing row in place when one
// exists.
func (e Engine) ImportMessage(ctx context.Context, data []byte) (domain.Draft, error) {
	var msg payload.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.Draft{}, domain.Validationf("invalid payload json: %v", err)
	}
	kind := domain.Kind(msg.Kind)
	if !kind.Valid() {
		return domain.Draft{}, domain.Validationf("unsupported kind %d", msg.Kind)
	}
	d := payload.TagValue(msg.Tags, "d")
	if d == "" {
		return domain.Draft{}, domain.Validationf("payload is missing a d tag")
	}
	now := e.now().Unix()
	prev, err := e.Repo.LatestDraft(ctx, kind, d)
	if err == nil {
		err = e.Repo.UpdateDraft(ctx, repo.DraftUpdateOptions{
			DraftID: prev.ID,
			Title:   payload.TagValue(msg.Tags, "title"),
			Content: msg.Content,
			Tags:    payload.TagsFromMessage(msg),
			Now:     now,
		})
		if err != nil {
			return domain.Draft{}, err
		}
		return e.storedDraft(ctx, prev.ID, "draft.import")
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Draft{}, err
	}
	id, err := e.Repo.InsertDraft(ctx, repo.DraftInsertOptions{
		Kind:    kind,
		D:       d,
		Title:   payload.TagValue(msg.Tags, "title"),
		Content: msg.Content,
		Tags:    payload.TagsFromMessage(msg),
		Now:     now,
	})
	if err != nil {
		return domain.Draft{}, err
	}
	return e.storedDraft(ctx, id, "draft.import")
}

// PublishOptions select what to publish: the current draft revision of
// (Kind, D), a previously exported JSON file, or an ad-hoc payload passed
// verbatim.
type PublishOptions struct {
	Kind     domain.Kind
	D        string
	JSONPath string
	Payload  []byte
	Relays   []string
}

// PublishResult reports either a delivered event id or the queue task that
// will keep retrying.
type PublishResult struct {
	EventID string
	Queued  bool
	TaskID  string
}

// Publish signs and delivers a payload to the configured relays. The attempt
// runs under the process-wide publish lock. On transport failure the payload
// is enqueued as a durable task and the background worker is started; on
// validation failure nothing is queued.
func (e Engine) Publish(ctx context.Context, opts PublishOptions) (PublishResult, error) {
	cfg, err := e.LoadConfig(ctx)
	if err != nil {
		return PublishResult{}, err
	}
	pub, err := e.publisher(cfg)
	if err != nil {
		return PublishResult{}, err
	}
	relays := cfg.ResolveRelays(opts.Relays)
	if len(relays) == 0 {
		return PublishResult{}, domain.Validationf("no relays configured")
	}

	var (
		msg   payload.Message
		draft domain.Draft
	)
	switch {
	case opts.Payload != nil:
		if err := json.Unmarshal(opts.Payload, &msg); err != nil {
			return PublishResult{}, domain.Validationf("invalid payload json: %v", err)
		}
	case opts.JSONPath != "":
		data, err := os.ReadFile(opts.JSONPath)
		if err != nil {
			return PublishResult{}, fmt.Errorf("read payload file: %w", err)
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return PublishResult{}, domain.Validationf("invalid payload json in %s: %v", opts.JSONPath, err)
		}
	default:
		d, err := normalizeD(opts.D)
		if err != nil {
			return PublishResult{}, err
		}
		draft, err = e.Repo.LatestDraft(ctx, opts.Kind, d)
		if errors.Is(err, repo.ErrNotFound) {
			return PublishResult{}, domain.Validationf("no draft for %s", d)
		}
		if err != nil {
			return PublishResult{}, err
		}
		tags, err := e.Repo.DraftTags(ctx, draft.ID)
		if err != nil {
			return PublishResult{}, err
		}
		msg = payload.FromDraft(draft.Kind, draft.D, draft.Title, draft.Content, tags, draft.UpdatedAt)
	}

	now := e.now().Unix()
	payload.PrepareForPublish(&msg, now)
	auditKind, auditD := draft.Kind, draft.D
	if draft.ID == 0 {
		auditKind = domain.Kind(msg.Kind)
		auditD = payload.TagValue(msg.Tags, "d")
	}

	var eventID string
	pubErr := e.Queue.Serialize(func() error {
		id, err := pub.Publish(ctx, msg, relays)
		eventID = id
		return err
	})
	if pubErr == nil {
		switch {
		case opts.Payload != nil:
			// Nothing durable to stamp.
		case opts.JSONPath != "":
			if err := e.finishFile(opts.JSONPath, msg, eventID); err != nil {
				return PublishResult{}, err
			}
		default:
			if err := e.finishDraft(ctx, e.Repo, draft, eventID, now); err != nil {
				return PublishResult{}, err
			}
		}
		if err := e.Audit().Append(ctx, "publish.delivered", auditKind, auditD, draft.ID, audit.Detail{"event_id": eventID}); err != nil {
			return PublishResult{}, err
		}
		return PublishResult{EventID: eventID}, nil
	}
	if !relay.IsTransport(pubErr) {
		return PublishResult{}, pubErr
	}

	e.log().Warn("publish failed, queueing for retry", "error", pubErr)
	task := domain.PublishTask{Relays: opts.Relays}
	switch {
	case opts.Payload != nil:
		data, err := json.Marshal(msg)
		if err != nil {
			return PublishResult{}, err
		}
		task.Kind = domain.TaskInlinePayload
		task.Payload = data
	case opts.JSONPath != "":
		path := opts.JSONPath
		task.Kind = domain.TaskStoredJSONRef
		task.JSONPath = &path
	default:
		draftID := draft.ID
		task.Kind = domain.TaskDraftRef
		task.DraftID = &draftID
	}
	taskID, err := e.Queue.Enqueue(ctx, e.StorePath, e.Repo, task)
	if err != nil {
		return PublishResult{}, err
	}
	if err := e.Audit().Append(ctx, "publish.queued", auditKind, auditD, draft.ID, audit.Detail{"task_id": taskID, "error": pubErr.Error()}); err != nil {
		return PublishResult{}, err
	}
	e.Queue.Start(ctx)
	return PublishResult{Queued: true, TaskID: taskID}, nil
}

// RunTask executes one queued attempt. It resolves the payload at dispatch
// time so a revised draft publishes its latest content, and it reports
// unresolvable references as validation errors so the queue abandons them
// instead of retrying.
func (e Engine) RunTask(ctx context.Context, r repo.Repo, task domain.PublishTask) (string, error) {
	cfg, err := r.GetConfig(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return "", domain.Validationf("store is not initialized")
	}
	if err != nil {
		return "", err
	}
	pub, err := e.publisher(cfg)
	if err != nil {
		return "", err
	}
	relays := cfg.ResolveRelays(task.Relays)
	if len(relays) == 0 {
		return "", domain.Validationf("no relays configured")
	}

	var (
		msg   payload.Message
		draft domain.Draft
	)
	switch task.Kind {
	case domain.TaskDraftRef:
		if task.DraftID == nil {
			return "", domain.Validationf("task %s has no draft reference", task.TaskID)
		}
		draft, err = r.GetDraft(ctx, *task.DraftID)
		if errors.Is(err, repo.ErrNotFound) {
			return "", domain.Validationf("draft %d no longer exists", *task.DraftID)
		}
		if err != nil {
			return "", err
		}
		tags, err := r.DraftTags(ctx, draft.ID)
		if err != nil {
			return "", err
		}
		msg = payload.FromDraft(draft.Kind, draft.D, draft.Title, draft.Content, tags, draft.UpdatedAt)
	case domain.TaskStoredJSONRef:
		if task.JSONPath == nil {
			return "", domain.Validationf("task %s has no payload file", task.TaskID)
		}
		data, err := os.ReadFile(*task.JSONPath)
		if err != nil {
			return "", domain.Validationf("payload file %s is gone: %v", *task.JSONPath, err)
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return "", domain.Validationf("invalid payload json in %s: %v", *task.JSONPath, err)
		}
	case domain.TaskInlinePayload:
		if err := json.Unmarshal(task.Payload, &msg); err != nil {
			return "", domain.Validationf("task %s carries invalid payload json: %v", task.TaskID, err)
		}
	default:
		return "", domain.Validationf("unknown task kind %q", task.Kind)
	}

	now := e.now().Unix()
	payload.PrepareForPublish(&msg, now)
	eventID, err := pub.Publish(ctx, msg, relays)
	if err != nil {
		return "", err
	}
	switch task.Kind {
	case domain.TaskDraftRef:
		if err := e.finishDraft(ctx, r, draft, eventID, now); err != nil {
			return "", err
		}
	case domain.TaskStoredJSONRef:
		if err := e.finishFile(*task.JSONPath, msg, eventID); err != nil {
			return "", err
		}
	}
	logKind, logD := draft.Kind, draft.D
	if task.Kind != domain.TaskDraftRef {
		logKind = domain.Kind(msg.Kind)
		logD = payload.TagValue(msg.Tags, "d")
	}
	log := audit.Writer{DB: r.DB, Now: e.Now}
	if err := log.Append(ctx, "publish.delivered", logKind, logD, draft.ID, audit.Detail{"event_id": eventID, "task_id": task.TaskID}); err != nil {
		return "", err
	}
	return eventID, nil
}

// storedDraft reloads a freshly written revision and records it in the
// activity log.
func (e Engine) storedDraft(ctx context.Context, id int64, evtType string) (domain.Draft, error) {
	draft, err := e.Repo.GetDraft(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	if err := e.Audit().Append(ctx, evtType, draft.Kind, draft.D, draft.ID, nil); err != nil {
		return domain.Draft{}, err
	}
	return draft, nil
}

// finishDraft stamps a delivered draft: status published, event id, and for
// documents the published_at timestamp, mirrored into the tag rows so the next
// export carries them.
func (e Engine) finishDraft(ctx context.Context, r repo.Repo, draft domain.Draft, eventID string, now int64) error {
	tags, err := r.DraftTags(ctx, draft.ID)
	if err != nil {
		return err
	}
	tags = payload.AddOrReplaceTag(tags, "eventid", eventID)
	status := domain.StatusPublished
	opts := repo.DraftUpdateOptions{
		DraftID: draft.ID,
		Title:   draft.Title,
		Content: draft.Content,
		Tags:    tags,
		Status:  &status,
		EventID: &eventID,
		Now:     now,
	}
	if draft.Kind == domain.KindDocument {
		publishedAt := now
		opts.PublishedAt = &publishedAt
		opts.Tags = payload.AddOrReplaceTag(opts.Tags, "published_at", fmt.Sprintf("%d", now))
	}
	return r.UpdateDraft(ctx, opts)
}

// finishFile rewrites a published payload file with the delivered event id so
// re-publishing it supersedes the right event.
func (e Engine) finishFile(path string, msg payload.Message, eventID string) error {
	payload.Finalize(&msg, eventID)
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (e Engine) publisher(cfg *config.Config) (relay.Publisher, error) {
	if e.Publisher != nil {
		return e.Publisher, nil
	}
	if cfg.Privkey == "" {
		return nil, domain.Validationf("no signing key configured, run: ncc config set privkey <nsec>")
	}
	secret, err := keys.ParseSecret(cfg.Privkey)
	if err != nil {
		return nil, domain.Validationf("configured privkey is invalid: %v", err)
	}
	return &relay.Client{Secret: secret, Logger: e.Logger}, nil
}

func (e Engine) fillDocumentDefaults(ctx context.Context, in *payload.DocumentInputs) {
	cfg, err := e.Repo.GetConfig(ctx)
	if err != nil {
		return
	}
	if in.Summary == "" {
		in.Summary = cfg.Tags.Summary
	}
	if len(in.Topics) == 0 {
		in.Topics = cfg.Tags.Topics
	}
	if in.Lang == "" {
		in.Lang = cfg.Tags.Lang
	}
	if in.Version == "" {
		in.Version = cfg.Tags.Version
	}
	if len(in.Supersedes) == 0 {
		in.Supersedes = cfg.Tags.Supersedes
	}
	if in.License == "" {
		in.License = cfg.Tags.License
	}
	if len(in.Authors) == 0 {
		in.Authors = cfg.Tags.Authors
	}
}

func (e Engine) fillSuccessionDefaults(ctx context.Context, in *payload.SuccessionInputs) {
	cfg, err := e.Repo.GetConfig(ctx)
	if err != nil {
		return
	}
	if in.Steward == "" {
		in.Steward = cfg.Tags.Steward
	}
	if in.Previous == "" {
		in.Previous = cfg.Tags.Previous
	}
	if in.Reason == "" {
		in.Reason = cfg.Tags.Reason
	}
	if in.EffectiveAt == "" {
		in.EffectiveAt = cfg.Tags.EffectiveAt
	}
}

func mergeDocumentInputs(in *payload.DocumentInputs, prev map[string][]string) {
	if in.Summary == "" && len(prev["summary"]) > 0 {
		in.Summary = prev["summary"][0]
	}
	if len(in.Topics) == 0 {
		in.Topics = prev["t"]
	}
	if in.Lang == "" && len(prev["lang"]) > 0 {
		in.Lang = prev["lang"][0]
	}
	if in.Version == "" && len(prev["version"]) > 0 {
		in.Version = prev["version"][0]
	}
	if len(in.Supersedes) == 0 {
		in.Supersedes = prev["supersedes"]
	}
	if in.License == "" && len(prev["license"]) > 0 {
		in.License = prev["license"][0]
	}
	if len(in.Authors) == 0 {
		in.Authors = prev["authors"]
	}
}

func mergeSuccessionInputs(in *payload.SuccessionInputs, prev map[string][]string) {
	if in.AuthoritativeEvent == "" && len(prev["authoritative"]) > 0 {
		in.AuthoritativeEvent = payload.StripEventPrefix(prev["authoritative"][0])
	}
	if in.Steward == "" && len(prev["steward"]) > 0 {
		in.Steward = prev["steward"][0]
	}
	if in.Previous == "" && len(prev["previous"]) > 0 {
		in.Previous = payload.StripEventPrefix(prev["previous"][0])
	}
	if in.Reason == "" && len(prev["reason"]) > 0 {
		in.Reason = prev["reason"][0]
	}
	if in.EffectiveAt == "" && len(prev["effective_at"]) > 0 {
		in.EffectiveAt = prev["effective_at"][0]
	}
}

func normalizeD(d string) (string, error) {
	d = strings.TrimSpace(d)
	if d == "" {
		return "", domain.Validationf("identifier is required")
	}
	return domain.NormalizeIdentifier(d), nil
}

// syncTitle keeps an explicit title and a leading markdown heading consistent:
// an empty title is taken from the heading, a differing title replaces it.
func syncTitle(title, content string) (string, string) {
	head, rest, found := strings.Cut(content, "\n")
	if !strings.HasPrefix(head, "# ") {
		return title, content
	}
	heading := strings.TrimSpace(strings.TrimPrefix(head, "# "))
	if title == "" {
		return heading, content
	}
	if title == heading {
		return title, content
	}
	if !found {
		return title, "# " + title
	}
	return title, "# " + title + "\n" + rest
}
