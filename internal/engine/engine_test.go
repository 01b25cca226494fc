package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/imattau/nostr-community-conventions/internal/config"
	"github.com/imattau/nostr-community-conventions/internal/db"
	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/engine"
	"github.com/imattau/nostr-community-conventions/internal/migrate"
	"github.com/imattau/nostr-community-conventions/internal/payload"
	"github.com/imattau/nostr-community-conventions/internal/queue"
	"github.com/imattau/nostr-community-conventions/internal/relay"
)

type stubPublisher struct {
	failures int
	calls    int
	lastMsg  payload.Message
	lastRel  []string
}

func (s *stubPublisher) Publish(ctx context.Context, msg payload.Message, relays []string) (string, error) {
	s.calls++
	s.lastMsg = msg
	s.lastRel = relays
	if s.calls <= s.failures {
		return "", &relay.TransportError{Err: errors.New("connection refused")}
	}
	return "ev-test-1", nil
}

type testEnv struct {
	Engine  engine.Engine
	Queue   *queue.Manager
	Pub     *stubPublisher
	Clock   *time.Time
	Ctx     context.Context
	Store   string
	Notices []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := filepath.Join(t.TempDir(), "ncc.db")
	conn, err := db.Open(db.Config{Store: store})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env := &testEnv{Clock: &now, Ctx: context.Background(), Store: store, Pub: &stubPublisher{}}

	env.Queue = queue.New(nil)
	env.Queue.Now = func() time.Time { return *env.Clock }
	env.Queue.Notify = func(msg string) { env.Notices = append(env.Notices, msg) }

	eng := engine.New(conn, store, env.Queue)
	eng.Now = func() time.Time { return *env.Clock }
	eng.Publisher = env.Pub
	env.Queue.Run = eng.RunTask
	env.Engine = eng

	if err := eng.Repo.PutConfig(env.Ctx, config.Default()); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.Clock = env.Clock.Add(d)
}

func TestCreateDocumentNormalizesIdentifier(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{D: "07", Title: "Relay Etiquette"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if draft.D != "ncc-07" {
		t.Fatalf("d = %q, want ncc-07", draft.D)
	}
	if draft.Status != domain.StatusDraft {
		t.Fatalf("status = %q", draft.Status)
	}
}

func TestCreateDocumentTitleFromHeading(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{
		D:       "ncc-01",
		Content: "# Relay Etiquette\n\nBe kind to relays.",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if draft.Title != "Relay Etiquette" {
		t.Fatalf("title = %q", draft.Title)
	}

	// An explicit title replaces the heading.
	draft, err = env.Engine.ReviseDocument(env.Ctx, engine.DocumentOptions{
		D:       "ncc-01",
		Title:   "Relay Manners",
		Content: "# Relay Etiquette\n\nBe kind to relays.",
	})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if draft.Title != "Relay Manners" {
		t.Fatalf("title = %q", draft.Title)
	}
	if draft.Content != "# Relay Manners\n\nBe kind to relays." {
		t.Fatalf("content = %q", draft.Content)
	}
}

func TestReviseDocumentKeepsUnsetFields(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{
		D:       "ncc-02",
		Title:   "Moderation",
		Content: "v1",
		DocumentInputs: payload.DocumentInputs{
			Summary: "How to moderate",
			Topics:  []string{"mod", "community"},
			Lang:    "en",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.advance(time.Minute)

	revised, err := env.Engine.ReviseDocument(env.Ctx, engine.DocumentOptions{D: "ncc-02", Content: "v2"})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if revised.ID != first.ID {
		t.Fatalf("revise must update row %d in place, got %d", first.ID, revised.ID)
	}
	if revised.UpdatedAt <= first.UpdatedAt {
		t.Fatalf("updated_at not advanced: %d -> %d", first.UpdatedAt, revised.UpdatedAt)
	}
	if revised.Title != "Moderation" || revised.Content != "v2" {
		t.Fatalf("carried fields = %q / %q", revised.Title, revised.Content)
	}
	tags, err := env.Engine.Repo.DraftTags(env.Ctx, revised.ID)
	if err != nil {
		t.Fatal(err)
	}
	byKey := payload.TagMap(tags)
	if byKey["summary"][0] != "How to moderate" || len(byKey["t"]) != 2 || byKey["lang"][0] != "en" {
		t.Fatalf("tags not carried: %v", tags)
	}

	latest, err := env.Engine.Repo.LatestDraft(env.Ctx, domain.KindDocument, "ncc-02")
	if err != nil || latest.ID != revised.ID {
		t.Fatalf("latest = %d, want %d (%v)", latest.ID, revised.ID, err)
	}
}

func TestPublishSuccessStampsDraft(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{D: "ncc-03", Title: "T", Content: "c"}); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{Kind: domain.KindDocument, D: "ncc-03"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Queued || res.EventID != "ev-test-1" {
		t.Fatalf("result = %+v", res)
	}
	if len(env.Pub.lastRel) != 3 {
		t.Fatalf("relays = %v, want configured defaults", env.Pub.lastRel)
	}
	if got := payload.TagValue(env.Pub.lastMsg.Tags, "d"); got != "ncc-03" {
		t.Fatalf("published d = %q", got)
	}

	draft, tags, err := env.Engine.Show(env.Ctx, domain.KindDocument, "ncc-03")
	if err != nil {
		t.Fatal(err)
	}
	if draft.Status != domain.StatusPublished {
		t.Fatalf("status = %q", draft.Status)
	}
	if draft.EventID == nil || *draft.EventID != "ev-test-1" {
		t.Fatalf("event_id = %v", draft.EventID)
	}
	if draft.PublishedAt == nil || *draft.PublishedAt != env.Clock.Unix() {
		t.Fatalf("published_at = %v", draft.PublishedAt)
	}
	byKey := payload.TagMap(tags)
	if byKey["eventid"][0] != "ev-test-1" {
		t.Fatalf("eventid tag missing: %v", tags)
	}
	if len(byKey["published_at"]) == 0 {
		t.Fatalf("published_at tag missing: %v", tags)
	}
}

func TestPublishRetriesThroughQueue(t *testing.T) {
	env := newTestEnv(t)
	env.Pub.failures = 2
	if _, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{D: "ncc-01", Title: "T", Content: "c"}); err != nil {
		t.Fatal(err)
	}

	// Synchronous attempt fails, task is queued.
	res, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{Kind: domain.KindDocument, D: "ncc-01"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Queued || res.TaskID == "" {
		t.Fatalf("result = %+v, want queued", res)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("tasks = %d (%v)", len(tasks), err)
	}

	// Second attempt still fails and is rescheduled.
	env.advance(2 * time.Hour)
	dispatched, err := env.Queue.DispatchOnce(env.Ctx, env.Store)
	if err != nil || !dispatched {
		t.Fatalf("dispatch 2: %v %v", dispatched, err)
	}
	tasks, _ = env.Engine.Repo.ListTasks(env.Ctx)
	if len(tasks) != 1 || tasks[0].Attempts != 1 {
		t.Fatalf("after second failure: %+v", tasks)
	}

	// Third attempt succeeds, task is removed, draft is stamped.
	env.advance(2 * time.Hour)
	dispatched, err = env.Queue.DispatchOnce(env.Ctx, env.Store)
	if err != nil || !dispatched {
		t.Fatalf("dispatch 3: %v %v", dispatched, err)
	}
	tasks, _ = env.Engine.Repo.ListTasks(env.Ctx)
	if len(tasks) != 0 {
		t.Fatalf("tasks after success = %+v", tasks)
	}
	draft, _, err := env.Engine.Show(env.Ctx, domain.KindDocument, "ncc-01")
	if err != nil {
		t.Fatal(err)
	}
	if draft.Status != domain.StatusPublished || draft.EventID == nil {
		t.Fatalf("draft after queued success = %+v", draft)
	}
	if env.Pub.calls != 3 {
		t.Fatalf("publish calls = %d, want 3", env.Pub.calls)
	}
}

func TestQueuedRetryPublishesCurrentRevision(t *testing.T) {
	env := newTestEnv(t)
	env.Pub.failures = 1
	if _, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{D: "ncc-01", Title: "T", Content: "v1"}); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{Kind: domain.KindDocument, D: "ncc-01"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Queued {
		t.Fatalf("result = %+v, want queued", res)
	}

	// An edit between enqueue and retry must win.
	if _, err := env.Engine.ReviseDocument(env.Ctx, engine.DocumentOptions{D: "ncc-01", Content: "v2"}); err != nil {
		t.Fatalf("revise: %v", err)
	}

	env.advance(2 * time.Hour)
	dispatched, err := env.Queue.DispatchOnce(env.Ctx, env.Store)
	if err != nil || !dispatched {
		t.Fatalf("dispatch: %v %v", dispatched, err)
	}
	if env.Pub.lastMsg.Content != "v2" {
		t.Fatalf("retry published content %q, want current revision \"v2\"", env.Pub.lastMsg.Content)
	}
	draft, _, err := env.Engine.Show(env.Ctx, domain.KindDocument, "ncc-01")
	if err != nil {
		t.Fatal(err)
	}
	if draft.Status != domain.StatusPublished || draft.Content != "v2" {
		t.Fatalf("stamped draft = %+v, want published v2", draft)
	}
}

func TestPublishPayloadQueuesInline(t *testing.T) {
	env := newTestEnv(t)
	env.Pub.failures = 1
	raw := []byte(`{"kind":30050,"created_at":0,"tags":[["d","ncc-09"],["title","Ad hoc"]],"content":"one shot"}`)

	res, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{Payload: raw})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Queued {
		t.Fatalf("result = %+v, want queued", res)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("tasks = %d (%v)", len(tasks), err)
	}
	if tasks[0].Kind != domain.TaskInlinePayload || len(tasks[0].Payload) == 0 {
		t.Fatalf("task = %+v, want inline payload", tasks[0])
	}

	env.advance(2 * time.Hour)
	dispatched, err := env.Queue.DispatchOnce(env.Ctx, env.Store)
	if err != nil || !dispatched {
		t.Fatalf("dispatch: %v %v", dispatched, err)
	}
	if env.Pub.lastMsg.Content != "one shot" {
		t.Fatalf("published content = %q", env.Pub.lastMsg.Content)
	}
	tasks, _ = env.Engine.Repo.ListTasks(env.Ctx)
	if len(tasks) != 0 {
		t.Fatalf("tasks after success = %+v", tasks)
	}

	// No draft rows are touched, but the activity log names the payload.
	if drafts, err := env.Engine.Drafts(env.Ctx, 0); err != nil || len(drafts) != 0 {
		t.Fatalf("drafts = %+v (%v)", drafts, err)
	}
	entries, err := env.Engine.Audit().Tail(env.Ctx, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("log tail = %+v (%v)", entries, err)
	}
	if entries[0].Type != "publish.delivered" || entries[0].Kind != domain.KindDocument || entries[0].D != "ncc-09" {
		t.Fatalf("log entry = %+v", entries[0])
	}
}

func TestPublishValidationIsNotQueued(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{Kind: domain.KindDocument, D: "ncc-99"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx)
	if len(tasks) != 0 {
		t.Fatalf("validation failure must not enqueue: %+v", tasks)
	}
	if env.Pub.calls != 0 {
		t.Fatalf("publisher called %d times", env.Pub.calls)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{
		D:       "ncc-05",
		Title:   "Naming",
		Content: "names",
		DocumentInputs: payload.DocumentInputs{
			Summary: "sum",
			Topics:  []string{"a", "b"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := env.Engine.ExportMessage(env.Ctx, domain.KindDocument, "ncc-05")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	env.advance(time.Minute)
	imported, err := env.Engine.ImportMessage(env.Ctx, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.D != "ncc-05" || imported.Title != "Naming" || imported.Content != "names" {
		t.Fatalf("imported = %+v", imported)
	}
	if imported.ID != first.ID {
		t.Fatalf("import must update row %d in place, got %d", first.ID, imported.ID)
	}
	again, err := env.Engine.ExportMessage(env.Ctx, domain.KindDocument, "ncc-05")
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Tags) != len(msg.Tags) {
		t.Fatalf("tag drift on round trip: %v vs %v", again.Tags, msg.Tags)
	}
}

func TestSuccessionDefaultsFromConfig(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default()
	cfg.Tags.Reason = "retirement"
	cfg.Tags.EffectiveAt = "2026-02-01"
	if err := env.Engine.Repo.PutConfig(env.Ctx, cfg); err != nil {
		t.Fatal(err)
	}

	draft, err := env.Engine.CreateSuccession(env.Ctx, engine.SuccessionOptions{
		D:                "ncc-05-succession",
		SuccessionInputs: payload.SuccessionInputs{AuthoritativeEvent: "abc123"},
	})
	if err != nil {
		t.Fatalf("create succession: %v", err)
	}
	tags, err := env.Engine.Repo.DraftTags(env.Ctx, draft.ID)
	if err != nil {
		t.Fatal(err)
	}
	byKey := payload.TagMap(tags)
	if byKey["authoritative"][0] != "event:abc123" {
		t.Fatalf("authoritative = %v", byKey["authoritative"])
	}
	if byKey["reason"][0] != "retirement" || byKey["effective_at"][0] != "2026-02-01" {
		t.Fatalf("defaults not applied: %v", tags)
	}
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	env := newTestEnv(t)
	// newTestEnv already seeded a config.
	if _, err := env.Engine.InitConfig(env.Ctx); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
