package domain

// Kind is the event kind of a stored draft.
type Kind int

const (
	// KindDocument is a convention document (NCC).
	KindDocument Kind = 30050
	// KindSuccession is a steward succession record (NSR).
	KindSuccession Kind = 30051
)

func (k Kind) Valid() bool {
	return k == KindDocument || k == KindSuccession
}

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Draft is one revision of a document or succession record. Revisions for the
// same (kind, d) share the logical identifier; the current revision is the row
// with the greatest updated_at.
type Draft struct {
	ID          int64  `json:"id"`
	Kind        Kind   `json:"kind"`
	D           string `json:"d"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	PublishedAt *int64 `json:"published_at,omitempty"`
	EventID     *string `json:"event_id,omitempty"`
	Status      string `json:"status"`
}

// Tag is a key/value annotation attached to a draft. Keys are not unique per
// draft; multi-valued keys (t, supersedes, authors) repeat.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Task kinds in the publish queue.
const (
	TaskDraftRef      = "draft-ref"
	TaskStoredJSONRef = "stored-json-ref"
	TaskInlinePayload = "inline-payload"
)

// PublishTask is a durable record of a pending or retrying publish attempt.
// Exactly one live row exists per enqueued attempt; it is deleted on success
// or once attempts reaches MaxAttempts.
type PublishTask struct {
	ID            int64    `json:"id"`
	TaskID        string   `json:"task_id"`
	StorePath     string   `json:"store_path"`
	Kind          string   `json:"kind"`
	DraftID       *int64   `json:"draft_id,omitempty"`
	JSONPath      *string  `json:"json_path,omitempty"`
	Payload       []byte   `json:"payload,omitempty"`
	Relays        []string `json:"relays"`
	Attempts      int      `json:"attempts"`
	MaxAttempts   int      `json:"max_attempts"`
	NextAttemptAt int64    `json:"next_attempt_at"`
	CreatedAt     int64    `json:"created_at"`
	LastError     *string  `json:"last_error,omitempty"`
}
