// Package payload maps stored draft rows to the canonical tagged message used
// for publishing and JSON export, and back again for import. Tag ordering is
// fixed per kind and has to stay byte-stable: exported files are read by other
// tools.
package payload

import (
	"strconv"
	"strings"

	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/keys"
)

// Message is the canonical wire shape: {kind, created_at, tags, content}.
type Message struct {
	Kind      int        `json:"kind"`
	CreatedAt int64      `json:"created_at"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
}

// Keys that contribute at most one tag entry, taken from the first stored
// value. Multi-valued keys (t, supersedes, authors) emit one entry per value
// in stored order.
var documentOrder = []struct {
	key   string
	multi bool
}{
	{"published_at", false},
	{"summary", false},
	{"t", true},
	{"lang", false},
	{"version", false},
	{"supersedes", true},
	{"license", false},
	{"authors", true},
	{"eventid", false},
}

var successionOrder = []struct {
	key   string
	multi bool
}{
	{"authoritative", false},
	{"steward", false},
	{"previous", false},
	{"reason", false},
	{"effective_at", false},
	{"eventid", false},
}

// FromDraft builds the canonical message for a draft's row data.
func FromDraft(kind domain.Kind, d, title, content string, tags []domain.Tag, createdAt int64) Message {
	byKey := TagMap(tags)
	out := make([][]string, 0, len(tags)+2)
	out = append(out, []string{"d", d})

	order := successionOrder
	if kind == domain.KindDocument {
		if title != "" {
			out = append(out, []string{"title", title})
		}
		order = documentOrder
	}
	for _, entry := range order {
		values := byKey[entry.key]
		if len(values) == 0 {
			continue
		}
		if entry.multi {
			for _, v := range values {
				out = append(out, []string{entry.key, v})
			}
		} else {
			out = append(out, []string{entry.key, values[0]})
		}
	}
	return Message{
		Kind:      int(kind),
		CreatedAt: createdAt,
		Tags:      out,
		Content:   content,
	}
}

// TagsFromMessage extracts draft tag rows from an imported message. The d and
// title entries are first-class draft fields and are skipped here.
func TagsFromMessage(msg Message) []domain.Tag {
	var tags []domain.Tag
	for _, entry := range msg.Tags {
		if len(entry) < 2 {
			continue
		}
		if entry[0] == "d" || entry[0] == "title" {
			continue
		}
		tags = append(tags, domain.Tag{Key: entry[0], Value: entry[1]})
	}
	return tags
}

// TagValue returns the first value for key, or "".
func TagValue(tags [][]string, key string) string {
	for _, entry := range tags {
		if len(entry) >= 2 && entry[0] == key {
			return entry[1]
		}
	}
	return ""
}

// TagMap groups stored tag rows by key, preserving value order.
func TagMap(tags []domain.Tag) map[string][]string {
	m := make(map[string][]string, len(tags))
	for _, t := range tags {
		m[t.Key] = append(m[t.Key], t.Value)
	}
	return m
}

// UpsertSingleTag replaces every entry for key with exactly one new entry,
// appended last. Used to stamp eventid and published_at after a publish.
func UpsertSingleTag(tags [][]string, key, value string) [][]string {
	out := make([][]string, 0, len(tags)+1)
	for _, entry := range tags {
		if len(entry) > 0 && entry[0] == key {
			continue
		}
		out = append(out, entry)
	}
	return append(out, []string{key, value})
}

// AddOrReplaceTag is the stored-row counterpart of UpsertSingleTag.
func AddOrReplaceTag(tags []domain.Tag, key, value string) []domain.Tag {
	out := make([]domain.Tag, 0, len(tags)+1)
	for _, t := range tags {
		if t.Key == key {
			continue
		}
		out = append(out, t)
	}
	return append(out, domain.Tag{Key: key, Value: value})
}

// StripEventPrefix removes a leading "event:" marker.
func StripEventPrefix(v string) string {
	return strings.TrimPrefix(v, "event:")
}

// ValidateAuthors rejects values shaped like secret keys and anything that is
// not an npub or hex public key. All offending values are named.
func ValidateAuthors(authors []string) ([]string, error) {
	var normalized []string
	for _, a := range authors {
		a = strings.TrimSpace(a)
		if a != "" {
			normalized = append(normalized, a)
		}
	}
	if len(normalized) == 0 {
		return nil, nil
	}
	var problems []string
	for _, v := range normalized {
		if keys.IsSecret(v) {
			problems = append(problems, v+" looks like a secret key (nsec)")
			continue
		}
		if err := keys.CheckPublic(v); err != nil {
			problems = append(problems, v+" is not a valid npub or hex public key")
		}
	}
	if len(problems) > 0 {
		return nil, domain.Validationf("authors must be npub or hex public keys. Invalid entries: %s", strings.Join(problems, "; "))
	}
	return normalized, nil
}

// DocumentInputs hold the author-facing fields of a convention document.
type DocumentInputs struct {
	Summary     string
	Topics      []string
	Lang        string
	Version     string
	Supersedes  []string
	License     string
	Authors     []string
	PublishedAt *int64
}

// DocumentTags builds stored tag rows from document inputs, validating author
// keys before anything is persisted.
func DocumentTags(in DocumentInputs) ([]domain.Tag, error) {
	authors, err := ValidateAuthors(in.Authors)
	if err != nil {
		return nil, err
	}
	var tags []domain.Tag
	if in.Summary != "" {
		tags = append(tags, domain.Tag{Key: "summary", Value: in.Summary})
	}
	for _, topic := range in.Topics {
		tags = append(tags, domain.Tag{Key: "t", Value: topic})
	}
	if in.Lang != "" {
		tags = append(tags, domain.Tag{Key: "lang", Value: in.Lang})
	}
	if in.Version != "" {
		tags = append(tags, domain.Tag{Key: "version", Value: in.Version})
	}
	for _, s := range in.Supersedes {
		tags = append(tags, domain.Tag{Key: "supersedes", Value: s})
	}
	if in.License != "" {
		tags = append(tags, domain.Tag{Key: "license", Value: in.License})
	}
	for _, a := range authors {
		tags = append(tags, domain.Tag{Key: "authors", Value: a})
	}
	if in.PublishedAt != nil {
		tags = append(tags, domain.Tag{Key: "published_at", Value: formatInt(*in.PublishedAt)})
	}
	return tags, nil
}

// SuccessionInputs hold the author-facing fields of a succession record.
type SuccessionInputs struct {
	AuthoritativeEvent string
	Steward            string
	Previous           string
	Reason             string
	EffectiveAt        string
}

// SuccessionTags builds stored tag rows from succession inputs. Event
// references carry the event: prefix.
func SuccessionTags(in SuccessionInputs) ([]domain.Tag, error) {
	if in.AuthoritativeEvent == "" {
		return nil, domain.Validationf("authoritative event id is required")
	}
	tags := []domain.Tag{{Key: "authoritative", Value: "event:" + StripEventPrefix(in.AuthoritativeEvent)}}
	if in.Steward != "" {
		tags = append(tags, domain.Tag{Key: "steward", Value: in.Steward})
	}
	if in.Previous != "" {
		tags = append(tags, domain.Tag{Key: "previous", Value: "event:" + StripEventPrefix(in.Previous)})
	}
	if in.Reason != "" {
		tags = append(tags, domain.Tag{Key: "reason", Value: in.Reason})
	}
	if in.EffectiveAt != "" {
		tags = append(tags, domain.Tag{Key: "effective_at", Value: in.EffectiveAt})
	}
	return tags, nil
}

// PrepareForPublish refreshes created_at and, for documents, stamps
// published_at. Returns the timestamp used.
func PrepareForPublish(msg *Message, now int64) int64 {
	msg.CreatedAt = now
	if msg.Kind == int(domain.KindDocument) {
		msg.Tags = UpsertSingleTag(msg.Tags, "published_at", formatInt(now))
	}
	return now
}

// Finalize stamps the delivered event id onto a message.
func Finalize(msg *Message, eventID string) {
	msg.Tags = UpsertSingleTag(msg.Tags, "eventid", eventID)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
