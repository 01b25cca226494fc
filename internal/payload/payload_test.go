package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/payload"
)

const (
	validHex  = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	validNpub = "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6"
)

func TestDocumentTagOrdering(t *testing.T) {
	// Stored out of canonical order on purpose.
	tags := []domain.Tag{
		{Key: "authors", Value: validHex},
		{Key: "t", Value: "relay"},
		{Key: "lang", Value: "en"},
		{Key: "t", Value: "etiquette"},
		{Key: "summary", Value: "How to behave"},
		{Key: "published_at", Value: "1700000000"},
	}
	msg := payload.FromDraft(domain.KindDocument, "ncc-07", "Relay Etiquette", "body", tags, 1700000100)

	require.Equal(t, 30050, msg.Kind)
	require.Equal(t, int64(1700000100), msg.CreatedAt)
	assert.Equal(t, [][]string{
		{"d", "ncc-07"},
		{"title", "Relay Etiquette"},
		{"published_at", "1700000000"},
		{"summary", "How to behave"},
		{"t", "relay"},
		{"t", "etiquette"},
		{"lang", "en"},
		{"authors", validHex},
	}, msg.Tags)
}

func TestSuccessionTagOrdering(t *testing.T) {
	tags := []domain.Tag{
		{Key: "reason", Value: "retirement"},
		{Key: "steward", Value: validNpub},
		{Key: "authoritative", Value: "event:abc"},
		{Key: "effective_at", Value: "2026-01-01"},
	}
	msg := payload.FromDraft(domain.KindSuccession, "ncc-07-succession", "", "handover", tags, 42)

	require.Equal(t, 30051, msg.Kind)
	assert.Equal(t, [][]string{
		{"d", "ncc-07-succession"},
		{"authoritative", "event:abc"},
		{"steward", validNpub},
		{"reason", "retirement"},
		{"effective_at", "2026-01-01"},
	}, msg.Tags)
}

func TestSingleValuedKeyTakesFirstStoredValue(t *testing.T) {
	tags := []domain.Tag{
		{Key: "lang", Value: "en"},
		{Key: "lang", Value: "de"},
	}
	msg := payload.FromDraft(domain.KindDocument, "ncc-01", "", "", tags, 0)
	assert.Equal(t, [][]string{{"d", "ncc-01"}, {"lang", "en"}}, msg.Tags)
}

func TestUpsertSingleTag(t *testing.T) {
	tags := [][]string{{"d", "ncc-01"}, {"eventid", "old"}, {"t", "x"}}
	got := payload.UpsertSingleTag(tags, "eventid", "new")
	assert.Equal(t, [][]string{{"d", "ncc-01"}, {"t", "x"}, {"eventid", "new"}}, got)

	// Absent key is appended.
	got = payload.UpsertSingleTag([][]string{{"d", "ncc-01"}}, "published_at", "5")
	assert.Equal(t, [][]string{{"d", "ncc-01"}, {"published_at", "5"}}, got)
}

func TestTagsFromMessageSkipsIdentityEntries(t *testing.T) {
	msg := payload.Message{Tags: [][]string{
		{"d", "ncc-01"},
		{"title", "Foo"},
		{"summary", "s"},
		{"broken"},
	}}
	assert.Equal(t, []domain.Tag{{Key: "summary", Value: "s"}}, payload.TagsFromMessage(msg))
}

func TestValidateAuthors(t *testing.T) {
	got, err := payload.ValidateAuthors([]string{validHex, " " + validNpub + " ", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{validHex, validNpub}, got)

	_, err = payload.ValidateAuthors([]string{"nsec1qqqsyqcyq5rqwzqfpg9scrgwpugpzysn0examplefake"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "looks like a secret key")

	_, err = payload.ValidateAuthors([]string{"not-a-key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid npub")

	got, err = payload.ValidateAuthors(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSuccessionTagsRequireAuthoritativeEvent(t *testing.T) {
	_, err := payload.SuccessionTags(payload.SuccessionInputs{Steward: validNpub})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	tags, err := payload.SuccessionTags(payload.SuccessionInputs{
		AuthoritativeEvent: "event:abc",
		Previous:           "def",
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Tag{
		{Key: "authoritative", Value: "event:abc"},
		{Key: "previous", Value: "event:def"},
	}, tags)
}

func TestPrepareAndFinalize(t *testing.T) {
	msg := payload.FromDraft(domain.KindDocument, "ncc-01", "T", "c", nil, 0)
	payload.PrepareForPublish(&msg, 1700000000)
	assert.Equal(t, int64(1700000000), msg.CreatedAt)
	assert.Equal(t, "1700000000", payload.TagValue(msg.Tags, "published_at"))

	payload.Finalize(&msg, "ev-1")
	assert.Equal(t, "ev-1", payload.TagValue(msg.Tags, "eventid"))

	// Succession payloads never get a published_at stamp.
	s := payload.FromDraft(domain.KindSuccession, "ncc-01-succession", "", "", nil, 0)
	payload.PrepareForPublish(&s, 1700000000)
	assert.Empty(t, payload.TagValue(s.Tags, "published_at"))
}
