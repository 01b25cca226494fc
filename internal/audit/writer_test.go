package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/imattau/nostr-community-conventions/internal/audit"
	"github.com/imattau/nostr-community-conventions/internal/db"
	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/migrate"
)

func TestAppendAndTail(t *testing.T) {
	conn, err := db.Open(db.Config{Store: filepath.Join(t.TempDir(), "ncc.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Unix(1700000000, 0)
	w := audit.Writer{DB: conn, Now: func() time.Time { return now }}
	ctx := context.Background()

	if err := w.Append(ctx, "document.create", domain.KindDocument, "ncc-01", 1, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(ctx, "publish.delivered", domain.KindDocument, "ncc-01", 1, audit.Detail{"event_id": "ev-1"}); err != nil {
		t.Fatal(err)
	}

	entries, err := w.Tail(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Type != "publish.delivered" {
		t.Fatalf("newest first, got %s", entries[0].Type)
	}
	if entries[0].Detail["event_id"] != "ev-1" {
		t.Fatalf("detail = %v", entries[0].Detail)
	}
	if entries[1].TS != 1700000000 || entries[1].D != "ncc-01" {
		t.Fatalf("entry = %+v", entries[1])
	}

	limited, err := w.Tail(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit = %d (%v)", len(limited), err)
	}
}
