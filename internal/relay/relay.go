// Package relay delivers canonical messages to broadcast endpoints. The queue
// and engine depend only on the Publisher interface; the default Client signs
// with the steward key and broadcasts over go-nostr relay connections.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/imattau/nostr-community-conventions/internal/payload"
)

// Publisher is the delivery boundary. A returned error is opaque to the
// caller: the queue retains its text as last_error and retries.
type Publisher interface {
	Publish(ctx context.Context, msg payload.Message, relays []string) (string, error)
}

// TransportError wraps any signing or delivery failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

func transportf(format string, args ...any) error {
	return &TransportError{Err: fmt.Errorf(format, args...)}
}

// IsTransport reports whether err is a delivery failure eligible for retry.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client publishes signed events to a set of relays. Connections are
// per-attempt and short-lived.
type Client struct {
	Secret string // hex secret key
	Logger *slog.Logger
}

func (c *Client) Publish(ctx context.Context, msg payload.Message, relays []string) (string, error) {
	if c.Secret == "" {
		return "", transportf("no signing key configured")
	}
	if len(relays) == 0 {
		return "", transportf("no relays configured")
	}
	ev := nostr.Event{
		Kind:      msg.Kind,
		CreatedAt: nostr.Timestamp(msg.CreatedAt),
		Content:   msg.Content,
	}
	for _, t := range msg.Tags {
		ev.Tags = append(ev.Tags, nostr.Tag(t))
	}
	if err := ev.Sign(c.Secret); err != nil {
		return "", transportf("sign event: %w", err)
	}

	delivered := 0
	var lastErr error
	for _, url := range relays {
		r, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			lastErr = err
			c.log().Warn("relay connect failed", "relay", url, "error", err)
			continue
		}
		err = r.Publish(ctx, ev)
		r.Close()
		if err != nil {
			lastErr = err
			c.log().Warn("relay publish failed", "relay", url, "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return "", transportf("publish to %d relays failed: %w", len(relays), lastErr)
	}
	return ev.ID, nil
}

func (c *Client) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
