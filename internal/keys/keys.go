// Package keys validates and normalizes Nostr key material. Secret keys are
// accepted as nsec or hex, public keys as npub or hex.
package keys

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// IsSecret reports whether the value is shaped like a secret key.
func IsSecret(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "nsec1")
}

// ParseSecret returns the hex form of an nsec or hex secret key.
func ParseSecret(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("secret key is empty")
	}
	if IsSecret(raw) {
		prefix, value, err := nip19.Decode(raw)
		if err != nil || prefix != "nsec" {
			return "", fmt.Errorf("invalid nsec key")
		}
		return value.(string), nil
	}
	// hex secret keys derive a public key; GetPublicKey rejects bad input
	if _, err := nostr.GetPublicKey(raw); err != nil {
		return "", fmt.Errorf("secret key must be nsec or hex: %w", err)
	}
	return raw, nil
}

// CheckPublic validates an npub or hex public key.
func CheckPublic(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("public key is empty")
	}
	if strings.HasPrefix(raw, "npub1") {
		prefix, _, err := nip19.Decode(raw)
		if err != nil || prefix != "npub" {
			return fmt.Errorf("invalid npub key")
		}
		return nil
	}
	if !nostr.IsValidPublicKey(raw) {
		return fmt.Errorf("not a valid npub or hex public key")
	}
	return nil
}
