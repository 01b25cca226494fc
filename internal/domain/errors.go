package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError marks bad caller input: empty identifiers, malformed author
// keys, a secret key where a public key belongs. It is surfaced immediately
// and never enqueued for retry.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NormalizeIdentifier maps a bare number like "01" to "ncc-01". Values that
// already carry the prefix pass through.
func NormalizeIdentifier(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(v), "ncc-") {
		return v
	}
	return "ncc-" + v
}
