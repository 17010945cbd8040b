package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies ingestion failures.
type Kind string

const (
	KindUnsupportedTicker Kind = "unsupported_ticker"
	KindUnavailable       Kind = "unavailable"
	KindRateLimited       Kind = "rate_limited"
	KindBadResponse       Kind = "bad_response"
	KindPersistFailed     Kind = "persist_failed"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrUnsupportedTicker = errors.New("unsupported ticker")
	ErrUnavailable       = errors.New("provider unavailable")
	ErrRateLimited       = errors.New("provider rate limited")
	ErrBadResponse       = errors.New("bad provider response")
	ErrPersistFailed     = errors.New("persist failed")
)

var kindSentinels = map[Kind]error{
	KindUnsupportedTicker: ErrUnsupportedTicker,
	KindUnavailable:       ErrUnavailable,
	KindRateLimited:       ErrRateLimited,
	KindBadResponse:       ErrBadResponse,
	KindPersistFailed:     ErrPersistFailed,
}

// Transient reports whether a retry may succeed.
func (k Kind) Transient() bool {
	switch k {
	case KindUnavailable, KindRateLimited, KindPersistFailed:
		return true
	default:
		return false
	}
}

// Error is the typed failure raised by the feed client and the store adapter.
type Error struct {
	Kind     Kind
	Ticker   string
	Endpoint string
	Status   int
	Excerpt  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Ticker != "" {
		fmt.Fprintf(&b, " ticker=%s", e.Ticker)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Excerpt != "" {
		fmt.Fprintf(&b, " (body: %s)", e.Excerpt)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so callers can use errors.Is(err, ErrRateLimited).
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf extracts the failure kind from err, or "" when err is not classified.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// IsTransient reports whether err carries a transient kind.
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// PersistError wraps a storage failure as KindPersistFailed.
func PersistError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPersistFailed, Err: err}
}

// Excerpt trims payload to at most max bytes of valid UTF-8 for diagnostics.
func Excerpt(payload []byte, max int) string {
	text := strings.ToValidUTF8(strings.TrimSpace(string(payload)), "")
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
