package status

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for callers and for the HTTP layer.
type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindInvalidRequest     Kind = "invalid_request"
	KindInvalidState       Kind = "invalid_state"
	KindAlreadyDrawn       Kind = "already_drawn"
	KindNoEligibleEntrants Kind = "no_eligible_entrants"
	KindLimitExceeded      Kind = "limit_exceeded"
	KindRaceDetected       Kind = "race_detected"
	KindLedgerWriteFailed  Kind = "ledger_write_failed"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// Error is a classified error. Two errors match under errors.Is when their
// kinds are equal, so wrapped sentinels keep working after messages change.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrInvalidState       = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrAlreadyDrawn       = &Error{Kind: KindAlreadyDrawn, Message: "lottery already drawn"}
	ErrNoEligibleEntrants = &Error{Kind: KindNoEligibleEntrants, Message: "no eligible entrants"}
	ErrLimitExceeded      = &Error{Kind: KindLimitExceeded, Message: "purchase limit exceeded"}
	ErrRaceDetected       = &Error{Kind: KindRaceDetected, Message: "ticket was used by another process"}
	ErrLedgerWrite        = &Error{Kind: KindLedgerWriteFailed, Message: "ledger: write failed"}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Message: "Rate limit exceeded. Please try again later."}

	// ErrVersionConflict is returned by compare-and-swap writes whose expected
	// version no longer matches the stored document.
	ErrVersionConflict = errors.New("store: version conflict")
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the outermost classified message, or a generic text for
// unclassified errors so internals never leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest, KindInvalidState, KindAlreadyDrawn, KindNoEligibleEntrants, KindLimitExceeded:
		return http.StatusBadRequest
	case KindRaceDetected:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
