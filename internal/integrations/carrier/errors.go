package carrier

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindAuthenticationFailed
	KindNotFound
	KindRateLimited
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "transient"
	}
}

// Retryable reports whether a later attempt may succeed without operator action.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// Error is the only error type adapters return.
type Error struct {
	Kind       ErrorKind
	Carrier    Code
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", strings.ToLower(string(e.Carrier)), e.Kind)
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func AuthenticationFailed(c Code, cause error) error {
	return &Error{Kind: KindAuthenticationFailed, Carrier: c, Cause: cause}
}

func NotFound(c Code, cause error) error {
	return &Error{Kind: KindNotFound, Carrier: c, Cause: cause}
}

func RateLimited(c Code, retryAfter time.Duration, cause error) error {
	return &Error{Kind: KindRateLimited, Carrier: c, RetryAfter: retryAfter, Cause: cause}
}

func Transient(c Code, cause error) error {
	return &Error{Kind: KindTransient, Carrier: c, Cause: cause}
}

func Malformed(c Code, cause error) error {
	return &Error{Kind: KindMalformedResponse, Carrier: c, Cause: cause}
}

// AsError extracts the adapter error from err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind reports whether err carries an adapter error of kind k.
func IsKind(err error, k ErrorKind) bool {
	ce, ok := AsError(err)
	return ok && ce.Kind == k
}

// UnexpectedPayload is returned by a normalizer handed another carrier's payload.
func UnexpectedPayload(c Code, p RawPayload) error {
	return Malformed(c, errors.Errorf("unexpected payload %T", p))
}
