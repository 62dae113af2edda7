package vision

import (
	"errors"
	"fmt"
)

// Kind classifies a remote-analysis failure. The scheduler treats all
// kinds as terminal for the cycle; the operator display distinguishes
// RateLimited because it implies wait-and-retry rather than a data
// problem.
type Kind string

const (
	RateLimited Kind = "rate_limited"
	Malformed   Kind = "malformed"
	Transport   Kind = "transport"
)

// Error wraps a failed remote call with its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vision: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("vision: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" if err is not a
// vision error.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

func IsRateLimited(err error) bool { return KindOf(err) == RateLimited }
