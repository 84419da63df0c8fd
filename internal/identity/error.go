package identity

import (
	"errors"
	"fmt"

	"taeu.kr/sessionkeeper/internal/session"
)

var (
	ErrNoEndpoint        = errors.New("no refresh endpoint configured")
	ErrMalformedResponse = errors.New("malformed renewal response")
)

// Error describes a failed renewal call. It matches session.ErrRenewalRejected
// when the identity provider refused the refresh token.
type Error struct {
	Op        string
	Principal session.Principal
	Status    int
	Rejected  bool
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("identity: %s %s", e.Op, e.Principal)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e.Rejected && target == session.ErrRenewalRejected
}
