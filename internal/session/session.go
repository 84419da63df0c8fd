// Package session owns the client-side credential lifecycle: where tokens are
// kept, how concurrent renewals collapse into one remote call, how a session
// is restored at start-up, and how logout reaches every other instance that
// shares the durable store.
package session

import (
	"context"
	"errors"
	"fmt"
)

// Principal is one of the two independent session identities.
type Principal string

const (
	PrincipalUser  Principal = "user"
	PrincipalAdmin Principal = "admin"
)

// Principals lists every principal in a fixed order.
var Principals = []Principal{PrincipalUser, PrincipalAdmin}

func (p Principal) Valid() bool {
	return p == PrincipalUser || p == PrincipalAdmin
}

func ParsePrincipal(value string) (Principal, error) {
	p := Principal(value)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrincipal, value)
	}
	return p, nil
}

var (
	// ErrRenewalRejected marks a renewal the identity provider refused because
	// the refresh token itself is no longer accepted.
	ErrRenewalRejected  = errors.New("refresh token rejected")
	ErrNoCredential     = errors.New("no usable credential")
	ErrUnknownPrincipal = errors.New("unknown principal")
)

// Pair is an access/refresh credential pair. Empty strings mean absent.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Renewer exchanges a refresh token for a new pair. A response may omit the
// refresh token when the provider does not rotate it. Errors matching
// ErrRenewalRejected end the session; any other error is transient.
type Renewer interface {
	Renew(ctx context.Context, principal Principal, current Pair) (Pair, error)
}

const (
	accessTokenSuffix  = "access_token"
	refreshTokenSuffix = "refresh_token"

	RememberKey  = "remember_me"
	BroadcastKey = "logout_broadcast"
)

func storageKey(p Principal, suffix string) string {
	return string(p) + "." + suffix
}
