// Package token reads the self-declared expiry of compact access tokens.
//
// Nothing here verifies a signature. The expiry is a local hint for deciding
// whether a renewal should happen before a request goes out.
package token

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeExpiry returns the exp claim of tok. It reports false for anything it
// cannot read: wrong segment count, bad base64url, bad JSON, missing or
// non-numeric exp.
func DecodeExpiry(tok string) (time.Time, bool) {
	segments := strings.Split(tok, ".")
	if len(segments) != 3 {
		return time.Time{}, false
	}

	payload, err := parser.DecodeSegment(segments[1])
	if err != nil {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// IsValid reports whether tok declares an expiry strictly after now.
func IsValid(tok string) bool {
	return IsValidAt(tok, time.Now())
}

func IsValidAt(tok string, now time.Time) bool {
	exp, ok := DecodeExpiry(tok)
	if !ok {
		return false
	}
	return exp.After(now)
}

// TimeRemaining returns how long tok has left, clamped at zero.
func TimeRemaining(tok string) (time.Duration, bool) {
	return TimeRemainingAt(tok, time.Now())
}

func TimeRemainingAt(tok string, now time.Time) (time.Duration, bool) {
	exp, ok := DecodeExpiry(tok)
	if !ok {
		return 0, false
	}
	remaining := exp.Sub(now).Truncate(time.Millisecond)
	if remaining < 0 {
		return 0, true
	}
	return remaining, true
}
