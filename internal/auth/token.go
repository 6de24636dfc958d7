// Package auth acquires, validates and persists the OAuth2 access token the
// tracker clients run with.
package auth

import (
	"math"
	"time"
)

// maxExpiresIn is the largest lifetime in seconds a time.Duration can hold
const maxExpiresIn = math.MaxInt64 / int64(time.Second)

// TokenRecord is the persisted credential. It is replaced wholesale on every
// successful exchange and never edited in place.
type TokenRecord struct {
	AccessToken string    `json:"access_token"`
	ObtainedAt  time.Time `json:"obtained_at"`
	// ExpiresIn is the lifetime in seconds reported by the token endpoint.
	// Zero means unknown, a negative value marks the token expired.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// Lifetime returns ExpiresIn as a duration, or zero when unknown or negative.
// Lifetimes beyond what a time.Duration holds are clamped.
func (r TokenRecord) Lifetime() time.Duration {
	switch {
	case r.ExpiresIn <= 0:
		return 0
	case r.ExpiresIn > maxExpiresIn:
		return time.Duration(maxExpiresIn) * time.Second
	default:
		return time.Duration(r.ExpiresIn) * time.Second
	}
}

// Usable reports whether the token may be used at now. A token with an
// unknown lifetime is optimistically usable; the first API call decides.
func (r TokenRecord) Usable(now time.Time) bool {
	if r.AccessToken == "" || r.ExpiresIn < 0 {
		return false
	}
	lifetime := r.Lifetime()
	if lifetime == 0 {
		return true
	}
	return now.Sub(r.ObtainedAt) < lifetime
}

// State is a step of the token lifecycle
type State string

const (
	StateNoToken     State = "no_token"
	StateUnvalidated State = "unvalidated"
	StateValid       State = "valid"
	StateExpired     State = "expired"
	StateExchanging  State = "exchanging"
	StateFailed      State = "failed"
)
