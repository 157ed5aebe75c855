// Package identity verifies session cookies issued by the identity provider
// and mints new ones from provider ID tokens.
//
// A session cookie is an RS256 JWT. Verification checks signature, issuer,
// audience and expiry, then asks the revocation store whether the session
// was revoked. Callers only ever learn "unauthenticated" for a bad cookie;
// an unreachable key endpoint or revocation store is reported separately
// as unavailable.
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/errs"
)

// ErrUnauthenticated is returned for any absent, malformed, expired or
// revoked session. Causes are wrapped for logs only.
var ErrUnauthenticated = errs.New(errs.Unauthenticated, "Unauthorized")

// Identity is the verified user behind a session cookie.
type Identity struct {
	UID     string `json:"uid"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// DisplayName returns the best human-readable name for greetings.
func (i Identity) DisplayName() string {
	switch {
	case i.Name != "":
		return i.Name
	case i.Email != "":
		return i.Email
	default:
		return i.UID
	}
}

// Verifier resolves a session cookie value to an identity.
type Verifier interface {
	Verify(ctx context.Context, sessionCookie string) (*Identity, error)
}

// SessionMinter exchanges a provider ID token for a session cookie value.
type SessionMinter interface {
	MintSession(ctx context.Context, idToken string, ttl time.Duration) (string, error)
}

// Clock abstracts time for expiry and revocation checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// FakeClock is a controllable Clock for tests. Safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock frozen at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
