package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/obs"
)

// sessionClaims are the provider claims carried by a session cookie.
type sessionClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	AuthTime int64  `json:"auth_time"`
}

// JWTVerifier verifies session cookies with go-oidc and checks revocation
// on every call.
type JWTVerifier struct {
	verifier    *oidc.IDTokenVerifier
	keys        oidc.KeySet
	revocations RevocationStore
	clock       Clock
}

// VerifierConfig configures a JWTVerifier.
type VerifierConfig struct {
	Issuer      string
	Audience    string
	KeySet      oidc.KeySet
	Revocations RevocationStore
	Clock       Clock
}

// NewJWTVerifier builds a verifier for cookies signed by cfg.KeySet.
func NewJWTVerifier(cfg VerifierConfig) *JWTVerifier {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	revocations := cfg.Revocations
	if revocations == nil {
		revocations = NewMemoryRevocations()
	}
	return &JWTVerifier{
		verifier: oidc.NewVerifier(cfg.Issuer, cfg.KeySet, &oidc.Config{
			ClientID:             cfg.Audience,
			SupportedSigningAlgs: []string{oidc.RS256},
			Now:                  clock.Now,
		}),
		keys:        cfg.KeySet,
		revocations: revocations,
		clock:       clock,
	}
}

// Verify checks the cookie and its revocation status.
func (v *JWTVerifier) Verify(ctx context.Context, sessionCookie string) (*Identity, error) {
	sessionCookie = strings.TrimSpace(sessionCookie)
	if sessionCookie == "" {
		return nil, fmt.Errorf("%w: no session cookie", ErrUnauthenticated)
	}

	// go-oidc flattens key set errors into text, so an unreachable key
	// endpoint is detected here, before the claims checks.
	if _, err := v.keys.VerifySignature(ctx, sessionCookie); err != nil {
		if errs.Is(err, errs.Unavailable) {
			obs.From(ctx).With("pkg", "identity").Error("public_keys_unavailable", "error", err)
			return nil, errs.Wrap(errs.Unavailable, "session check unavailable", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	token, err := v.verifier.Verify(ctx, sessionCookie)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if token.Subject == "" || len(token.Subject) > 128 {
		return nil, fmt.Errorf("%w: bad subject", ErrUnauthenticated)
	}

	var claims sessionClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrUnauthenticated, err)
	}

	authTime := token.IssuedAt
	if claims.AuthTime > 0 {
		authTime = time.Unix(claims.AuthTime, 0)
	}
	if authTime.After(v.clock.Now().Add(time.Minute)) {
		return nil, fmt.Errorf("%w: auth_time in the future", ErrUnauthenticated)
	}

	validSince, err := v.revocations.ValidSince(ctx, token.Subject)
	if err != nil {
		obs.From(ctx).With("pkg", "identity").Error("revocation_check_failed",
			"uid", token.Subject, "error", err)
		return nil, errs.Wrap(errs.Unavailable, "session check unavailable", err)
	}
	if !validSince.IsZero() && authTime.Before(validSince) {
		return nil, fmt.Errorf("%w: session revoked", ErrUnauthenticated)
	}

	return &Identity{
		UID:     token.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}
