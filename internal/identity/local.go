package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// LocalAudience is the audience of cookies minted by LocalProvider.
const LocalAudience = "listsmart-local"

// LocalProvider is a self-contained identity provider for development and
// tests. It signs session cookies with a per-process RSA key and publishes
// the matching JWKS. Its "ID token" is just the email address to sign in as.
type LocalProvider struct {
	issuer string
	key    *rsa.PrivateKey
	kid    string
	signer jose.Signer
	clock  Clock
}

// NewLocalProvider generates a signing key. baseURL becomes the issuer prefix.
func NewLocalProvider(baseURL string, clock Clock) (*LocalProvider, error) {
	if clock == nil {
		clock = SystemClock
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	kidBytes := make([]byte, 8)
	if _, err := rand.Read(kidBytes); err != nil {
		return nil, fmt.Errorf("generate key id: %w", err)
	}
	kid := hex.EncodeToString(kidBytes)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: string(jose.RS256)}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	return &LocalProvider{
		issuer: strings.TrimRight(baseURL, "/") + "/auth/local",
		key:    key,
		kid:    kid,
		signer: signer,
		clock:  clock,
	}, nil
}

// Issuer returns the iss claim of minted cookies.
func (p *LocalProvider) Issuer() string { return p.issuer }

// KeySet returns a key set holding the provider's public key.
func (p *LocalProvider) KeySet() oidc.KeySet {
	return &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&p.key.PublicKey}}
}

// JWKS returns the public key as a JSON Web Key Set.
func (p *LocalProvider) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     p.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
}

// LocalUID derives the stable uid the local provider assigns to an email.
func LocalUID(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "local" + hex.EncodeToString(sum[:10])
}

// Sign issues a session cookie for id, authenticated at authTime.
func (p *LocalProvider) Sign(id Identity, authTime time.Time, ttl time.Duration) (string, error) {
	now := p.clock.Now()
	registered := jwt.Claims{
		Issuer:   p.issuer,
		Subject:  id.UID,
		Audience: jwt.Audience{LocalAudience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	extra := map[string]any{
		"auth_time": authTime.Unix(),
		"user_id":   id.UID,
	}
	if id.Email != "" {
		extra["email"] = id.Email
	}
	if id.Name != "" {
		extra["name"] = id.Name
	}
	if id.Picture != "" {
		extra["picture"] = id.Picture
	}

	token, err := jwt.Signed(p.signer).Claims(registered).Claims(extra).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

// MintSession implements SessionMinter. idToken is the email to sign in as.
func (p *LocalProvider) MintSession(_ context.Context, idToken string, ttl time.Duration) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(idToken))
	if err != nil {
		return "", fmt.Errorf("%w: local sign-in needs an email address", ErrUnauthenticated)
	}
	email := strings.ToLower(addr.Address)
	name, _, _ := strings.Cut(email, "@")
	if addr.Name != "" {
		name = addr.Name
	}
	id := Identity{UID: LocalUID(email), Email: email, Name: name}
	return p.Sign(id, p.clock.Now(), ttl)
}

// RegisterRoutes publishes the JWKS so other processes can verify cookies.
func (p *LocalProvider) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/local/jwks.json", p.handleJWKS)
}

func (p *LocalProvider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(p.JWKS())
}
