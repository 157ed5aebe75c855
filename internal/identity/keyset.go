package identity

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"golang.org/x/sync/singleflight"

	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/obs"
)

const (
	defaultKeyCacheTTL = time.Hour

	// minForcedRefresh bounds how often an unknown kid may trigger a
	// download outside the cache schedule.
	minForcedRefresh = time.Minute
)

// RemoteKeySet fetches the provider's public keys and verifies JWS
// signatures with them. It accepts either a JWKS document ({"keys": [...]})
// or the provider's kid -> PEM certificate map, and caches the result for
// the response's max-age.
//
// A download happens when the cache is empty or expired, or when a token
// names a kid the cache lacks (at most once per minForcedRefresh).
// Concurrent callers share one in-flight download. A failed download is
// reported as errs.Unavailable when no earlier keys exist; otherwise the
// earlier keys are used and the next attempt waits minForcedRefresh.
type RemoteKeySet struct {
	url    string
	client *http.Client
	clock  Clock

	group singleflight.Group

	mu       sync.RWMutex
	keys     map[string]any
	expires  time.Time
	forcedAt time.Time
}

// NewRemoteKeySet returns a key set reading from url.
func NewRemoteKeySet(url string, client *http.Client, clock Clock) *RemoteKeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &RemoteKeySet{url: url, client: client, clock: clock}
}

// VerifySignature implements oidc.KeySet.
func (s *RemoteKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	jws, err := jose.ParseSigned(jwt)
	if err != nil {
		return nil, fmt.Errorf("malformed jwt: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, errors.New("expected exactly one signature")
	}

	key, err := s.key(ctx, jws.Signatures[0].Header.KeyID)
	if err != nil {
		return nil, err
	}
	return jws.Verify(key)
}

func (s *RemoteKeySet) key(ctx context.Context, kid string) (any, error) {
	keys, fresh := s.cached()
	if !fresh {
		downloaded, err := s.refresh(ctx)
		switch {
		case err == nil:
			keys = downloaded
		case keys == nil:
			return nil, err
		default:
			obs.From(ctx).With("pkg", "identity").Warn("public_keys_stale", "error", err)
		}
	} else if _, ok := lookupKey(keys, kid); !ok && s.allowForcedRefresh() {
		// Keys rotate; a new kid may already be published.
		downloaded, err := s.refresh(ctx)
		if err != nil {
			return nil, err
		}
		keys = downloaded
	}

	key, ok := lookupKey(keys, kid)
	if !ok {
		return nil, fmt.Errorf("no public key for kid %q", kid)
	}
	return key, nil
}

func lookupKey(keys map[string]any, kid string) (any, bool) {
	if kid == "" && len(keys) == 1 {
		for _, k := range keys {
			return k, true
		}
	}
	key, ok := keys[kid]
	return key, ok
}

func (s *RemoteKeySet) cached() (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys, s.keys != nil && s.clock.Now().Before(s.expires)
}

func (s *RemoteKeySet) allowForcedRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if !s.forcedAt.IsZero() && now.Sub(s.forcedAt) < minForcedRefresh {
		return false
	}
	s.forcedAt = now
	return true
}

// refresh downloads the key set once for all concurrent callers. The
// download is detached from any single caller's cancellation.
func (s *RemoteKeySet) refresh(ctx context.Context) (map[string]any, error) {
	ch := s.group.DoChan("keys", func() (any, error) {
		keys, ttl, err := s.fetch(context.WithoutCancel(ctx))
		if err != nil {
			// Stale keys stay in use until the next attempt.
			s.mu.Lock()
			if s.keys != nil {
				s.expires = s.clock.Now().Add(minForcedRefresh)
			}
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Lock()
		s.keys = keys
		s.expires = s.clock.Now().Add(ttl)
		s.mu.Unlock()
		return keys, nil
	})

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Unavailable, "public keys unavailable", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, errs.Wrap(errs.Unavailable, "public keys unavailable", res.Err)
		}
		return res.Val.(map[string]any), nil
	}
}

func (s *RemoteKeySet) fetch(ctx context.Context) (map[string]any, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build key request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch public keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch public keys: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read public keys: %w", err)
	}

	keys, err := parseKeys(body)
	if err != nil {
		return nil, 0, err
	}
	return keys, maxAge(resp.Header.Get("Cache-Control")), nil
}

func parseKeys(body []byte) (map[string]any, error) {
	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err == nil && len(jwks.Keys) > 0 {
		keys := make(map[string]any, len(jwks.Keys))
		for _, k := range jwks.Keys {
			keys[k.KeyID] = k.Key
		}
		return keys, nil
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return nil, fmt.Errorf("public keys are neither JWKS nor a certificate map: %w", err)
	}
	keys := make(map[string]any, len(certs))
	for kid, certPEM := range certs {
		block, _ := pem.Decode([]byte(certPEM))
		if block == nil {
			return nil, fmt.Errorf("certificate %q is not PEM", kid)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %q: %w", kid, err)
		}
		keys[kid] = cert.PublicKey
	}
	if len(keys) == 0 {
		return nil, errors.New("public key document is empty")
	}
	return keys, nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(value)
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultKeyCacheTTL
}
