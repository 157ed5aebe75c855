package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Laboratorynotices/listsmart/internal/errs"
)

const (
	identityToolkitEndpoint = "https://identitytoolkit.googleapis.com/v1"
	identityToolkitScope    = "https://www.googleapis.com/auth/identitytoolkit"
	cloudPlatformScope      = "https://www.googleapis.com/auth/cloud-platform"

	// Session cookie lifetime bounds enforced by the provider.
	MinSessionTTL = 5 * time.Minute
	MaxSessionTTL = 14 * 24 * time.Hour
)

// FirebaseMinter creates session cookies through the Identity Toolkit
// createSessionCookie method, authenticated as a service account.
type FirebaseMinter struct {
	projectID string
	endpoint  string
	client    *http.Client
}

// NewFirebaseMinter builds a minter from service-account credentials given
// inline as JSON or as a path to a JSON file.
func NewFirebaseMinter(ctx context.Context, projectID, credentials string) (*FirebaseMinter, error) {
	raw := []byte(credentials)
	if !strings.HasPrefix(strings.TrimSpace(credentials), "{") {
		b, err := os.ReadFile(credentials)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		raw = b
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, identityToolkitScope, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	return NewFirebaseMinterWithTokenSource(ctx, projectID, identityToolkitEndpoint, creds.TokenSource), nil
}

// NewFirebaseMinterWithTokenSource builds a minter against endpoint using ts.
func NewFirebaseMinterWithTokenSource(ctx context.Context, projectID, endpoint string, ts oauth2.TokenSource) *FirebaseMinter {
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = 10 * time.Second
	return &FirebaseMinter{
		projectID: projectID,
		endpoint:  strings.TrimRight(endpoint, "/"),
		client:    client,
	}
}

type createSessionCookieRequest struct {
	IDToken       string `json:"idToken"`
	ValidDuration string `json:"validDuration"`
}

type createSessionCookieResponse struct {
	SessionCookie string `json:"sessionCookie"`
}

type identityToolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// MintSession implements SessionMinter.
func (m *FirebaseMinter) MintSession(ctx context.Context, idToken string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(idToken) == "" {
		return "", fmt.Errorf("%w: empty id token", ErrUnauthenticated)
	}
	if ttl < MinSessionTTL || ttl > MaxSessionTTL {
		return "", errs.New(errs.InvalidArgument, "session duration out of range")
	}

	body, err := json.Marshal(createSessionCookieRequest{
		IDToken:       idToken,
		ValidDuration: strconv.FormatInt(int64(ttl/time.Second), 10),
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s:createSessionCookie", m.endpoint, m.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "identity provider unavailable", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "identity provider unavailable", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr identityToolkitError
		_ = json.Unmarshal(payload, &apiErr)
		cause := fmt.Errorf("createSessionCookie: status %d: %s", resp.StatusCode, apiErr.Error.Message)
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("%w: %v", ErrUnauthenticated, cause)
		}
		return "", errs.Wrap(errs.Unavailable, "identity provider unavailable", cause)
	}

	var out createSessionCookieResponse
	if err := json.Unmarshal(payload, &out); err != nil || out.SessionCookie == "" {
		return "", errs.Wrap(errs.Unavailable, "identity provider unavailable",
			fmt.Errorf("createSessionCookie: malformed response"))
	}
	return out.SessionCookie, nil
}
