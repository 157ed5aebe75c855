// Package shorturl maps short ids to shared list URLs.
// Short IDs are 6 characters from [a-zA-Z0-9_-] (64^6, about 69 billion ids).
package shorturl

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/obs"
)

const (
	// ShortIDLength is the length of short URL identifiers
	ShortIDLength = 6

	// MaxCollisionRetries is the maximum number of retries on collision
	MaxCollisionRetries = 10

	// PathPrefix is where short links are served.
	PathPrefix = "/s/"
)

// Charset for short IDs, URL-safe base64 characters.
const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// ErrNotFound is returned for unknown or malformed short ids.
var ErrNotFound = errs.New(errs.NotFound, "short link not found")

// Service stores short links in the document store, one document per
// link keyed by its short id.
type Service struct {
	store docstore.Store
	now   func() time.Time
	newID func() (string, error)
}

// NewService creates a short URL service over store.
func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: time.Now, newID: GenerateShortID}
}

// ShortURL is one short link.
type ShortURL struct {
	ShortID   string    `json:"shortId"`
	Target    string    `json:"target"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateShortID generates a random 6-character short ID.
func GenerateShortID() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	n := binary.BigEndian.Uint64(bytes)

	// 6 bits per character
	result := make([]byte, ShortIDLength)
	for i := range ShortIDLength {
		result[i] = charset[n&0x3F]
		n >>= 6
	}
	return string(result), nil
}

// ValidateShortID checks if a short ID has the correct format.
func ValidateShortID(shortID string) bool {
	if len(shortID) != ShortIDLength {
		return false
	}
	for i := 0; i < len(shortID); i++ {
		if strings.IndexByte(charset, shortID[i]) < 0 {
			return false
		}
	}
	return true
}

// Collection holds every short link document.
const Collection = "shareLinks"

// Create stores a new short link to target, retrying on id collisions.
func (s *Service) Create(ctx context.Context, owner, target string) (*ShortURL, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.New(errs.InvalidArgument, "share target must be an absolute http(s) URL")
	}

	for range MaxCollisionRetries {
		shortID, err := s.newID()
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "failed to create short link", err)
		}

		link := ShortURL{ShortID: shortID, Target: target, Owner: owner, CreatedAt: s.now().UTC()}
		_, err = s.store.Create(ctx, Collection, shortID, link)
		if errors.Is(err, docstore.ErrExists) {
			continue
		}
		if err != nil {
			obs.From(ctx).Error("short_link_create_failed", "pkg", "shorturl", "error", err)
			return nil, errs.Wrap(errs.Unavailable, "failed to create short link", err)
		}
		return &link, nil
	}
	return nil, errs.New(errs.Internal, fmt.Sprintf("failed to create short link after %d retries", MaxCollisionRetries))
}

// Resolve returns the target of shortID.
func (s *Service) Resolve(ctx context.Context, shortID string) (string, error) {
	if !ValidateShortID(shortID) {
		return "", ErrNotFound
	}
	doc, err := s.store.Get(ctx, Collection, shortID)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		obs.From(ctx).Error("short_link_lookup_failed", "pkg", "shorturl", "error", err)
		return "", errs.Wrap(errs.Unavailable, "failed to resolve short link", err)
	}
	var link ShortURL
	if err := doc.Decode(&link); err != nil {
		return "", errs.Wrap(errs.Internal, "failed to resolve short link", err)
	}
	return link.Target, nil
}

// URL returns the absolute short link for shortID under baseURL.
func URL(baseURL, shortID string) string {
	return strings.TrimRight(baseURL, "/") + PathPrefix + shortID
}

// RegisterRoutes serves GET /s/{id} as a redirect to the stored target.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+PathPrefix+"{id}", s.HandleRedirect)
}

// HandleRedirect redirects a short link to its target.
func (s *Service) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	target, err := s.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, errs.MessageOf(err), errs.HTTPStatus(errs.CodeOf(err)))
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
