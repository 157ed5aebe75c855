package ratelimit

import (
	"net/http"
	"strconv"
)

// DefaultRetryAfterSeconds is sent in Retry-After when a budget is exhausted.
const DefaultRetryAfterSeconds = 1

// Deny writes the 429 response used by every throttled route.
func Deny(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"success":false,"error":"Too many requests"}` + "\n"))
}

// Middleware throttles requests per user. Requests with no user id pass
// through untouched; authentication is enforced elsewhere.
func Middleware(limiter *RateLimiter, getUserID func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := getUserID(r)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			bucket := limiter.GetLimiter(userID)
			if !bucket.Allow() {
				Deny(w)
				return
			}

			remaining := int(bucket.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
