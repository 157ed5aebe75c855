// Package config loads listsmart configuration from CLI flags and environment
// variables, validates it, and fills in development defaults.
//
// CLI flags select local stand-ins for hosted services (--no-idp, --memory,
// --no-s3, --test). Environment variables carry secrets and endpoints.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/ratelimit"
)

const (
	defaultS3Region          = "auto"
	defaultSessionCookieName = "__session"
)

// Document store backends.
const (
	DocstoreSQLite   = "sqlite"
	DocstorePostgres = "postgres"
	DocstoreFile     = "file"
	DocstoreMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr     string
	BaseURL        string
	RequestTimeout time.Duration // Upper bound on one persistence round trip
	LogLevel       string

	// Session cookie
	SessionCookieName string
	SessionDuration   time.Duration

	// Document store
	Docstore     string // sqlite | postgres | file | memory
	DatabasePath string // Directory for the sqlite and file backends
	DatabaseURL  string // Postgres connection string
	MasterKey    string // 64 hex characters (32 bytes), sqlite only

	// Identity provider
	NoIDP              bool // Use the built-in local provider (--no-idp)
	FirebaseProjectID  string
	FirebaseAPIKey     string
	FirebaseAuthDomain string
	FirebaseAppID      string
	ServiceAccountJSON string // GOOGLE_APPLICATION_CREDENTIALS, inline JSON or a file path
	SessionJWKSURL     string
	SessionIssuer      string
	RedisURL           string // Revocation store; empty keeps revocations in memory

	// Rate limiting
	RateLimitConfig ratelimit.Config

	// List sharing (S3-compatible storage)
	NoS3               bool
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL

	// Tracing
	OTLPEndpoint    string // OTEL_EXPORTER_OTLP_ENDPOINT; empty disables export
	TraceSampler    string // OTEL_TRACES_SAMPLER
	TraceSamplerArg string // OTEL_TRACES_SAMPLER_ARG
}

// Flags holds the parsed CLI flags.
type Flags struct {
	NoIDP  bool
	Memory bool
	NoS3   bool
	Addr   string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses server CLI flags. Call before LoadConfig.
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("listsmart", flag.ContinueOnError)
	var f Flags
	var testMode bool
	fs.BoolVar(&f.NoIDP, "no-idp", false, "Use the built-in local identity provider")
	fs.BoolVar(&f.Memory, "memory", false, "Keep shopping lists in memory")
	fs.BoolVar(&f.NoS3, "no-s3", false, "Use in-memory S3 for list sharing")
	fs.BoolVar(&testMode, "test", false, "Shorthand for --no-idp --memory --no-s3")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if testMode {
		f.NoIDP = true
		f.Memory = true
		f.NoS3 = true
	}
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(flags Flags) (*Config, error) {
	cfg := &Config{
		NoIDP: flags.NoIDP,
		NoS3:  flags.NoS3,
	}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	cfg.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", 10*time.Second)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "debug")

	// Session cookie
	cfg.SessionCookieName = getEnvOrDefault("SESSION_COOKIE_NAME", defaultSessionCookieName)
	cfg.SessionDuration = parseDurationOrDefault("SESSION_DURATION", 5*24*time.Hour)

	// Document store
	cfg.Docstore = strings.ToLower(getEnvOrDefault("DOCSTORE", DocstoreSQLite))
	if flags.Memory {
		cfg.Docstore = DocstoreMemory
	}
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "/data")
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MasterKey = strings.TrimSpace(os.Getenv("MASTER_KEY"))

	// Identity provider
	cfg.FirebaseProjectID = strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))
	cfg.FirebaseAPIKey = strings.TrimSpace(os.Getenv("FIREBASE_API_KEY"))
	cfg.FirebaseAuthDomain = strings.TrimSpace(os.Getenv("FIREBASE_AUTH_DOMAIN"))
	cfg.FirebaseAppID = strings.TrimSpace(os.Getenv("FIREBASE_APP_ID"))
	cfg.ServiceAccountJSON = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	cfg.SessionJWKSURL = getEnvOrDefault("SESSION_JWKS_URL",
		"https://www.googleapis.com/identitytoolkit/v3/relyingparty/publicKeys")
	cfg.SessionIssuer = strings.TrimSpace(os.Getenv("SESSION_ISSUER"))
	if cfg.SessionIssuer == "" && cfg.FirebaseProjectID != "" {
		cfg.SessionIssuer = "https://session.firebase.google.com/" + cfg.FirebaseProjectID
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	// List sharing
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = getEnvOrDefault("BUCKET_NAME", "listsmart-shares")
	cfg.AWSPublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("S3_PUBLIC_URL")), "/")
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}

	cfg.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.TraceSampler = strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER"))
	cfg.TraceSamplerArg = strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// Hosted services need their secrets unless a local stand-in was selected.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.SessionCookieName) == "" {
		errs = append(errs, "SESSION_COOKIE_NAME must not be empty")
	}
	if c.SessionDuration < 5*time.Minute || c.SessionDuration > 14*24*time.Hour {
		errs = append(errs, "SESSION_DURATION must be between 5m and 336h")
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT must be positive")
	}

	switch c.Docstore {
	case DocstoreSQLite:
		if c.MasterKey == "" {
			errs = append(errs, "MASTER_KEY is required for DOCSTORE=sqlite (generate with: openssl rand -hex 32)")
		} else if len(c.MasterKey) != 64 {
			errs = append(errs, "MASTER_KEY must be 64 hex characters (32 bytes)")
		}
	case DocstorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for DOCSTORE=postgres")
		}
	case DocstoreFile, DocstoreMemory:
	default:
		errs = append(errs, fmt.Sprintf("DOCSTORE %q is not one of sqlite, postgres, file, memory", c.Docstore))
	}

	if !c.NoIDP {
		if c.FirebaseProjectID == "" {
			errs = append(errs, "FIREBASE_PROJECT_ID is required (set env var or use --no-idp)")
		}
		if c.ServiceAccountJSON == "" {
			errs = append(errs, "GOOGLE_APPLICATION_CREDENTIALS is required (set env var or use --no-idp)")
		}
	}

	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}

	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// IsDevelopment returns true if any local stand-in is enabled.
func (c *Config) IsDevelopment() bool {
	return c.NoIDP || c.NoS3 || c.Docstore == DocstoreMemory
}

// RequireSecureCookies returns false for localhost development URLs.
func (c *Config) RequireSecureCookies() bool {
	return !strings.HasPrefix(c.BaseURL, "http://localhost") &&
		!strings.HasPrefix(c.BaseURL, "http://127.0.0.1")
}

// PrintStartupSummary writes a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "listsmart server starting...")

	if c.NoIDP {
		fmt.Fprintln(w, "  Auth:     Local identity provider (--no-idp)")
	} else {
		fmt.Fprintf(w, "  Auth:     Firebase session cookies (project: %s)\n", c.FirebaseProjectID)
	}

	if c.RedisURL != "" {
		fmt.Fprintln(w, "  Revoke:   Redis")
	} else {
		fmt.Fprintln(w, "  Revoke:   In-memory")
	}

	switch c.Docstore {
	case DocstorePostgres:
		fmt.Fprintln(w, "  Store:    PostgreSQL")
	case DocstoreSQLite:
		fmt.Fprintf(w, "  Store:    SQLCipher (%s)\n", c.DatabasePath)
	case DocstoreFile:
		fmt.Fprintf(w, "  Store:    JSON file (%s)\n", c.DatabasePath)
	default:
		fmt.Fprintln(w, "  Store:    In-memory (--memory)")
	}

	if c.NoS3 {
		fmt.Fprintln(w, "  Sharing:  Mock S3 (--no-s3)")
	} else {
		fmt.Fprintf(w, "  Sharing:  S3 (endpoint: %s)\n", c.AWSEndpointS3)
	}

	fmt.Fprintf(w, "  Cookie:   %s\n", c.SessionCookieName)
	fmt.Fprintf(w, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintf(w, "  Base:     %s\n", c.BaseURL)
	fmt.Fprintln(w, "")
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
func MustLoadConfig(flags Flags) *Config {
	cfg, err := LoadConfig(flags)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
