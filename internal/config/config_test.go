package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/ratelimit"
	"pgregory.net/rapid"
)

func validTestConfig() Config {
	return Config{
		NoIDP:             true,
		NoS3:              true,
		Docstore:          DocstoreMemory,
		SessionCookieName: "__session",
		SessionDuration:   24 * time.Hour,
		RequestTimeout:    10 * time.Second,
		RateLimitConfig:   ratelimit.DefaultConfig,
	}
}

func TestValidate_TestModeMinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid test-mode config, got error: %v", err)
	}
}

func TestValidate_RequiresServiceSecretsWhenNotMocked(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.NoIDP = false
	cfg.NoS3 = false
	cfg.Docstore = DocstoreSQLite

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when hosted services are enabled without secrets")
	}
	msg := err.Error()
	for _, expected := range []string{
		"FIREBASE_PROJECT_ID",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"MASTER_KEY",
		"AWS_ENDPOINT_URL_S3",
		"AWS_ACCESS_KEY_ID",
	} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Docstore = DocstorePostgres
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
	cfg.DatabaseURL = "postgres://localhost/listsmart"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownDocstore(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Docstore = "firestore"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DOCSTORE") {
		t.Fatalf("expected DOCSTORE error, got %v", err)
	}
}

func testValidate_RejectsShortMasterKey(t *rapid.T) {
	cfg := validTestConfig()
	cfg.Docstore = DocstoreSQLite
	cfg.MasterKey = strings.Repeat("a", rapid.IntRange(1, 63).Draw(t, "master_key_len"))

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "MASTER_KEY") {
		t.Fatalf("expected MASTER_KEY length error, got %v", err)
	}
}

func TestValidate_RejectsShortMasterKey(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsShortMasterKey)
}

func testValidate_SessionDurationBounds(t *rapid.T) {
	cfg := validTestConfig()
	minutes := rapid.IntRange(0, 30*24*60).Draw(t, "minutes")
	cfg.SessionDuration = time.Duration(minutes) * time.Minute

	err := cfg.Validate()
	inRange := cfg.SessionDuration >= 5*time.Minute && cfg.SessionDuration <= 14*24*time.Hour
	if inRange && err != nil {
		t.Fatalf("duration %v rejected: %v", cfg.SessionDuration, err)
	}
	if !inRange && err == nil {
		t.Fatalf("duration %v accepted", cfg.SessionDuration)
	}
}

func TestValidate_SessionDurationBounds(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_SessionDurationBounds)
}

func TestParseFlags_TestModeEnablesStandIns(t *testing.T) {
	t.Parallel()
	f, err := ParseFlags([]string{"--test", "--addr", ":9090"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !f.NoIDP || !f.Memory || !f.NoS3 || f.Addr != ":9090" {
		t.Fatalf("unexpected flags: %+v", f)
	}
}

func TestLoadConfig_EnvironmentDefaults(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("SESSION_COOKIE_NAME", "")
	t.Setenv("BASE_URL", "")
	t.Setenv("FIREBASE_PROJECT_ID", "listsmart-test")
	t.Setenv("SESSION_ISSUER", "")

	cfg, err := LoadConfig(Flags{NoIDP: true, Memory: true, NoS3: true})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":7070" || cfg.BaseURL != "http://localhost:7070" {
		t.Fatalf("listen/base mismatch: %q %q", cfg.ListenAddr, cfg.BaseURL)
	}
	if cfg.SessionCookieName != "__session" {
		t.Fatalf("cookie name = %q", cfg.SessionCookieName)
	}
	if cfg.SessionIssuer != "https://session.firebase.google.com/listsmart-test" {
		t.Fatalf("issuer = %q", cfg.SessionIssuer)
	}
	if cfg.Docstore != DocstoreMemory {
		t.Fatalf("docstore = %q", cfg.Docstore)
	}
	if cfg.RequireSecureCookies() {
		t.Fatal("localhost must not require secure cookies")
	}

	var buf bytes.Buffer
	cfg.PrintStartupSummary(&buf)
	if !strings.Contains(buf.String(), "In-memory (--memory)") {
		t.Fatalf("summary missing store line: %s", buf.String())
	}
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-an-int")
	t.Setenv("CFG_TEST_FLOAT", "not-a-float")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	if got := parseIntOrDefault("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("parseIntOrDefault fallback mismatch: got=%d want=7", got)
	}
	if got := parseFloat64OrDefault("CFG_TEST_FLOAT", 3.5); got != 3.5 {
		t.Fatalf("parseFloat64OrDefault fallback mismatch: got=%v want=3.5", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v want=%v", got, 2*time.Minute)
	}
}

func TestGetEnvOrDefault_TrimsWhitespace(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "   value   ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnvOrDefault trim mismatch: got=%q want=%q", got, "value")
	}
}
