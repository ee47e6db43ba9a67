package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"anonreport/internal/apperr"

	"github.com/joho/godotenv"
)

const devReceiptSecret = "dev-secret-change-in-production"

// Load reads .env from the current directory and sets env vars.
// Safe to call multiple times; existing env vars are not overwritten.
func Load() error {
	return godotenv.Load()
}

// Validate reports the first setting that prevents the server from starting.
func Validate() error {
	if AdminKey() == "" {
		return &apperr.ConfigError{Key: "ADMIN_KEY", Reason: "required"}
	}
	if v := os.Getenv("ROOT_WINDOW_DIGESTS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n < 1 {
			return &apperr.ConfigError{Key: "ROOT_WINDOW_DIGESTS", Reason: "must be a positive integer"}
		}
	}
	if v := os.Getenv("ROOT_WINDOW_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return &apperr.ConfigError{Key: "ROOT_WINDOW_MAX_AGE", Reason: "must be a positive duration"}
		}
	}
	scope := NullifierScope()
	if scope != "content" && !strings.HasPrefix(scope, "tag:") {
		return &apperr.ConfigError{Key: "NULLIFIER_SCOPE", Reason: `must be "content" or "tag:<value>"`}
	}
	if scope == "tag:" {
		return &apperr.ConfigError{Key: "NULLIFIER_SCOPE", Reason: "tag must be non-empty"}
	}
	return nil
}

// Addr returns the listen address derived from PORT.
func Addr() string {
	port := os.Getenv("PORT")
	if port == "" {
		return ":8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// AdminKey returns the key that gates enroll/revoke and audit routes.
func AdminKey() string {
	return os.Getenv("ADMIN_KEY")
}

// ReceiptSecret returns the secret for signing submission receipts (RECEIPT_SECRET).
// If unset, returns a dev default and callers should log a warning.
func ReceiptSecret() string {
	s := os.Getenv("RECEIPT_SECRET")
	if s == "" {
		return devReceiptSecret
	}
	return s
}

// DataDir returns the root directory for local state.
func DataDir() string {
	if v := os.Getenv("DATA_DIR"); v != "" {
		return v
	}
	return "data"
}

// ContentDir returns the directory of the content-addressed blob store.
func ContentDir() string {
	if v := os.Getenv("CONTENT_DIR"); v != "" {
		return v
	}
	return filepath.Join(DataDir(), "content")
}

// KeysDir returns the directory holding the groth16 proving and verifying keys.
func KeysDir() string {
	if v := os.Getenv("KEYS_DIR"); v != "" {
		return v
	}
	return filepath.Join(DataDir(), "keys")
}

// StateFile returns the snapshot file used by the in-process store.
func StateFile() string {
	if v := os.Getenv("STATE_FILE"); v != "" {
		return v
	}
	return filepath.Join(DataDir(), "state.cbor")
}

// TriageCacheDir returns the directory for cached triage results.
func TriageCacheDir() string {
	if v := os.Getenv("TRIAGE_CACHE_DIR"); v != "" {
		return v
	}
	return filepath.Join(DataDir(), "triage")
}

// DatabaseURL returns the Postgres DSN. Empty selects the in-process store.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// GeminiAPIKey returns the Google Gemini API key. Empty disables triage.
func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

// GeminiModel returns the triage model name.
func GeminiModel() string {
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		return v
	}
	return "gemini-2.5-flash"
}

// RootWindowDigests returns how many membership digests stay acceptable.
func RootWindowDigests() int {
	if v := os.Getenv("ROOT_WINDOW_DIGESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 16
}

// RootWindowMaxAge returns how long a superseded digest stays acceptable.
func RootWindowMaxAge() time.Duration {
	if v := os.Getenv("ROOT_WINDOW_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 10 * time.Minute
}

// NullifierScope returns "content" or "tag:<value>".
func NullifierScope() string {
	if v := strings.TrimSpace(os.Getenv("NULLIFIER_SCOPE")); v != "" {
		return v
	}
	return "content"
}

// ListPageMax returns the largest page served by the listing endpoint.
func ListPageMax() int {
	if v := os.Getenv("LIST_PAGE_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 100
}

// LogLevel returns the zerolog level name.
func LogLevel() string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// LogFormat returns "console" or "json".
func LogFormat() string {
	if v := os.Getenv("LOG_FORMAT"); v == "json" {
		return v
	}
	return "console"
}
