// Package config captures the coordinator's external configuration, loaded
// once from the environment at process start: a flat struct, a Clone for
// tests, an IsValid that reports the first problem, and Get* accessors
// carrying defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config is the coordinator's full runtime configuration.
type Config struct {
	// HTTP
	ListenAddr string

	// Database
	DatabaseURL string

	// Chat gateway (Slack-shaped)
	SlackBotToken      string
	SlackSigningSecret string
	SlackAllowUnsigned bool
	SignatureTTLSeconds int
	ApprovalChannel    string

	// Operator HTTP surface
	APIAuthToken string // empty disables bearer auth (local development only)

	// Credential store
	CredentialEncryptionKey string // deployment secret; the credential store uses its SHA-256 as the 32-byte key
	GoogleOAuthClientID     string
	GoogleOAuthClientSecret string

	// External action executor
	EmailProvider           string
	CalendarProvider        string
	HRProvider              string
	HRAPIURL                string
	DefaultEmailTo          string
	DefaultEmailFrom        string
	DefaultCalendarAttendee string
	DefaultCalendarTimezone string
	DefaultOwnerEmail       string

	// Watchdog
	WatchdogIntervalSeconds int

	// Demo driver
	DemoInvitees  []string
	DemoApprovers []string // empty allows any actor

	EnableDebugLogging bool
}

// Clone shallow copies the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// IsValid checks that required configuration is present and well-formed,
// returning the first problem found.
func (c *Config) IsValid() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.CredentialEncryptionKey == "" {
		return errors.New("CREDENTIAL_ENCRYPTION_KEY is required")
	}
	if c.WatchdogIntervalSeconds < 10 {
		return errors.Errorf("watchdog interval must be at least 10 seconds, got %d", c.WatchdogIntervalSeconds)
	}
	if c.SignatureTTLSeconds <= 0 {
		return errors.Errorf("signature TTL must be positive, got %d", c.SignatureTTLSeconds)
	}
	return nil
}

// GetWatchdogInterval returns the watchdog poll interval, defaulting to 300s
// if unset or below the minimum.
func (c *Config) GetWatchdogInterval() time.Duration {
	if c.WatchdogIntervalSeconds < 10 {
		return 300 * time.Second
	}
	return time.Duration(c.WatchdogIntervalSeconds) * time.Second
}

// GetSignatureTTL returns the webhook signature TTL, defaulting to 300s.
func (c *Config) GetSignatureTTL() time.Duration {
	if c.SignatureTTLSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.SignatureTTLSeconds) * time.Second
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:              getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		SlackBotToken:           os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret:      os.Getenv("SLACK_SIGNING_SECRET"),
		SlackAllowUnsigned:      boolFromStr(os.Getenv("SLACK_ALLOW_UNSIGNED")),
		SignatureTTLSeconds:     intFromStr(os.Getenv("SIGNATURE_TTL_SECONDS"), 300),
		ApprovalChannel:         getEnv("APPROVAL_CHANNEL", "#approvals"),
		APIAuthToken:            os.Getenv("API_AUTH_TOKEN"),
		CredentialEncryptionKey: os.Getenv("CREDENTIAL_ENCRYPTION_KEY"),
		GoogleOAuthClientID:     os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
		GoogleOAuthClientSecret: os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
		EmailProvider:           getEnv("EMAIL_PROVIDER", "mock"),
		CalendarProvider:        getEnv("CALENDAR_PROVIDER", "mock"),
		HRProvider:              getEnv("HR_PROVIDER", "mock"),
		HRAPIURL:                os.Getenv("HR_API_URL"),
		DefaultEmailTo:          getEnv("EMAIL_DEFAULT_TO", "manager@example.com"),
		DefaultEmailFrom:        getEnv("EMAIL_DEFAULT_FROM", "no-reply@coordinator.local"),
		DefaultCalendarAttendee: getEnv("CALENDAR_DEFAULT_ATTENDEE", ""),
		DefaultCalendarTimezone: getEnv("CALENDAR_DEFAULT_TIMEZONE", "Asia/Tokyo"),
		DefaultOwnerEmail:       getEnv("DEFAULT_OWNER_EMAIL", "owner@example.com"),
		WatchdogIntervalSeconds: intFromStr(os.Getenv("WATCHDOG_INTERVAL_SECONDS"), 300),
		DemoInvitees:            splitList(os.Getenv("DEMO_INVITEE_EMAILS")),
		DemoApprovers:           splitList(os.Getenv("DEMO_APPROVER_IDS")),
		EnableDebugLogging:      boolFromStr(os.Getenv("ENABLE_DEBUG_LOGGING")),
	}
	if cfg.DefaultCalendarAttendee == "" {
		cfg.DefaultCalendarAttendee = cfg.DefaultEmailTo
	}
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// boolFromStr converts an environment string ("true"/"false") to bool.
func boolFromStr(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

// splitList parses a comma-separated environment value, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intFromStr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
