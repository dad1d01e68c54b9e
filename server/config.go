package server

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/tealflight/tealflight/authz"
	"gopkg.in/yaml.v3"
)

// AccessMode selects whether queries are authorized or trusted as-is.
type AccessMode string

const (
	AccessModeComplete   AccessMode = "complete"
	AccessModeRestricted AccessMode = "restricted"
)

// UserConfig is one static credential entry. Passwords are hashed at load
// time; the plain text never leaves config parsing.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Duration is a time.Duration that unmarshals from "5m"-style YAML strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RateLimitConfig configures authentication rate limiting.
type RateLimitConfig struct {
	MaxFailedAttempts   int      `yaml:"max-failed-attempts"`
	FailedAttemptWindow Duration `yaml:"failed-attempt-window"`
	BanDuration         Duration `yaml:"ban-duration"`
}

// Config is the fully resolved server configuration.
type Config struct {
	Host          string              `yaml:"host"`
	Port          int                 `yaml:"port"`
	DBPath        string              `yaml:"db-path"`
	WarehousePath string              `yaml:"warehouse-path"`
	AccessMode    AccessMode          `yaml:"access-mode"`
	Users         []UserConfig        `yaml:"users"`
	AccessRules   []authz.AccessRow   `yaml:"access-rules"`
	UserGroups    map[string][]string `yaml:"user-groups"`
	LoginURL      string              `yaml:"login_url"`
	FetchSize     int                 `yaml:"fetch-size"`
	TokenSecret   string              `yaml:"token-secret"`
	TokenTTL      Duration            `yaml:"token-ttl"`
	TLSCertFile   string              `yaml:"tls-cert"`
	TLSKeyFile    string              `yaml:"tls-key"`
	RateLimit     RateLimitConfig     `yaml:"rate-limit"`
	OTLPEndpoint  string              `yaml:"otlp-endpoint"`
	HandleIdleTTL Duration            `yaml:"handle-idle-ttl"`
}

// DefaultFetchSize caps rows per produced batch unless a call overrides it.
const DefaultFetchSize = 1024

// DefaultConfig returns the baseline every other source overrides.
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          32010,
		AccessMode:    AccessModeComplete,
		WarehousePath: "./warehouse",
		FetchSize:     DefaultFetchSize,
		TokenTTL:      Duration(12 * time.Hour),
		RateLimit: RateLimitConfig{
			MaxFailedAttempts:   5,
			FailedAttemptWindow: Duration(5 * time.Minute),
			BanDuration:         Duration(15 * time.Minute),
		},
	}
}

// LoadConfigFile reads a YAML config file over the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	switch c.AccessMode {
	case AccessModeComplete, AccessModeRestricted:
	default:
		return fmt.Errorf("invalid access-mode %q (want complete or restricted)", c.AccessMode)
	}
	if c.FetchSize <= 0 {
		return fmt.Errorf("invalid fetch-size: %d", c.FetchSize)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls-cert and tls-key must be set together")
	}
	return nil
}

// HashedUsers converts the static credential list to the SHA-256 digest map
// the authenticator compares against.
func (c *Config) HashedUsers() map[string][]byte {
	users := make(map[string][]byte, len(c.Users))
	for _, u := range c.Users {
		sum := sha256.Sum256([]byte(u.Password))
		users[u.Username] = sum[:]
	}
	return users
}

// ResolveTokenSecret returns the configured signing secret, generating a
// random per-run secret when none is set. Tokens then only survive one
// server lifetime, which is the intended default.
func (c *Config) ResolveTokenSecret() ([]byte, error) {
	if c.TokenSecret != "" {
		return []byte(c.TokenSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	return secret, nil
}
