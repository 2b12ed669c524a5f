// Package config loads the process configuration from the environment.
//
// A .env file in the working directory, when present, is loaded first;
// variables already set in the environment take precedence over it.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ErrMissing is returned when a required variable is absent or empty.
var ErrMissing = errors.New("config: required environment variable missing")

// Session backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the immutable process configuration.
type Config struct {
	// ProviderURL is kept verbatim; discovery compares it with the issuer
	// the provider reports.
	ProviderURL  string `env:"GOVBR_URL_PROVIDER,required"`
	ServiceURL   string `env:"GOVBR_URL_SERVICE,required"`
	RedirectURI  string `env:"GOVBR_REDIRECT_URI,required"`
	RawScopes    string `env:"GOVBR_SCOPES,required"`
	ClientID     string `env:"GOVBR_CLIENT_ID,required"`
	ClientSecret string `env:"GOVBR_CLIENT_SECRET,required"`
	LogoutURI    string `env:"GOVBR_LOGOUT_URI,required"`

	// Endpoint overrides. Empty selects ProviderURL plus the gov.br path.
	AuthorizeURL  string `env:"GOVBR_AUTHORIZE_URL"`
	TokenURL      string `env:"GOVBR_TOKEN_URL"`
	UserinfoURL   string `env:"GOVBR_USERINFO_URL"`
	EndSessionURL string `env:"GOVBR_END_SESSION_URL"`
	Discovery     bool   `env:"GOVBR_DISCOVERY,default=false"`

	Port            int           `env:"PORT,default=3000"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT,default=10s"`
	LoginAttemptTTL time.Duration `env:"LOGIN_ATTEMPT_TTL,default=10m"`

	SessionTTL        time.Duration `env:"SESSION_TTL,default=24h"`
	RawSessionKey     string        `env:"SESSION_KEY"`
	SessionBackend    string        `env:"SESSION_BACKEND,default=memory"`
	SessionMaxEntries int           `env:"SESSION_MAX_ENTRIES,default=10000"`

	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=govbr:session:"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// Derived by Load.
	Scopes     []string
	SessionKey []byte
}

// Load reads .env files (default ".env"), decodes the environment into a
// Config and validates it. A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}
	return FromEnv()
}

// Required lists the variables without which the service cannot start.
var Required = []string{
	"GOVBR_URL_PROVIDER",
	"GOVBR_URL_SERVICE",
	"GOVBR_REDIRECT_URI",
	"GOVBR_SCOPES",
	"GOVBR_CLIENT_ID",
	"GOVBR_CLIENT_SECRET",
	"GOVBR_LOGOUT_URI",
}

// FromEnv decodes and validates the current environment.
func FromEnv() (*Config, error) {
	var missing []string
	for _, name := range Required {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	for _, u := range []struct{ name, value string }{
		{"GOVBR_URL_PROVIDER", c.ProviderURL},
		{"GOVBR_URL_SERVICE", c.ServiceURL},
		{"GOVBR_REDIRECT_URI", c.RedirectURI},
	} {
		if err := checkAbsURL(u.value); err != nil {
			return fmt.Errorf("config: %s: %w", u.name, err)
		}
	}

	c.Scopes = ParseScopes(c.RawScopes)
	if len(c.Scopes) == 0 {
		return fmt.Errorf("%w: GOVBR_SCOPES", ErrMissing)
	}

	base := strings.TrimRight(c.ProviderURL, "/")
	defaultURL(&c.AuthorizeURL, base+"/authorize")
	defaultURL(&c.TokenURL, base+"/token")
	defaultURL(&c.UserinfoURL, base+"/userinfo")
	defaultURL(&c.EndSessionURL, base+"/logout")

	if c.HTTPTimeout <= 0 {
		return errors.New("config: HTTP_TIMEOUT must be positive")
	}
	if c.LoginAttemptTTL <= 0 {
		return errors.New("config: LOGIN_ATTEMPT_TTL must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}

	switch c.SessionBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("config: SESSION_BACKEND %q: want %q or %q", c.SessionBackend, BackendMemory, BackendRedis)
	}

	if c.RawSessionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.RawSessionKey)
		if err != nil {
			key, err = base64.RawURLEncoding.DecodeString(c.RawSessionKey)
		}
		if err != nil {
			return fmt.Errorf("config: SESSION_KEY: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("config: SESSION_KEY: got %d bytes, want 32", len(key))
		}
		c.SessionKey = key
	}
	return nil
}

// SecureCookies reports whether the service is served over https.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.ServiceURL), "https://")
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParseScopes splits a scope list separated by spaces or commas.
func ParseScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func defaultURL(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func checkAbsURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}
