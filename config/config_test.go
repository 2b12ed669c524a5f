package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"GOVBR_URL_PROVIDER":  "https://sso.staging.acesso.gov.br/",
		"GOVBR_URL_SERVICE":   "https://app.example.gov.br",
		"GOVBR_REDIRECT_URI":  "https://app.example.gov.br/openid",
		"GOVBR_SCOPES":        "openid email profile",
		"GOVBR_CLIENT_ID":     "client",
		"GOVBR_CLIENT_SECRET": "secret",
		"GOVBR_LOGOUT_URI":    "https://app.example.gov.br/logout/govbr",
	} {
		t.Setenv(k, v)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ProviderURL != "https://sso.staging.acesso.gov.br/" {
		t.Errorf("ProviderURL: got %q", cfg.ProviderURL)
	}
	if cfg.AuthorizeURL != "https://sso.staging.acesso.gov.br/authorize" ||
		cfg.TokenURL != "https://sso.staging.acesso.gov.br/token" ||
		cfg.UserinfoURL != "https://sso.staging.acesso.gov.br/userinfo" ||
		cfg.EndSessionURL != "https://sso.staging.acesso.gov.br/logout" {
		t.Errorf("derived endpoints: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Scopes, []string{"openid", "email", "profile"}) {
		t.Errorf("Scopes: got %q", cfg.Scopes)
	}
	if cfg.Port != 3000 || cfg.Addr() != ":3000" {
		t.Errorf("Port: got %d", cfg.Port)
	}
	if cfg.HTTPTimeout != 10*time.Second || cfg.LoginAttemptTTL != 10*time.Minute || cfg.SessionTTL != 24*time.Hour {
		t.Errorf("durations: %v %v %v", cfg.HTTPTimeout, cfg.LoginAttemptTTL, cfg.SessionTTL)
	}
	if cfg.SessionBackend != BackendMemory || cfg.SessionMaxEntries != 10000 {
		t.Errorf("session: %q %d", cfg.SessionBackend, cfg.SessionMaxEntries)
	}
	if cfg.SessionKey != nil {
		t.Error("SessionKey set without SESSION_KEY")
	}
	if !cfg.SecureCookies() {
		t.Error("SecureCookies: got false for https service")
	}
}

func TestFromEnv_Missing(t *testing.T) {
	for _, name := range Required {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(name, "")
			_, err := FromEnv()
			if !errors.Is(err, ErrMissing) {
				t.Fatalf("got %v want ErrMissing", err)
			}
			if !strings.Contains(err.Error(), name) {
				t.Fatalf("error does not name %s: %v", name, err)
			}
		})
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	key := make([]byte, 32)
	key[0] = 7
	t.Setenv("GOVBR_TOKEN_URL", "https://other.example/oauth/token")
	t.Setenv("GOVBR_SCOPES", "openid,email, govbr_confiabilidades")
	t.Setenv("GOVBR_URL_SERVICE", "http://localhost:3000")
	t.Setenv("SESSION_KEY", base64.StdEncoding.EncodeToString(key))
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("HTTP_TIMEOUT", "3s")
	t.Setenv("PORT", "8080")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.TokenURL != "https://other.example/oauth/token" {
		t.Errorf("TokenURL: got %q", cfg.TokenURL)
	}
	if cfg.AuthorizeURL != "https://sso.staging.acesso.gov.br/authorize" {
		t.Errorf("AuthorizeURL: got %q", cfg.AuthorizeURL)
	}
	if !reflect.DeepEqual(cfg.Scopes, []string{"openid", "email", "govbr_confiabilidades"}) {
		t.Errorf("Scopes: got %q", cfg.Scopes)
	}
	if cfg.SecureCookies() {
		t.Error("SecureCookies: got true for http service")
	}
	if cfg.SessionKey[0] != 7 || len(cfg.SessionKey) != 32 {
		t.Errorf("SessionKey: got %x", cfg.SessionKey)
	}
	if cfg.SessionBackend != BackendRedis || cfg.HTTPTimeout != 3*time.Second || cfg.Addr() != ":8080" {
		t.Errorf("overrides: %+v", cfg)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"short session key", "SESSION_KEY", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"bad session key", "SESSION_KEY", "!!!"},
		{"unknown backend", "SESSION_BACKEND", "etcd"},
		{"relative provider", "GOVBR_URL_PROVIDER", "/sso"},
		{"bad duration", "HTTP_TIMEOUT", "soon"},
		{"zero timeout", "HTTP_TIMEOUT", "0s"},
		{"only separators in scopes", "GOVBR_SCOPES", " , "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("GOVBR_CLIENT_ID", "")
	os.Unsetenv("GOVBR_CLIENT_ID")
	t.Cleanup(func() { os.Unsetenv("GOVBR_CLIENT_ID") })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GOVBR_CLIENT_ID=from-dotenv\nGOVBR_CLIENT_SECRET=ignored\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientID != "from-dotenv" {
		t.Errorf("ClientID: got %q", cfg.ClientID)
	}
	// The process environment wins over .env.
	if cfg.ClientSecret != "secret" {
		t.Errorf("ClientSecret: got %q", cfg.ClientSecret)
	}
}

func TestLoad_NoDotEnv(t *testing.T) {
	setRequired(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestParseScopes(t *testing.T) {
	tests := map[string][]string{
		"openid":                   {"openid"},
		"openid email":             {"openid", "email"},
		"openid,email":             {"openid", "email"},
		"  openid ,  email\tphone": {"openid", "email", "phone"},
		"":                         {},
	}
	for in, want := range tests {
		if got := ParseScopes(in); !reflect.DeepEqual(got, want) {
			t.Errorf("ParseScopes(%q): got %q want %q", in, got, want)
		}
	}
}
