package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersProcessor_Defaults(t *testing.T) {
	p := NewSecurityHeadersProcessor()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/user", nil)

	nextCalled := false
	err := p.Process(w, r, func(w http.ResponseWriter, r *http.Request) error {
		nextCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !nextCalled {
		t.Fatal("next was not called")
	}

	want := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Referrer-Policy":           "no-referrer",
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeadersProcessor_Options(t *testing.T) {
	p := NewSecurityHeadersProcessor(
		WithoutHSTS(),
		WithReferrerPolicy(""),
		WithCSP("default-src 'self'"),
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	_ = p.Process(w, r, func(http.ResponseWriter, *http.Request) error { return nil })

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS: got %q, want empty", got)
	}
	if _, ok := w.Header()["Referrer-Policy"]; ok {
		t.Error("Referrer-Policy set although disabled")
	}
	if got := w.Header().Get("Content-Security-Policy"); got != "default-src 'self'" {
		t.Errorf("CSP: got %q", got)
	}
}

func TestFormatHSTS(t *testing.T) {
	tests := []struct {
		name string
		cfg  *HSTSConfig
		want string
	}{
		{"nil", nil, ""},
		{"zero max-age", &HSTSConfig{MaxAge: 0, IncludeSubDomains: true}, ""},
		{"plain", &HSTSConfig{MaxAge: 60}, "max-age=60"},
		{"all", &HSTSConfig{MaxAge: 60, IncludeSubDomains: true, Preload: true}, "max-age=60; includeSubDomains; preload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatHSTS(tt.cfg); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeadersProcessor_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	p := NewSecurityHeadersProcessor()
	w := httptest.NewRecorder()
	err := p.Process(w, httptest.NewRequest("GET", "/", nil), func(http.ResponseWriter, *http.Request) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("headers not set before error")
	}
}
