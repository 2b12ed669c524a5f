// Package session provides a per-user-agent key/value session.
//
// The browser holds only a sealed session ID cookie. Session data lives in a
// Backend (in-memory or Redis) and every mutation is written through to the
// backend before the call returns, so a value set while handling one request
// is visible to the next request carrying the same cookie, including the one
// that follows a redirect.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"
)

var ErrNilSession = errors.New("nil session")

// IDBytes is the number of random bytes in a session ID.
//
// 32 bytes -> 43 chars raw URL base64.
const IDBytes = 32

// DefaultTTL is the default session lifetime.
const DefaultTTL = 24 * time.Hour

// DefaultCookieName is the default name of the session cookie.
const DefaultCookieName = "govbr_sid"

// Record is the persisted form of a session.
type Record struct {
	ID      string            `cbor:"1,keyasint"`
	Expires time.Time         `cbor:"2,keyasint"`
	Values  map[string][]byte `cbor:"3,keyasint,omitempty"`
}

// Expired reports whether the record is past its expiry at now.
func (rec *Record) Expired(now time.Time) bool {
	return rec == nil || rec.Expires.IsZero() || !now.Before(rec.Expires)
}

func (rec *Record) clone() *Record {
	if rec == nil {
		return nil
	}
	c := *rec
	c.Values = make(map[string][]byte, len(rec.Values))
	for k, v := range rec.Values {
		c.Values[k] = append([]byte(nil), v...)
	}
	return &c
}

// Backend persists session records by ID.
//
// Load returns (nil, nil) when no record exists. Implementations must be safe
// for concurrent use.
type Backend interface {
	Load(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id string) error
}

// Session is request-scoped access to the current user agent's session.
type Session interface {
	// ID returns the session identifier, or "" if no session exists yet.
	ID() string
	// Get returns the raw value stored under key.
	Get(key string) ([]byte, bool)
	// Set stores value under key, creating the session if needed, and
	// persists it before returning.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key and persists the change. Missing keys are a no-op.
	Delete(ctx context.Context, key string) error
	// Invalidate destroys the session and all its values. A later Set starts
	// a new session under a fresh ID.
	Invalidate(ctx context.Context) error
	// Expires returns the session expiry, or the zero time if none exists.
	Expires() time.Time
}

type session struct {
	backend Backend
	ttl     time.Duration
	rec     *Record
	// cookieDirty is set when the ID the browser holds must change.
	cookieDirty bool
}

func (s *session) ID() string {
	if s == nil || s.rec == nil {
		return ""
	}
	return s.rec.ID
}

func (s *session) Get(key string) ([]byte, bool) {
	if s == nil || s.rec == nil {
		return nil, false
	}
	v, ok := s.rec.Values[key]
	return v, ok
}

func (s *session) Set(ctx context.Context, key string, value []byte) error {
	if s == nil {
		return ErrNilSession
	}
	next := s.rec.clone()
	if next == nil {
		id, err := NewID()
		if err != nil {
			return err
		}
		next = &Record{
			ID:      id,
			Expires: time.Now().Truncate(time.Second).Add(s.ttl),
			Values:  map[string][]byte{},
		}
	}
	next.Values[key] = append([]byte(nil), value...)
	if err := s.backend.Save(ctx, next); err != nil {
		return err
	}
	if s.rec == nil || s.rec.ID != next.ID {
		s.cookieDirty = true
	}
	s.rec = next
	return nil
}

func (s *session) Delete(ctx context.Context, key string) error {
	if s == nil {
		return ErrNilSession
	}
	if s.rec == nil {
		return nil
	}
	if _, ok := s.rec.Values[key]; !ok {
		return nil
	}
	next := s.rec.clone()
	delete(next.Values, key)
	if err := s.backend.Save(ctx, next); err != nil {
		return err
	}
	s.rec = next
	return nil
}

func (s *session) Invalidate(ctx context.Context) error {
	if s == nil {
		return ErrNilSession
	}
	if s.rec != nil {
		if err := s.backend.Delete(ctx, s.rec.ID); err != nil {
			return err
		}
	}
	s.rec = nil
	s.cookieDirty = true
	return nil
}

func (s *session) Expires() time.Time {
	if s == nil || s.rec == nil {
		return time.Time{}
	}
	return s.rec.Expires
}

// NewID returns a random session identifier.
func NewID() (string, error) {
	b := make([]byte, IDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type sessionContextKey struct{}

// WithSession stores sess in ctx and returns the derived context.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// FromContext returns the Session stored in ctx, if any.
func FromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok || sess == nil {
		return nil, false
	}
	return sess, true
}

var _ Session = (*session)(nil)
