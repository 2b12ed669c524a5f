package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mnehpets/govbr/session"
)

// Session keys.
const (
	attemptKey  = "auth.attempt"
	identityKey = "auth.user"
)

// Store is the per-session storage the login flow needs.
type Store interface {
	// SaveAttempt records attempt, replacing any earlier one.
	SaveAttempt(ctx context.Context, attempt LoginAttempt) error
	// TakeAttempt returns the stored attempt and removes it. ok is false if
	// there is none, it cannot be decoded or it has expired.
	TakeAttempt(ctx context.Context) (attempt LoginAttempt, ok bool, err error)
	SaveIdentity(ctx context.Context, id *Identity) error
	// Identity returns ErrNoIdentity when no identity is stored.
	Identity() (*Identity, error)
	// Invalidate drops every value and the session ID itself.
	Invalidate(ctx context.Context) error
}

// SessionStore adapts a request session to Store.
func SessionStore(s session.Session) Store {
	return &sessionStore{s: s}
}

type sessionStore struct {
	s session.Session
}

func (st *sessionStore) SaveAttempt(ctx context.Context, attempt LoginAttempt) error {
	data, err := cbor.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("auth: encoding login attempt: %w", err)
	}
	return st.s.Set(ctx, attemptKey, data)
}

func (st *sessionStore) TakeAttempt(ctx context.Context) (LoginAttempt, bool, error) {
	data, ok := st.s.Get(attemptKey)
	if !ok {
		return LoginAttempt{}, false, nil
	}
	if err := st.s.Delete(ctx, attemptKey); err != nil {
		return LoginAttempt{}, false, err
	}
	var attempt LoginAttempt
	if err := cbor.Unmarshal(data, &attempt); err != nil {
		return LoginAttempt{}, false, nil
	}
	if attempt.Expired(time.Now()) {
		return LoginAttempt{}, false, nil
	}
	return attempt, true, nil
}

func (st *sessionStore) SaveIdentity(ctx context.Context, id *Identity) error {
	if id == nil {
		return errors.New("auth: nil identity")
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return st.s.Set(ctx, identityKey, data)
}

func (st *sessionStore) Identity() (*Identity, error) {
	data, ok := st.s.Get(identityKey)
	if !ok {
		return nil, ErrNoIdentity
	}
	id, err := parseIdentity(data)
	if err != nil {
		return nil, fmt.Errorf("auth: stored identity: %w", err)
	}
	return id, nil
}

func (st *sessionStore) Invalidate(ctx context.Context) error {
	return st.s.Invalidate(ctx)
}
