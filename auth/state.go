package auth

import (
	"crypto/subtle"
	"time"
)

// DefaultAttemptTTL bounds how long a user may take at the provider before
// the callback is rejected.
const DefaultAttemptTTL = 10 * time.Minute

// LoginAttempt holds the correlation values of one in-flight login.
// It is stored in the session between the authorization redirect and the
// callback and is consumed by the first callback that reads it.
type LoginAttempt struct {
	State        string    `cbor:"1,keyasint"`
	Nonce        string    `cbor:"2,keyasint,omitempty"`
	CodeVerifier string    `cbor:"3,keyasint"`
	ExpiresAt    time.Time `cbor:"4,keyasint"`
}

// stateLength is the number of random bytes in the state and nonce values.
const stateLength = 32

// generateToken creates a random, URL-safe string.
// It is used for generating both the OAuth state parameter and the OIDC nonce.
func generateToken() string {
	return randomString(stateLength)
}

// NewLoginAttempt returns an attempt with fresh state, nonce and PKCE
// verifier, expiring after ttl.
func NewLoginAttempt(ttl time.Duration) LoginAttempt {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	return LoginAttempt{
		State:        generateToken(),
		Nonce:        generateToken(),
		CodeVerifier: GenerateCodeVerifier(),
		ExpiresAt:    time.Now().Add(ttl),
	}
}

// Expired reports whether the attempt is past its expiry at now.
func (a LoginAttempt) Expired(now time.Time) bool {
	return a.ExpiresAt.IsZero() || now.After(a.ExpiresAt)
}

// Matches reports whether state equals the attempt's state, in constant time.
// An empty state never matches.
func (a LoginAttempt) Matches(state string) bool {
	if state == "" || a.State == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(state), []byte(a.State)) == 1
}
