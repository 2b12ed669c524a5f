package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// CodeChallengeMethod is the only PKCE method this client sends.
const CodeChallengeMethod = "S256"

// pkceVerifierLength is the number of random bytes used to generate the PKCE verifier.
// 32 bytes of random data results in a 43 character string (using RawURLEncoding), satisfying the
// RFC 7636 requirement (min 43 characters).
const pkceVerifierLength = 32

// GenerateCodeVerifier returns a fresh PKCE code verifier.
//
// It panics if the system random source fails; no login can proceed safely
// without it.
func GenerateCodeVerifier() string {
	return randomString(pkceVerifierLength)
}

// GenerateCodeChallenge returns the S256 challenge for verifier:
// base64url(SHA-256(verifier)) without padding.
func GenerateCodeChallenge(verifier string) string {
	s := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("auth: reading random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
