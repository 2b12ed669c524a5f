package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid session cookie format")
	ErrCookieInvalid = errors.New("invalid session cookie")
	ErrCookieConfig  = errors.New("invalid secure cookie configuration")
)

// maxCookieLen bounds the attacker-controlled data decoded from a cookie value.
const maxCookieLen = 4096

// KeySize is the key length (in bytes) required by the default AEAD.
const KeySize = chacha20poly1305.KeySize

// Codec seals and opens cookie values with an AEAD.
//
// Format: [keyID] "." base64url(nonce || AEAD.Seal(plaintext, aad)).
// Keys holds every accepted key; KeyID selects the key used for sealing, so
// keys can be rotated by adding a new ID and switching KeyID.
type Codec struct {
	KeyID string
	Keys  map[string][]byte

	newAEAD func(key []byte) (cipher.AEAD, error)
}

// NewCodec creates a Codec using XChaCha20-Poly1305.
func NewCodec(keyID string, keys map[string][]byte) (*Codec, error) {
	return newCodec(keyID, keys, chacha20poly1305.NewX)
}

func newCodec(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Codec, error) {
	if keys == nil {
		return nil, errors.New("keys must not be nil")
	}
	if _, ok := keys[keyID]; !ok {
		return nil, errors.New("keyID not found in keys")
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", id, err)
		}
	}
	return &Codec{KeyID: keyID, Keys: keys, newAEAD: newAEAD}, nil
}

// Seal encrypts plain, binding it to aad.
func (c *Codec) Seal(plain, aad []byte) (string, error) {
	if c == nil {
		return "", ErrCookieConfig
	}
	key, ok := c.Keys[c.KeyID]
	if !ok {
		return "", ErrCookieConfig
	}
	aead, err := c.newAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return c.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (c *Codec) Open(value string, aad []byte) ([]byte, error) {
	if c == nil {
		return nil, ErrCookieConfig
	}
	if len(value) == 0 || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return nil, ErrCookieFormat
	}
	key, ok := c.Keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return nil, ErrCookieFormat
	}
	aead, err := c.newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return plain, nil
}

// Cookie carries a sealed session ID.
type Cookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	codec *Codec
}

// CookieOption configures a Cookie.
type CookieOption func(*Cookie)

// WithPath configures the cookie path.
func WithPath(path string) CookieOption {
	return func(c *Cookie) {
		c.path = path
	}
}

// WithDomain configures the cookie domain.
func WithDomain(domain string) CookieOption {
	return func(c *Cookie) {
		c.domain = domain
	}
}

// WithSecure configures the cookie secure flag.
func WithSecure(secure bool) CookieOption {
	return func(c *Cookie) {
		c.secure = secure
	}
}

// WithSameSite configures the cookie SameSite attribute.
//
// The callback arrives as a top-level cross-site navigation from the
// provider, so Strict would drop the cookie; Lax is the default.
func WithSameSite(sameSite http.SameSite) CookieOption {
	return func(c *Cookie) {
		c.sameSite = sameSite
	}
}

// NewCookie creates a Cookie.
//
// Defaults: Path "/", HttpOnly, Secure, SameSite=Lax.
func NewCookie(name string, codec *Codec, opts ...CookieOption) (*Cookie, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: nil codec", ErrCookieConfig)
	}
	c := &Cookie{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		codec:    codec,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path == "" {
		c.path = "/"
	}
	return c, nil
}

// Name returns the cookie name.
func (c *Cookie) Name() string {
	return c.name
}

// aad binds the sealed value to the cookie name, domain, path and secure flag.
func (c *Cookie) aad() []byte {
	secureStr := "f"
	if c.secure {
		secureStr = "t"
	}
	return []byte(c.name + ":" + c.domain + ":" + c.path + ":" + secureStr)
}

// Encode seals id into a cookie that expires after maxAge seconds.
func (c *Cookie) Encode(id string, maxAge int) (*http.Cookie, error) {
	if maxAge <= 0 {
		return nil, ErrCookieInvalid
	}
	val, err := c.codec.Seal([]byte(id), c.aad())
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    val,
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   maxAge,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
	}, nil
}

// Decode opens the cookie and returns the session ID it carries.
func (c *Cookie) Decode(cookie *http.Cookie) (string, error) {
	if cookie == nil {
		return "", ErrCookieFormat
	}
	plain, err := c.codec.Open(cookie.Value, c.aad())
	if err != nil {
		return "", err
	}
	if len(plain) == 0 {
		return "", ErrCookieInvalid
	}
	return string(plain), nil
}

// Clear returns a cookie that removes this cookie from the client.
func (c *Cookie) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Domain:   c.domain,
		Path:     c.path,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite,
		Value:    "",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}
