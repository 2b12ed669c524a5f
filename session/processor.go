package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/mnehpets/govbr/endpoint"
	"github.com/rs/zerolog"
)

// Processor is an endpoint processor that resolves the request's session from
// its cookie and exposes it through the request context.
//
// Cookie changes (new session ID, invalidation) are written just before the
// response headers via endpoint.Defer.
type Processor struct {
	cookie  *Cookie
	backend Backend
	ttl     time.Duration
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*processorConfig)

type processorConfig struct {
	cookieName    string
	cookieOptions []CookieOption
	ttl           time.Duration
}

// WithCookieName sets the name of the session cookie.
func WithCookieName(name string) ProcessorOption {
	return func(c *processorConfig) {
		c.cookieName = name
	}
}

// WithCookieOptions adds CookieOptions to the session cookie.
func WithCookieOptions(opts ...CookieOption) ProcessorOption {
	return func(c *processorConfig) {
		c.cookieOptions = append(c.cookieOptions, opts...)
	}
}

// WithTTL sets the lifetime of newly created sessions.
func WithTTL(d time.Duration) ProcessorOption {
	return func(c *processorConfig) {
		c.ttl = d
	}
}

// NewProcessor returns a Processor storing sessions in backend and sealing
// session IDs with keys[keyID].
func NewProcessor(backend Backend, keyID string, keys map[string][]byte, opts ...ProcessorOption) (*Processor, error) {
	if backend == nil {
		return nil, errors.New("session backend is required")
	}
	cfg := processorConfig{
		cookieName: DefaultCookieName,
		ttl:        DefaultTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	codec, err := NewCodec(keyID, keys)
	if err != nil {
		return nil, err
	}
	cookie, err := NewCookie(cfg.cookieName, codec, cfg.cookieOptions...)
	if err != nil {
		return nil, err
	}
	return &Processor{cookie: cookie, backend: backend, ttl: cfg.ttl}, nil
}

// Process implements endpoint.Processor.
func (p *Processor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	ctx := r.Context()
	sess := &session{backend: p.backend, ttl: p.ttl}

	if c, err := r.Cookie(p.cookie.Name()); err == nil {
		id, err := p.cookie.Decode(c)
		if err != nil {
			// Tampered, foreign key or malformed: drop it.
			zerolog.Ctx(ctx).Debug().Err(err).Msg("discarding session cookie")
			sess.cookieDirty = true
		} else {
			rec, err := p.backend.Load(ctx, id)
			if err != nil {
				return endpoint.Error(http.StatusServiceUnavailable, "session store unavailable", err)
			}
			if rec == nil || rec.Expired(time.Now()) {
				sess.cookieDirty = true
			} else {
				sess.rec = rec
			}
		}
	}

	endpoint.Defer(ctx, func(w http.ResponseWriter) {
		p.maybeSetCookie(w, sess, zerolog.Ctx(ctx))
	})

	*r = *r.WithContext(WithSession(ctx, sess))
	return next(w, r)
}

func (p *Processor) maybeSetCookie(w http.ResponseWriter, sess *session, log *zerolog.Logger) {
	if !sess.cookieDirty {
		return
	}
	if sess.rec == nil {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	maxAge := int(time.Until(sess.rec.Expires).Seconds())
	if maxAge <= 0 {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	c, err := p.cookie.Encode(sess.rec.ID, maxAge)
	if err != nil {
		// The record is already persisted; without a cookie the browser simply
		// starts a new session on its next request.
		log.Error().Err(err).Msg("sealing session cookie")
		return
	}
	http.SetCookie(w, c)
}

var _ endpoint.Processor = (*Processor)(nil)
