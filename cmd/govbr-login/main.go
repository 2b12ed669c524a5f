// Command govbr-login serves the gov.br login flow: /login, /openid,
// /logout and /user.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/govbr/auth"
	"github.com/mnehpets/govbr/config"
	"github.com/mnehpets/govbr/logging"
	"github.com/mnehpets/govbr/middleware"
	"github.com/mnehpets/govbr/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const sessionKeyID = "k1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("govbr-login failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	handler, err := newHandler(ctx, cfg, logger, backend)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logger.Info().Str("addr", srv.Addr).Str("session_backend", cfg.SessionBackend).Msg("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

// newHandler wires the auth client and its processors.
func newHandler(ctx context.Context, cfg *config.Config, logger zerolog.Logger, backend session.Backend) (http.Handler, error) {
	pc := providerConfig(cfg)
	if cfg.Discovery {
		hc := &http.Client{Timeout: cfg.HTTPTimeout}
		if err := auth.Discover(oidc.ClientContext(ctx, hc), cfg.ProviderURL, pc); err != nil {
			return nil, err
		}
	}
	client, err := auth.NewClient(pc,
		auth.WithTimeout(cfg.HTTPTimeout),
		auth.WithAttemptTTL(cfg.LoginAttemptTTL),
	)
	if err != nil {
		return nil, err
	}

	key := cfg.SessionKey
	if key == nil {
		key = make([]byte, session.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		logger.Warn().Msg("SESSION_KEY not set; sessions will not survive a restart")
	}
	sessions, err := session.NewProcessor(backend, sessionKeyID, map[string][]byte{sessionKeyID: key},
		session.WithTTL(cfg.SessionTTL),
		session.WithCookieOptions(session.WithSecure(cfg.SecureCookies())),
	)
	if err != nil {
		return nil, err
	}

	headers := middleware.NewSecurityHeadersProcessor()
	if !cfg.SecureCookies() {
		headers = middleware.NewSecurityHeadersProcessor(middleware.WithoutHSTS())
	}

	return auth.NewHandler(client,
		middleware.NewRequestLogger(logger),
		headers,
		sessions,
	), nil
}

func providerConfig(cfg *config.Config) *auth.ProviderConfig {
	return &auth.ProviderConfig{
		AuthorizationEndpoint: cfg.AuthorizeURL,
		TokenEndpoint:         cfg.TokenURL,
		UserinfoEndpoint:      cfg.UserinfoURL,
		EndSessionEndpoint:    cfg.EndSessionURL,
		RedirectURI:           cfg.RedirectURI,
		PostLogoutRedirectURI: cfg.LogoutURI,
		Scopes:                cfg.Scopes,
		ClientID:              cfg.ClientID,
		ClientSecret:          cfg.ClientSecret,
	}
}

// newBackend returns the configured session backend and a function
// releasing its resources.
func newBackend(ctx context.Context, cfg *config.Config) (session.Backend, func(), error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		b, err := session.NewRedisBackend(client, cfg.RedisKeyPrefix)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return b, func() { client.Close() }, nil
	default:
		return session.NewMemoryBackend(cfg.SessionMaxEntries, cfg.SessionTTL), func() {}, nil
	}
}
