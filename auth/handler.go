package auth

import (
	"errors"
	"net/http"

	"github.com/mnehpets/govbr/endpoint"
	"github.com/mnehpets/govbr/session"
)

// Handler serves the login, callback, logout and user routes.
//
//	GET /              redirect to /user
//	GET /user          current identity, or 401
//	GET /login         redirect to the provider
//	GET /openid        provider callback
//	GET /logout        end the session and redirect to the provider logout
//	GET /logout/govbr  return point after provider logout, redirect to /
//	GET /healthz       liveness
//
// The processors passed to NewHandler must include a session.Processor.
type Handler struct {
	mux    *http.ServeMux
	client *Client
}

// NewHandler creates a Handler. processors run, in order, for every route.
func NewHandler(client *Client, processors ...endpoint.Processor) *Handler {
	h := &Handler{
		mux:    http.NewServeMux(),
		client: client,
	}
	h.mux.HandleFunc("GET /{$}", endpoint.HandleFunc(h.index, processors...))
	h.mux.HandleFunc("GET /user", endpoint.HandleFunc(h.user, processors...))
	h.mux.HandleFunc("GET /login", endpoint.HandleFunc(h.login, processors...))
	h.mux.HandleFunc("GET /openid", endpoint.HandleFunc(h.callback, processors...))
	h.mux.HandleFunc("GET /logout", endpoint.HandleFunc(h.logout, processors...))
	h.mux.HandleFunc("GET /logout/govbr", endpoint.HandleFunc(h.logoutDone, processors...))
	h.mux.HandleFunc("GET /healthz", endpoint.HandleFunc(h.healthz, processors...))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func storeFor(r *http.Request) (Store, error) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		return nil, endpoint.Error(http.StatusInternalServerError, "", errors.New("auth: no session in request context"))
	}
	return SessionStore(s), nil
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.RedirectRenderer{URL: "/user"}, nil
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	store, err := storeFor(r)
	if err != nil {
		return nil, err
	}
	id, ok := h.client.User(r.Context(), store)
	if !ok {
		return nil, endpoint.Error(http.StatusUnauthorized, "user not logged in", nil)
	}
	w.Header().Set("Cache-Control", "no-store")
	return &endpoint.JSONRenderer{Value: id}, nil
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	store, err := storeFor(r)
	if err != nil {
		return nil, err
	}
	u, err := h.client.LoginURL(r.Context(), store)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to generate login URL", err)
	}
	return &endpoint.RedirectRenderer{URL: u}, nil
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	store, err := storeFor(r)
	if err != nil {
		return nil, err
	}
	next, err := h.client.HandleCallback(r.Context(), store, params)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			return &endpoint.JSONRenderer{Status: http.StatusBadRequest, Value: perr}, nil
		}
		return nil, endpoint.Error(http.StatusInternalServerError, "callback processing failed", err)
	}
	return &endpoint.RedirectRenderer{URL: next}, nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	store, err := storeFor(r)
	if err != nil {
		return nil, err
	}
	u, err := h.client.Logout(r.Context(), store)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "logout failed", err)
	}
	return &endpoint.RedirectRenderer{URL: u}, nil
}

func (h *Handler) logoutDone(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.RedirectRenderer{URL: "/"}, nil
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.JSONRenderer{Value: map[string]string{"status": "ok"}}, nil
}
