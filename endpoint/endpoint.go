// Package endpoint provides the typed HTTP handler plumbing used by the login
// service.
//
// A request passes through three phases:
//
//  1. Unmarshal: path, query and header values are decoded into a typed params
//     struct using struct tags.
//  2. Endpoint: the EndpointFunc runs the business logic and returns a Renderer.
//     It never writes to the response directly.
//  3. Render: the Renderer writes status, headers and body.
//
// Processors run before the EndpointFunc and may wrap it, e.g. to load a
// session or attach a request logger. Errors returned from any phase are
// written as a JSON body of the form {"error": "...", "code": N}.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// EndpointError is a client-visible error that maps directly to an HTTP status code.
//
// Only Message is ever written to the client. Cause is kept for logging and
// errors.Is/As.
type EndpointError struct {
	Status  int
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	// Avoid double-wrapping.
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a response.
//
// Renderers MUST call w.WriteHeader() and may set Content-Type before doing so.
// A returned error means the response could not be written.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware-style logic that runs before the Renderer.
//
// Processors MUST call next(...) unless they short-circuit the request, and
// MUST NOT write the response status or body themselves. A non-nil error stops
// the chain and is rendered as the response.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc receives the decoded params and returns the Renderer for the
// response, or an error.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler wrapper for an EndpointFunc.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

type hooksKey struct{}

// Defer registers a function to be called before the response headers are written.
// fn must not call WriteHeader itself.
//
// Outside an EndpointHandler there is no hooks registry and Defer is a no-op.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		*hooks = append(*hooks, fn)
	}
}

// Commit runs the functions registered via Defer, in LIFO order.
// It is called exactly once, just before headers are written.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		for i := len(*hooks) - 1; i >= 0; i-- {
			(*hooks)[i](w)
		}
		*hooks = nil
	}
}

// ErrorBody is the JSON shape written for failed requests.
type ErrorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		writeError(w, http.StatusInternalServerError, "endpoint: nil EndpointFunc")
		return
	}

	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < 0 || i > len(h.Processors) {
			return errors.New("endpoint: invalid processor index")
		} else if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}

		Commit(r2.Context(), w2)
		return renderer.Render(w2, r2)
	}

	err := run(0, w, r)
	if err == nil {
		return
	}

	status, message := StatusOf(err)
	Commit(r.Context(), w)
	writeError(w, status, message)
}

// StatusOf returns the HTTP status and client-visible message for err.
//
// Errors that are not an EndpointError map to 500 with the generic status
// text; their own text may carry internal detail.
func StatusOf(err error) (int, string) {
	status := http.StatusInternalServerError
	message := http.StatusText(status)
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		if ee.Status >= 100 {
			status = ee.Status
		}
		if ee.Message == "" {
			message = http.StatusText(status)
		} else {
			message = ee.Message
		}
	}
	return status, message
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: message, Code: status})
}
