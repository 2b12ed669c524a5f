package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer serializes Value as JSON.
//
// If Status is 0, it defaults to http.StatusOK. HTML escaping is disabled so
// URLs in claims are written verbatim.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}

// NoContentRenderer writes a response with no body and a specific status code.
//
// If Status is 0, it defaults to http.StatusNoContent.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	status := ncr.Status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	return nil
}

// RedirectRenderer redirects the client to a new URL.
//
// If Status is 0, it defaults to http.StatusFound (302).
type RedirectRenderer struct {
	URL    string
	Status int
}

// Render implements Renderer for RedirectRenderer.
func (rr *RedirectRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	status := rr.Status
	if status == 0 {
		status = http.StatusFound
	}
	// Redirect targets may carry state and challenge values; keep them out of
	// shared caches.
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, rr.URL, status)
	return nil
}
