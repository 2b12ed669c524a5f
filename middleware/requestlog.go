package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mnehpets/govbr/endpoint"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request ID in and out of the service.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

// RequestLogger attaches a request-scoped zerolog.Logger to the request
// context and logs one line per request once the endpoint returns.
//
// Only the path is logged. The query string of /openid carries the
// authorization code and must not reach the logs.
type RequestLogger struct {
	logger zerolog.Logger
}

// NewRequestLogger returns a RequestLogger deriving request loggers from logger.
func NewRequestLogger(logger zerolog.Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// Process implements endpoint.Processor.
func (l *RequestLogger) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	start := time.Now()

	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLen {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)

	log := l.logger.With().Str("request_id", id).Logger()
	rec := &statusRecorder{ResponseWriter: w}
	err := next(rec, r.WithContext(log.WithContext(r.Context())))

	status := rec.status
	if err != nil {
		// Error responses are written by the handler after the chain returns.
		status, _ = endpoint.StatusOf(err)
	} else if status == 0 {
		status = http.StatusOK
	}

	var ev *zerolog.Event
	switch {
	case status >= 500:
		ev = log.Error().Err(err)
	case err != nil:
		ev = log.Warn().Err(err)
	default:
		ev = log.Info()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("request")
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

var _ endpoint.Processor = (*RequestLogger)(nil)
