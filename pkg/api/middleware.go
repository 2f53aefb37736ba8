package api

import (
	"net/http"
	"strconv"

	"github.com/burrowhq/burrow/pkg/auth"
	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/metrics"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument logs each request and feeds the API metrics. Mounted before
// auth so failures are observed too.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := timer.Duration()
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)

		event := s.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Str("client_ip", auth.ClientIP(r)).
			Msg("request")
	})
}

// recoverer converts handler panics into a 500 envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				respondError(w, errdefs.New(errdefs.KindInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// userRateLimit applies the per-user request budget. Runs after auth.
func (s *Server) userRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFrom(r.Context())
		if ok && !s.requestLimits.Allow(id.UserID) {
			respondError(w, errdefs.New(errdefs.KindRateLimited, "request rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// createRateLimit guards the sandbox create and replicate endpoints, which
// are far more expensive than ordinary requests.
func (s *Server) createRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFrom(r.Context())
		if ok && !s.createLimits.Allow(id.UserID) {
			respondError(w, errdefs.New(errdefs.KindRateLimited, "sandbox create rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authAttemptLimit throttles credential guessing per client IP.
func (s *Server) authAttemptLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimits.Allow(auth.ClientIP(r)) {
			respondError(w, errdefs.New(errdefs.KindRateLimited, "too many authentication attempts"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
