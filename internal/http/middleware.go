package http

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"playdeck/internal/auth"
)

// Rate limit groups; each has its own window per session.
const (
	groupLibrary = "library"
	groupSearch  = "search"
	groupPlayer  = "player"
	groupEvents  = "events"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument logs each request and records it under route.
func (a *api) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		a.deps.Metrics.RecordRequest(route, rec.status, duration)
		a.logger.Debug("Request served",
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration))
	})
}

// rateLimit rejects requests over the per-session budget for group with 429.
func (a *api) rateLimit(group string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFrom(r.Context())
		if !ok || a.deps.Floodgate == nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter := a.deps.Floodgate.Allow(session.ID, group)
		if !allowed {
			a.deps.Metrics.RecordRateLimited(group)
			a.logger.Info("Request rate limited",
				zap.String("group", group),
				zap.Duration("retryAfter", retryAfter))
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			writeError(w, http.StatusTooManyRequests, a.localizer(r).T("error.rate_limited"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
