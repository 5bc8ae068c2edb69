package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	UpstreamCallsTotal *prometheus.CounterVec
	UpstreamDuration   *prometheus.HistogramVec
	LoginsTotal        *prometheus.CounterVec
	DuplicatesTotal    prometheus.Counter
	RateLimitedTotal   *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	ConnectedPlayers   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playdeck_http_request_duration_seconds",
				Help:    "Time spent serving API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		UpstreamCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_spotify_calls_total",
				Help: "Total number of Spotify Web API calls",
			},
			[]string{"operation", "status"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playdeck_spotify_call_duration_seconds",
				Help:    "Time spent waiting on the Spotify Web API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_logins_total",
				Help: "Total number of completed login attempts",
			},
			[]string{"outcome"},
		),
		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playdeck_history_duplicates_total",
				Help: "Total number of repeated plays collapsed out of listening history",
			},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"group"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "playdeck_active_sessions",
				Help: "Number of stored listener sessions",
			},
		),
		ConnectedPlayers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "playdeck_connected_players",
				Help: "Number of browser players with an open event stream",
			},
		),
	}

	reg.MustRegister(
		metrics.RequestsTotal,
		metrics.RequestDuration,
		metrics.UpstreamCallsTotal,
		metrics.UpstreamDuration,
		metrics.LoginsTotal,
		metrics.DuplicatesTotal,
		metrics.RateLimitedTotal,
		metrics.ActiveSessions,
		metrics.ConnectedPlayers,
	)

	return metrics
}

func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// UpstreamCall records one Spotify Web API call.
func (m *Metrics) UpstreamCall(operation string, status int, duration time.Duration) {
	m.UpstreamCallsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) DuplicatesDropped(n int) {
	m.DuplicatesTotal.Add(float64(n))
}

func (m *Metrics) LoginOutcome(outcome string) {
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRateLimited(group string) {
	m.RateLimitedTotal.WithLabelValues(group).Inc()
}

func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}
