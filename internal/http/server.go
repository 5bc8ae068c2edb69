// Package http serves the PlayDeck API, the login flow and the operational endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"playdeck/internal/auth"
	"playdeck/internal/core"
	"playdeck/internal/flood"
	"playdeck/internal/i18n"
	"playdeck/internal/player"
	"playdeck/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators the server routes to.
type Deps struct {
	Auth      *auth.Handlers
	Sessions  store.SessionStore
	Players   *player.Registry
	Floodgate *flood.Floodgate
	Metrics   *Metrics
	Gatherer  prometheus.Gatherer
}

type Server struct {
	config  *core.Config
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

func NewServer(config *core.Config, deps Deps, logger *zap.Logger) *Server {
	api := newAPI(config, deps, logger)

	return &Server{
		config:  config,
		logger:  logger,
		server:  createHTTPServer(&config.Server, api.routes()),
		metrics: deps.Metrics,
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

// api carries the handlers' shared state.
type api struct {
	config     *core.Config
	deps       Deps
	logger     *zap.Logger
	localizers []*i18n.Localizer
	matcher    language.Matcher
}

func newAPI(config *core.Config, deps Deps, logger *zap.Logger) *api {
	a := &api{
		config: config,
		deps:   deps,
		logger: logger,
	}

	// The configured language goes first so it wins when nothing matches.
	fallback := i18n.NewLocalizer(config.App.Language)
	a.localizers = append(a.localizers, fallback)
	for _, lang := range i18n.GetSupportedLanguages() {
		if lang != fallback.Language() {
			a.localizers = append(a.localizers, i18n.NewLocalizer(lang))
		}
	}

	tags := make([]language.Tag, 0, len(a.localizers))
	for _, l := range a.localizers {
		tags = append(tags, language.Make(l.Language()))
	}
	a.matcher = language.NewMatcher(tags)

	return a
}

// localizer picks the message language from the Accept-Language header.
func (a *api) localizer(r *http.Request) *i18n.Localizer {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return a.localizers[0]
	}
	_, index := language.MatchStrings(a.matcher, header)
	return a.localizers[index]
}

// routes builds the mux. Authenticated routes run instrument, then session
// lookup, then the rate limit.
func (a *api) routes() http.Handler {
	mux := http.NewServeMux()

	a.handle(mux, "GET /healthz", http.HandlerFunc(a.healthz))
	a.handle(mux, "GET /readyz", http.HandlerFunc(a.readyz))
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.deps.Gatherer, promhttp.HandlerOpts{}))
	a.handle(mux, "GET /{$}", http.HandlerFunc(homeHandler(a.logger)))
	a.handle(mux, "GET "+a.config.Server.LoginRedirect, http.HandlerFunc(homeHandler(a.logger)))

	a.handle(mux, "GET /api/auth/login", http.HandlerFunc(a.deps.Auth.Login))
	a.handle(mux, "GET /api/auth/callback", http.HandlerFunc(a.deps.Auth.Callback))
	a.handle(mux, "GET /api/auth/refresh", http.HandlerFunc(a.deps.Auth.Refresh))
	a.handle(mux, "POST /api/auth/logout", http.HandlerFunc(a.deps.Auth.Logout))

	a.protect(mux, "GET /api/me", groupLibrary, a.me)
	a.protect(mux, "GET /api/me/recently-played", groupLibrary, a.recentlyPlayed)
	a.protect(mux, "GET /api/me/tracks", groupLibrary, a.likedTracks)
	a.protect(mux, "GET /api/me/top", groupLibrary, a.topTracks)
	a.protect(mux, "GET /api/me/player", groupPlayer, a.currentlyPlaying)
	a.protect(mux, "GET /api/search", groupSearch, a.search)
	a.protect(mux, "GET /api/player/devices", groupPlayer, a.devices)
	a.protect(mux, "PUT /api/player/play", groupPlayer, a.play)
	a.protect(mux, "PUT /api/player/transfer", groupPlayer, a.transfer)
	a.protect(mux, "GET /api/player/events", groupEvents, a.events)

	return mux
}

func (a *api) handle(mux *http.ServeMux, pattern string, handler http.Handler) {
	mux.Handle(pattern, a.instrument(pattern, handler))
}

func (a *api) protect(mux *http.ServeMux, pattern, group string, handler http.HandlerFunc) {
	a.handle(mux, pattern, a.deps.Auth.Middleware(a.rateLimit(group, handler)))
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "playdeck"})
}

func (a *api) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	size, err := a.deps.Sessions.Size(ctx)
	if err != nil {
		a.logger.Warn("Session store not ready", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": "playdeck"})
		return
	}
	a.deps.Metrics.SetActiveSessions(size)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "playdeck"})
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(homePage)); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>PlayDeck</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #1db954; }
        .endpoint a:hover { text-decoration: underline; }
        code { background: #f4f4f4; padding: 1px 4px; }
    </style>
</head>
<body>
    <h1 class="header">🎧 PlayDeck</h1>
    <p>Your Spotify listening, one deck.</p>
    <p><a href="/api/auth/login">Log in with Spotify</a></p>

    <h2>Library</h2>
    <div class="endpoint"><code>GET</code> <a href="/api/me">/api/me</a> - Profile</div>
    <div class="endpoint"><code>GET</code> <a href="/api/me/recently-played">/api/me/recently-played</a> - Recently played, one entry per track</div>
    <div class="endpoint"><code>GET</code> <a href="/api/me/tracks">/api/me/tracks</a> - Liked songs</div>
    <div class="endpoint"><code>GET</code> <a href="/api/me/top">/api/me/top</a> - Top tracks</div>
    <div class="endpoint"><code>GET</code> <a href="/api/search?q=">/api/search?q=</a> - Search tracks</div>

    <h2>Player</h2>
    <div class="endpoint"><code>GET</code> <a href="/api/me/player">/api/me/player</a> - Currently playing</div>
    <div class="endpoint"><code>GET</code> <a href="/api/player/devices">/api/player/devices</a> - Spotify Connect devices</div>
    <div class="endpoint"><code>PUT</code> /api/player/play - Play a track</div>
    <div class="endpoint"><code>PUT</code> /api/player/transfer - Transfer playback</div>
    <div class="endpoint"><code>WS</code> /api/player/events - Live player state</div>

    <h2>Operations</h2>
    <div class="endpoint">📊 <a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint">💚 <a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint">✅ <a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`
