package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"playdeck/internal/auth"
	"playdeck/internal/core"
	"playdeck/internal/flood"
	"playdeck/internal/i18n"
	"playdeck/internal/player"
	"playdeck/internal/store"
)

const testSessionID = "session-1234567890"

type testServer struct {
	handler   http.Handler
	config    *core.Config
	sessions  *store.MemoryStore
	metrics   *Metrics
	players   *player.Registry
	upstream  *httptest.Server
}

// newTestServer wires the API against a fake Spotify Web API served by spotifyMux.
func newTestServer(t *testing.T, spotifyMux *http.ServeMux, configure ...func(*core.Config)) *testServer {
	t.Helper()

	upstream := httptest.NewServer(spotifyMux)
	t.Cleanup(upstream.Close)

	cfg := core.DefaultConfig()
	cfg.Spotify.ClientID = "client"
	cfg.Spotify.ClientSecret = "secret"
	cfg.Spotify.APIBaseURL = upstream.URL + "/"
	cfg.App.TransferDelay = 0
	cfg.App.PollInterval = time.Hour
	for _, fn := range configure {
		fn(cfg)
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	sessions := store.NewMemoryStore(100, 0.001)

	authenticator := auth.NewAuthenticator(&cfg.Spotify, auth.WithEndpoint(oauth2.Endpoint{
		AuthURL:   upstream.URL + "/authorize",
		TokenURL:  upstream.URL + "/api/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}))
	handlers := auth.NewHandlers(authenticator, sessions, cfg, i18n.NewLocalizer("en"), zap.NewNop()).
		WithObservers(metrics, metrics)

	players := player.NewRegistry(&cfg.App, metrics.ConnectedPlayers, zap.NewNop())
	t.Cleanup(players.Shutdown)

	floodgate := flood.New(cfg.App.RequestsPerMinute)
	t.Cleanup(floodgate.Stop)

	a := newAPI(cfg, Deps{
		Auth:      handlers,
		Sessions:  sessions,
		Players:   players,
		Floodgate: floodgate,
		Metrics:   metrics,
		Gatherer:  prometheus.NewRegistry(),
	}, zap.NewNop())

	return &testServer{
		handler:   a.routes(),
		config:    cfg,
		sessions:  sessions,
		metrics:   metrics,
		players:   players,
		upstream:  upstream,
	}
}

// login stores a session with a valid access token.
func (s *testServer) login(t *testing.T) {
	t.Helper()
	session := &store.Session{
		ID: testSessionID,
		Token: &oauth2.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.sessions.Save(context.Background(), session); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
}

func (s *testServer) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.AddCookie(&http.Cookie{Name: s.config.Session.CookieName, Value: testSessionID})
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestCreateHTTPServer(t *testing.T) {
	config := &core.ServerConfig{
		Host:         "0.0.0.0",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	mux := http.NewServeMux()
	server := createHTTPServer(config, mux)

	expectedAddr := "0.0.0.0:9090"
	if server.Addr != expectedAddr {
		t.Errorf("createHTTPServer() Addr = %q, expected %q", server.Addr, expectedAddr)
	}

	if server.Handler != mux {
		t.Errorf("createHTTPServer() Handler mismatch")
	}

	if server.ReadTimeout != config.ReadTimeout {
		t.Errorf("createHTTPServer() ReadTimeout = %v, expected %v", server.ReadTimeout, config.ReadTimeout)
	}

	if server.WriteTimeout != config.WriteTimeout {
		t.Errorf("createHTTPServer() WriteTimeout = %v, expected %v", server.WriteTimeout, config.WriteTimeout)
	}
}

func TestNewServer(t *testing.T) {
	cfg := core.DefaultConfig()
	metrics := NewMetrics(prometheus.NewRegistry())

	server := NewServer(cfg, Deps{
		Auth:     auth.NewHandlers(auth.NewAuthenticator(&cfg.Spotify), store.NewMemoryStore(10, 0.001), cfg, i18n.NewLocalizer("en"), zap.NewNop()),
		Sessions: store.NewMemoryStore(10, 0.001),
		Players:  player.NewRegistry(&cfg.App, nil, zap.NewNop()),
		Metrics:  metrics,
		Gatherer: prometheus.NewRegistry(),
	}, zap.NewNop())

	if server.GetMetrics() != metrics {
		t.Error("GetMetrics() should return the metrics passed in")
	}
	if server.server.Handler == nil {
		t.Error("NewServer() should install a handler")
	}
}

func TestServer_StartStopsWithContext(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	server := NewServer(cfg, Deps{
		Auth:     auth.NewHandlers(auth.NewAuthenticator(&cfg.Spotify), store.NewMemoryStore(10, 0.001), cfg, i18n.NewLocalizer("en"), zap.NewNop()),
		Sessions: store.NewMemoryStore(10, 0.001),
		Players:  player.NewRegistry(&cfg.App, nil, zap.NewNop()),
		Metrics:  NewMetrics(prometheus.NewRegistry()),
		Gatherer: prometheus.NewRegistry(),
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancellation")
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, http.NewServeMux())

	rec := s.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status got %d, expected 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["service"] != "playdeck" {
		t.Errorf("/healthz body got %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type got %q, expected application/json", ct)
	}
}

func TestReadyz(t *testing.T) {
	s := newTestServer(t, http.NewServeMux())
	s.login(t)

	rec := s.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz status got %d, expected 200", rec.Code)
	}
	if got := testutil.ToFloat64(s.metrics.ActiveSessions); got != 1 {
		t.Errorf("active sessions got %v, expected 1", got)
	}
}

func TestHomeHandler(t *testing.T) {
	s := newTestServer(t, http.NewServeMux())

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{name: "index", path: "/", expectedStatus: http.StatusOK},
		{name: "post login landing", path: "/home", expectedStatus: http.StatusOK},
		{name: "unknown path", path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, tt.path, "")
			if rec.Code != tt.expectedStatus {
				t.Fatalf("GET %s status got %d, expected %d", tt.path, rec.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "text/html" {
				t.Errorf("Content-Type got %q, expected text/html", ct)
			}
			body := rec.Body.String()
			for _, want := range []string{"PlayDeck", "/api/auth/login", "/metrics", "/healthz"} {
				if !strings.Contains(body, want) {
					t.Errorf("home page should mention %q", want)
				}
			}
		})
	}
}

func TestMetricsEndpointAndInstrumentation(t *testing.T) {
	s := newTestServer(t, http.NewServeMux())

	s.do(http.MethodGet, "/healthz", "")
	s.do(http.MethodGet, "/healthz", "")

	got := testutil.ToFloat64(s.metrics.RequestsTotal.WithLabelValues("GET /healthz", "200"))
	if got != 2 {
		t.Errorf("requests counter got %v, expected 2", got)
	}

	rec := s.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status got %d, expected 200", rec.Code)
	}
}
