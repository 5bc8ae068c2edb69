package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"playdeck/internal/core"
	"playdeck/internal/i18n"
	"playdeck/internal/store"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeRecorder) LoginOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *outcomeRecorder) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.outcomes) == 0 {
		return ""
	}
	return o.outcomes[len(o.outcomes)-1]
}

// newAccountsServer fakes the token endpoint: code "good" and refresh token
// "refresh-1" succeed, "boom" fails upstream, anything else is invalid_grant.
func newAccountsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") == "good" {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"access_token": "access-1", "refresh_token": "refresh-1",
					"token_type": "Bearer", "expires_in": 3600,
				})
				return
			}
		case "refresh_token":
			switch r.Form.Get("refresh_token") {
			case "refresh-1":
				_ = json.NewEncoder(w).Encode(map[string]any{
					"access_token": "access-2", "token_type": "Bearer", "expires_in": 3600,
				})
				return
			case "boom":
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"server_error"}`))
				return
			}
		}

		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid refresh token"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type testEnv struct {
	handlers *Handlers
	sessions *store.MemoryStore
	config   *core.Config
	outcomes *outcomeRecorder
}

func newTestEnv(t *testing.T, apiBaseURL string) *testEnv {
	t.Helper()
	accounts := newAccountsServer(t)

	cfg := core.DefaultConfig()
	cfg.Spotify.ClientID = "client"
	cfg.Spotify.ClientSecret = "secret"
	cfg.Spotify.APIBaseURL = apiBaseURL

	authenticator := NewAuthenticator(&cfg.Spotify,
		WithEndpoint(oauth2.Endpoint{
			AuthURL:   accounts.URL + "/authorize",
			TokenURL:  accounts.URL + "/api/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		}),
		WithHTTPClient(accounts.Client()),
	)

	sessions := store.NewMemoryStore(100, 0.001)
	outcomes := &outcomeRecorder{}
	handlers := NewHandlers(authenticator, sessions, cfg, i18n.NewLocalizer("en"), zap.NewNop()).
		WithObservers(outcomes, nil)

	return &testEnv{handlers: handlers, sessions: sessions, config: cfg, outcomes: outcomes}
}

func (e *testEnv) saveSession(t *testing.T, token *oauth2.Token) *store.Session {
	t.Helper()
	session := &store.Session{
		ID:        "session-1234567890",
		Token:     token,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := e.sessions.Save(context.Background(), session); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	return session
}

func (e *testEnv) sessionCookie(id string) *http.Cookie {
	return &http.Cookie{Name: e.config.Session.CookieName, Value: id}
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	return body["error"]
}

func TestNewAuthenticator_Scopes(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Spotify.ClientID = "client"
	a := NewAuthenticator(&cfg.Spotify)

	authURL, err := url.Parse(a.AuthURL("abc"))
	if err != nil {
		t.Fatalf("AuthURL() not a URL: %v", err)
	}
	if authURL.Host != "accounts.spotify.com" {
		t.Errorf("host got %q, expected accounts.spotify.com", authURL.Host)
	}

	q := authURL.Query()
	if q.Get("state") != "abc" || q.Get("client_id") != "client" || q.Get("response_type") != "code" {
		t.Errorf("query got %v", q)
	}
	for _, scope := range []string{"user-read-recently-played", "user-modify-playback-state", "streaming", "user-library-read"} {
		if !strings.Contains(q.Get("scope"), scope) {
			t.Errorf("scope %q missing from %q", scope, q.Get("scope"))
		}
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, "")

	rec := httptest.NewRecorder()
	env.handlers.Login(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status got %d, expected 302", rec.Code)
	}

	stateCookie := findCookie(rec, StateCookieName)
	if stateCookie == nil || len(stateCookie.Value) != StateLength || !stateCookie.HttpOnly {
		t.Fatalf("state cookie got %+v", stateCookie)
	}

	location, _ := url.Parse(rec.Header().Get("Location"))
	if location.Query().Get("state") != stateCookie.Value {
		t.Errorf("redirect state %q does not match cookie %q", location.Query().Get("state"), stateCookie.Value)
	}
}

func TestCallback(t *testing.T) {
	tests := []struct {
		name             string
		query            string
		cookieState      string
		expectedStatus   int
		expectedLocation string
		expectedError    string
		expectedOutcome  string
		expectedSession  bool
	}{
		{
			name:             "Success",
			query:            "code=good&state=s1",
			cookieState:      "s1",
			expectedStatus:   http.StatusFound,
			expectedLocation: "/home",
			expectedOutcome:  OutcomeSuccess,
			expectedSession:  true,
		},
		{
			name:             "State mismatch",
			query:            "code=good&state=s1",
			cookieState:      "other",
			expectedStatus:   http.StatusFound,
			expectedLocation: "/#error=state_mismatch",
			expectedOutcome:  OutcomeStateMismatch,
		},
		{
			name:             "Missing state cookie",
			query:            "code=good&state=s1",
			expectedStatus:   http.StatusFound,
			expectedLocation: "/#error=state_mismatch",
			expectedOutcome:  OutcomeStateMismatch,
		},
		{
			name:             "Missing code",
			query:            "state=s1",
			cookieState:      "s1",
			expectedStatus:   http.StatusFound,
			expectedLocation: "/#error=state_mismatch",
			expectedOutcome:  OutcomeStateMismatch,
		},
		{
			name:             "User denied",
			query:            "error=access_denied&state=s1",
			cookieState:      "s1",
			expectedStatus:   http.StatusFound,
			expectedLocation: "/#error=access_denied",
			expectedOutcome:  OutcomeDenied,
		},
		{
			name:            "Exchange rejected",
			query:           "code=bad&state=s1",
			cookieState:     "s1",
			expectedStatus:  http.StatusBadRequest,
			expectedError:   "Token exchange failed",
			expectedOutcome: OutcomeExchangeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")

			req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?"+tt.query, nil)
			if tt.cookieState != "" {
				req.AddCookie(&http.Cookie{Name: StateCookieName, Value: tt.cookieState})
			}
			rec := httptest.NewRecorder()
			env.handlers.Callback(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("status got %d, expected %d", rec.Code, tt.expectedStatus)
			}
			if tt.expectedLocation != "" && rec.Header().Get("Location") != tt.expectedLocation {
				t.Errorf("location got %q, expected %q", rec.Header().Get("Location"), tt.expectedLocation)
			}
			if tt.expectedError != "" {
				if got := decodeError(t, rec); got != tt.expectedError {
					t.Errorf("error got %q, expected %q", got, tt.expectedError)
				}
			}
			if env.outcomes.last() != tt.expectedOutcome {
				t.Errorf("outcome got %q, expected %q", env.outcomes.last(), tt.expectedOutcome)
			}

			if cleared := findCookie(rec, StateCookieName); cleared == nil || cleared.MaxAge >= 0 {
				t.Errorf("state cookie should be cleared, got %+v", cleared)
			}

			sessionCookie := findCookie(rec, env.config.Session.CookieName)
			size, _ := env.sessions.Size(context.Background())
			if tt.expectedSession {
				if sessionCookie == nil || !sessionCookie.HttpOnly {
					t.Fatalf("session cookie got %+v", sessionCookie)
				}
				session, err := env.sessions.Get(context.Background(), sessionCookie.Value)
				if err != nil {
					t.Fatalf("session not stored: %v", err)
				}
				if session.Token.AccessToken != "access-1" || session.Token.RefreshToken != "refresh-1" {
					t.Errorf("stored token got %+v", session.Token)
				}
			} else if sessionCookie != nil || size != 0 {
				t.Errorf("no session expected, got cookie %+v and %d sessions", sessionCookie, size)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name           string
		refreshToken   string
		withSession    bool
		expectedStatus int
		expectedError  string
		expectedAccess string
	}{
		{name: "No session", expectedStatus: http.StatusUnauthorized, expectedError: "No refresh token available"},
		{name: "No refresh token", withSession: true, expectedStatus: http.StatusUnauthorized, expectedError: "No refresh token available"},
		{name: "Rejected", withSession: true, refreshToken: "revoked", expectedStatus: http.StatusBadRequest, expectedError: "Refresh token expired or invalid"},
		{name: "Upstream failure", withSession: true, refreshToken: "boom", expectedStatus: http.StatusInternalServerError, expectedError: "Failed to refresh token"},
		{name: "Success", withSession: true, refreshToken: "refresh-1", expectedStatus: http.StatusOK, expectedAccess: "access-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			req := httptest.NewRequest(http.MethodGet, "/api/auth/refresh", nil)

			var session *store.Session
			if tt.withSession {
				session = env.saveSession(t, &oauth2.Token{AccessToken: "access-1", RefreshToken: tt.refreshToken})
				req.AddCookie(env.sessionCookie(session.ID))
			}

			rec := httptest.NewRecorder()
			env.handlers.Refresh(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("status got %d, expected %d", rec.Code, tt.expectedStatus)
			}
			if tt.expectedError != "" {
				if got := decodeError(t, rec); got != tt.expectedError {
					t.Errorf("error got %q, expected %q", got, tt.expectedError)
				}
			}
			if tt.expectedAccess != "" {
				stored, err := env.sessions.Get(context.Background(), session.ID)
				if err != nil {
					t.Fatalf("Get() unexpected error: %v", err)
				}
				if stored.Token.AccessToken != tt.expectedAccess {
					t.Errorf("access token got %q, expected %q", stored.Token.AccessToken, tt.expectedAccess)
				}
				if stored.Token.RefreshToken != tt.refreshToken {
					t.Errorf("refresh token should carry over, got %q", stored.Token.RefreshToken)
				}
			}
		})
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, "")
	session := env.saveSession(t, &oauth2.Token{AccessToken: "access-1"})

	var loggedOut string
	env.handlers.OnLogout(func(id string) { loggedOut = id })

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(env.sessionCookie(session.ID))
	rec := httptest.NewRecorder()
	env.handlers.Logout(rec, req)

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Errorf("got %d to %q, expected 303 to /", rec.Code, rec.Header().Get("Location"))
	}
	if _, err := env.sessions.Get(context.Background(), session.ID); err == nil {
		t.Error("session should be deleted")
	}
	if loggedOut != session.ID {
		t.Errorf("logout hook got %q, expected %q", loggedOut, session.ID)
	}
	if cookie := findCookie(rec, env.config.Session.CookieName); cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", cookie)
	}
}

func TestMiddleware(t *testing.T) {
	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user1","display_name":"Ada"}`))
	}))
	t.Cleanup(api.Close)

	protected := func(t *testing.T) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SessionFrom(r.Context()); !ok {
				t.Error("SessionFrom() found no session")
			}
			client, ok := ClientFrom(r.Context())
			if !ok {
				t.Fatal("ClientFrom() found no client")
			}
			profile, err := client.Profile(r.Context())
			if err != nil {
				t.Errorf("Profile() unexpected error: %v", err)
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(profile.DisplayName))
		})
	}

	t.Run("No cookie", func(t *testing.T) {
		env := newTestEnv(t, api.URL+"/")
		rec := httptest.NewRecorder()
		env.handlers.Middleware(protected(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status got %d, expected 401", rec.Code)
		}
		if got := decodeError(t, rec); got != "No access token found." {
			t.Errorf("error got %q", got)
		}
	})

	t.Run("Valid token", func(t *testing.T) {
		env := newTestEnv(t, api.URL+"/")
		session := env.saveSession(t, &oauth2.Token{
			AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer",
			Expiry: time.Now().Add(time.Hour),
		})

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(env.sessionCookie(session.ID))
		rec := httptest.NewRecorder()
		env.handlers.Middleware(protected(t)).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || rec.Body.String() != "Ada" {
			t.Fatalf("got %d %q", rec.Code, rec.Body.String())
		}
		if gotAuth != "Bearer access-1" {
			t.Errorf("Authorization got %q", gotAuth)
		}
	})

	t.Run("Expired token refreshes and persists", func(t *testing.T) {
		env := newTestEnv(t, api.URL+"/")
		session := env.saveSession(t, &oauth2.Token{
			AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer",
			Expiry: time.Now().Add(-time.Minute),
		})

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(env.sessionCookie(session.ID))
		rec := httptest.NewRecorder()
		env.handlers.Middleware(protected(t)).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status got %d", rec.Code)
		}
		if gotAuth != "Bearer access-2" {
			t.Errorf("Authorization got %q, expected the refreshed token", gotAuth)
		}
		stored, err := env.sessions.Get(context.Background(), session.ID)
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if stored.Token.AccessToken != "access-2" {
			t.Errorf("rotated token not persisted, got %q", stored.Token.AccessToken)
		}
	})

	t.Run("Expired token with revoked refresh", func(t *testing.T) {
		env := newTestEnv(t, api.URL+"/")
		session := env.saveSession(t, &oauth2.Token{
			AccessToken: "access-1", RefreshToken: "revoked", TokenType: "Bearer",
			Expiry: time.Now().Add(-time.Minute),
		})

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(env.sessionCookie(session.ID))
		rec := httptest.NewRecorder()
		env.handlers.Middleware(protected(t)).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status got %d, expected 401", rec.Code)
		}
		if got := decodeError(t, rec); got != "token expired" {
			t.Errorf("error got %q, expected token expired", got)
		}
	})
}
