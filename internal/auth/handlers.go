package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"playdeck/internal/core"
	"playdeck/internal/i18n"
	"playdeck/internal/spotify"
	"playdeck/internal/store"
)

const (
	// StateCookieName holds the OAuth state between login and callback.
	StateCookieName = "playdeck_auth_state"
	// StateLength is the number of hex characters in the OAuth state.
	StateLength = 16
	// StateTTL bounds how long a login may take.
	StateTTL = 10 * time.Minute
	// storeTimeout bounds session writes that outlive the request.
	storeTimeout = 5 * time.Second
)

// Login outcomes reported to the LoginObserver.
const (
	OutcomeSuccess        = "success"
	OutcomeStateMismatch  = "state_mismatch"
	OutcomeDenied         = "denied"
	OutcomeExchangeFailed = "exchange_failed"
	OutcomeStoreFailed    = "store_failed"
)

// LoginObserver receives login outcomes.
type LoginObserver interface {
	LoginOutcome(outcome string)
}

type nopLoginObserver struct{}

func (nopLoginObserver) LoginOutcome(string) {}

// Handlers serves the login flow and guards the API with session lookups.
type Handlers struct {
	auth      *Authenticator
	sessions  store.SessionStore
	config    *core.Config
	localizer *i18n.Localizer
	logger    *zap.Logger

	loginObserver    LoginObserver
	upstreamObserver spotify.Observer

	mu       sync.RWMutex
	onLogout []func(sessionID string)

	now func() time.Time
}

func NewHandlers(
	auth *Authenticator,
	sessions store.SessionStore,
	config *core.Config,
	localizer *i18n.Localizer,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		auth:          auth,
		sessions:      sessions,
		config:        config,
		localizer:     localizer,
		logger:        logger,
		loginObserver: nopLoginObserver{},
		now:           time.Now,
	}
}

// WithObservers sets the login and upstream call observers.
func (h *Handlers) WithObservers(login LoginObserver, upstream spotify.Observer) *Handlers {
	if login != nil {
		h.loginObserver = login
	}
	h.upstreamObserver = upstream
	return h
}

// OnLogout registers a callback run after a session is deleted.
func (h *Handlers) OnLogout(fn func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLogout = append(h.onLogout, fn)
}

// Login starts the authorization code flow.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state := newState()

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int(StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Debug("Starting login", zap.String("remote", r.RemoteAddr))
	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusFound)
}

// Callback completes the flow, creates the session and redirects into the app.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")

	h.clearCookie(w, StateCookieName, "/api/auth")

	if reason := query.Get("error"); reason != "" {
		h.logger.Info("Login denied", zap.String("reason", reason))
		h.loginObserver.LoginOutcome(OutcomeDenied)
		http.Redirect(w, r, "/#error="+reason, http.StatusFound)
		return
	}

	stored, err := r.Cookie(StateCookieName)
	if code == "" || state == "" || err != nil || stored.Value != state {
		h.logger.Warn("Login state mismatch", zap.Bool("hasCode", code != ""), zap.Bool("hasCookie", err == nil))
		h.loginObserver.LoginOutcome(OutcomeStateMismatch)
		http.Redirect(w, r, "/#error="+h.localizer.T("auth.state_mismatch"), http.StatusFound)
		return
	}

	token, err := h.auth.Exchange(r.Context(), code)
	if err != nil {
		status := RejectedStatus(err)
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		h.logger.Error("Token exchange failed", zap.Int("status", status), zap.Error(err))
		h.loginObserver.LoginOutcome(OutcomeExchangeFailed)
		writeError(w, status, h.localizer.T("auth.exchange_failed"))
		return
	}

	now := h.now()
	session := &store.Session{
		ID:        uuid.NewString(),
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(h.config.Session.TTL),
	}
	if err := h.sessions.Save(r.Context(), session); err != nil {
		h.logger.Error("Failed to save session", zap.Error(err))
		h.loginObserver.LoginOutcome(OutcomeStoreFailed)
		writeError(w, http.StatusInternalServerError, h.localizer.T("error.generic"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Session.CookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("Login completed", zap.String("session", shortID(session.ID)))
	h.loginObserver.LoginOutcome(OutcomeSuccess)
	http.Redirect(w, r, h.config.Server.LoginRedirect, http.StatusFound)
}

// Refresh forces a token refresh for the current session.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.lookup(r)
	if err != nil || session.Token == nil || session.Token.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, h.localizer.T("auth.no_refresh_token"))
		return
	}

	token, err := h.auth.Refresh(r.Context(), session.Token)
	if err != nil {
		if RejectedStatus(err) == http.StatusBadRequest {
			h.logger.Info("Refresh token rejected", zap.String("session", shortID(session.ID)), zap.Error(err))
			writeError(w, http.StatusBadRequest, h.localizer.T("auth.refresh_invalid"))
			return
		}
		h.logger.Error("Token refresh failed", zap.String("session", shortID(session.ID)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, h.localizer.T("auth.refresh_failed"))
		return
	}

	session.Token = token
	if err := h.sessions.Save(r.Context(), session); err != nil {
		h.logger.Error("Failed to persist refreshed token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, h.localizer.T("auth.refresh_failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"expires_at": token.Expiry,
		"expires_in": int(token.Expiry.Sub(h.now()).Seconds()),
	})
}

// Logout deletes the session and sends the browser home.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.config.Session.CookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("Failed to delete session", zap.Error(err))
		}

		h.mu.RLock()
		hooks := append([]func(string){}, h.onLogout...)
		h.mu.RUnlock()
		for _, fn := range hooks {
			fn(cookie.Value)
		}

		h.logger.Info("Logged out", zap.String("session", shortID(cookie.Value)))
	}

	h.clearCookie(w, h.config.Session.CookieName, "/")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) lookup(r *http.Request) (*store.Session, error) {
	cookie, err := r.Cookie(h.config.Session.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	return h.sessions.Get(r.Context(), cookie.Value)
}

func (h *Handlers) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// persist saves a session outside the request lifetime.
func (h *Handlers) persist(session *store.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return h.sessions.Save(ctx, session)
}

func newState() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:StateLength]
}

// shortID keeps session ids out of logs in full.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNoSession) || errors.Is(err, store.ErrSessionNotFound)
}
