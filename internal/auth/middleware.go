package auth

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"playdeck/internal/spotify"
	"playdeck/internal/store"
)

type contextKey int

const (
	sessionKey contextKey = iota
	clientKey
)

// Middleware resolves the session cookie, refreshes an expired access token and
// puts the session and a ready Spotify client into the request context.
func (h *Handlers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.lookup(r)
		if err != nil {
			if !isNotFound(err) {
				h.logger.Error("Session lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, h.localizer.T("error.generic"))
				return
			}
			writeError(w, http.StatusUnauthorized, h.localizer.T("error.no_access_token"))
			return
		}
		if session.Token == nil {
			writeError(w, http.StatusUnauthorized, h.localizer.T("error.no_access_token"))
			return
		}

		// Token refreshes are not tied to request cancellation.
		tokenCtx := context.WithoutCancel(r.Context())
		src := &persistingSource{
			base:    h.auth.TokenSource(tokenCtx, session.Token),
			session: session,
			handler: h,
		}

		// Refresh up front so an unusable token fails here rather than mid-call.
		if _, err := src.Token(); err != nil {
			h.logger.Info("Session token unusable", zap.String("session", shortID(session.ID)), zap.Error(err))
			writeError(w, http.StatusUnauthorized, h.localizer.T("error.token_expired"))
			return
		}

		client := spotify.NewClient(
			h.auth.Client(tokenCtx, src),
			&h.config.App,
			h.config.Spotify.APIBaseURL,
			h.logger.Named("spotify"),
		).WithObserver(h.upstreamObserver)

		ctx := context.WithValue(r.Context(), sessionKey, session)
		ctx = context.WithValue(ctx, clientKey, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFrom returns the session the middleware resolved.
func SessionFrom(ctx context.Context) (*store.Session, bool) {
	session, ok := ctx.Value(sessionKey).(*store.Session)
	return session, ok
}

// ClientFrom returns the Spotify client the middleware built.
func ClientFrom(ctx context.Context) (*spotify.Client, bool) {
	client, ok := ctx.Value(clientKey).(*spotify.Client)
	return client, ok
}

// persistingSource saves the session whenever the wrapped source hands out a new token.
type persistingSource struct {
	base    oauth2.TokenSource
	session *store.Session
	handler *Handlers

	mu sync.Mutex
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Token != nil && token.AccessToken == s.session.Token.AccessToken {
		return token, nil
	}

	s.session.Token = token
	if err := s.handler.persist(s.session); err != nil {
		s.handler.logger.Warn("Failed to persist rotated token",
			zap.String("session", shortID(s.session.ID)),
			zap.Error(err))
	} else {
		s.handler.logger.Debug("Persisted rotated token", zap.String("session", shortID(s.session.ID)))
	}
	return token, nil
}
