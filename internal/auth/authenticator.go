// Package auth runs the Spotify authorization code flow and keeps each listener's
// tokens in a server-side session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"playdeck/internal/core"
)

var (
	// ErrNoSession is returned when the request carries no session cookie.
	ErrNoSession = errors.New("no session")
	// ErrStateMismatch is returned when the callback state does not match the state cookie.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrNoRefreshToken is returned when a session has nothing to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// Scopes requested at login.
var Scopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeUserReadRecentlyPlayed,
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeStreaming,
	spotifyauth.ScopeUserLibraryRead,
}

// Authenticator wraps the OAuth2 configuration for the Spotify accounts service.
type Authenticator struct {
	config     *oauth2.Config
	httpClient *http.Client
}

type Option func(*Authenticator)

// WithEndpoint points the flow at another accounts service.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(a *Authenticator) {
		a.config.Endpoint = endpoint
	}
}

// WithHTTPClient sets the client used for token endpoint calls and as the base
// transport of authenticated clients.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Authenticator) {
		a.httpClient = client
	}
}

func NewAuthenticator(cfg *core.SpotifyConfig, opts ...Option) *Authenticator {
	a := &Authenticator{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  spotifyauth.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// AuthURL returns the authorize URL carrying state.
func (a *Authenticator) AuthURL(state string) string {
	return a.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := a.config.Exchange(a.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

// Refresh forces a refresh with the token's refresh token, even if the access
// token is still valid. The refresh token is carried over when Spotify does not
// rotate it.
func (a *Authenticator) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	stale := &oauth2.Token{RefreshToken: token.RefreshToken}
	refreshed, err := a.config.TokenSource(a.context(ctx), stale).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return refreshed, nil
}

// TokenSource returns a source that refreshes token on demand when it expires.
func (a *Authenticator) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	return a.config.TokenSource(a.context(ctx), token)
}

// Client returns an HTTP client authorized by src.
func (a *Authenticator) Client(ctx context.Context, src oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(a.context(ctx), src)
}

func (a *Authenticator) context(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// RejectedStatus returns the accounts service status for a token endpoint
// rejection, or 0 when err is not one.
func RejectedStatus(err error) int {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return retrieveErr.Response.StatusCode
	}
	return 0
}
