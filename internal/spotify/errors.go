package spotify

import (
	"context"
	"errors"
	"net/http"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// APIError unwraps a Web API error into its HTTP status and message.
func APIError(err error) (status int, message string, ok bool) {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status, apiErr.Message, true
	}
	return 0, "", false
}

// StatusOf returns the best HTTP status for an upstream failure.
func StatusOf(err error) int {
	if status, _, ok := APIError(err); ok && status != 0 {
		return status
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return http.StatusUnauthorized
	}

	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// IsAuthError reports whether err means the listener's token is no longer usable.
func IsAuthError(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}
