package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Error messages
	"error.generic":            "Something went wrong. Please try again.",
	"error.api":                "API Error: %s",
	"error.token_expired":      "token expired",
	"error.no_access_token":    "No access token found.",
	"error.invalid_request":    "Invalid request body",
	"error.invalid_limit":      "limit must be a non-negative integer",
	"error.invalid_time_range": "time_range must be one of short_term, medium_term, long_term",
	"error.missing_uri":        "uri is required",
	"error.missing_device":     "device_id is required",
	"error.no_device":          "No active player device",
	"error.rate_limited":       "Too many requests, slow down",
	"error.history_invalid":    "Listening history contains an invalid entry",

	// Auth messages
	"auth.state_mismatch":   "state_mismatch",
	"auth.exchange_failed":  "Token exchange failed",
	"auth.no_refresh_token": "No refresh token available",
	"auth.refresh_invalid":  "Refresh token expired or invalid",
	"auth.refresh_failed":   "Failed to refresh token",

	// Status messages
	"status.nothing_playing": "Nothing is playing right now",
	"status.query_too_short": "Type at least %d characters to search",
}
