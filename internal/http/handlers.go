package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"playdeck/internal/auth"
	"playdeck/internal/core"
	"playdeck/internal/history"
	"playdeck/internal/i18n"
	"playdeck/internal/player"
	"playdeck/internal/spotify"
)

type playRequest struct {
	URI      string `json:"uri"`
	DeviceID string `json:"device_id"`
}

type transferRequest struct {
	DeviceID string `json:"device_id"`
	Play     bool   `json:"play"`
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	client := a.client(r)
	profile, err := client.Profile(r.Context())
	if err != nil {
		a.writeAPIError(w, r, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": profile})
}

func (a *api) recentlyPlayed(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.queryLimit(w, r, a.config.App.RecentlyPlayedLimit)
	if !ok {
		return
	}

	recent, err := a.client(r).RecentlyPlayed(r.Context(), limit)
	if err != nil {
		a.writeAPIError(w, r, "recently_played", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recently_played": recent})
}

func (a *api) likedTracks(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.queryLimit(w, r, a.config.App.LikedTracksLimit)
	if !ok {
		return
	}

	tracks, err := a.client(r).LikedTracks(r.Context(), limit)
	if err != nil {
		a.writeAPIError(w, r, "liked_tracks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (a *api) topTracks(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.queryLimit(w, r, a.config.App.TopTracksLimit)
	if !ok {
		return
	}
	timeRange, err := core.ParseTimeRange(r.URL.Query().Get("time_range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, a.localizer(r).T("error.invalid_time_range"))
		return
	}

	tracks, err := a.client(r).TopTracks(r.Context(), timeRange, limit)
	if err != nil {
		a.writeAPIError(w, r, "top_tracks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks, "time_range": timeRange})
}

func (a *api) currentlyPlaying(w http.ResponseWriter, r *http.Request) {
	playback, err := a.client(r).CurrentlyPlaying(r.Context())
	if err != nil {
		a.writeAPIError(w, r, "currently_playing", err)
		return
	}
	// A nil playback encodes as null: nothing is playing.
	writeJSON(w, http.StatusOK, map[string]any{"playing": playback})
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	q, err := player.CheckQuery(r.URL.Query().Get("q"), a.config.App.MinSearchLength)
	if errors.Is(err, player.ErrQueryTooShort) {
		writeJSON(w, http.StatusOK, map[string]any{
			"tracks":  []core.Track{},
			"message": a.localizer(r).T("status.query_too_short", a.config.App.MinSearchLength),
		})
		return
	}

	tracks, err := a.client(r).SearchTracks(r.Context(), q.Text, a.config.App.SearchLimit)
	if err != nil {
		a.writeAPIError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (a *api) devices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.client(r).Devices(r.Context())
	if err != nil {
		a.writeAPIError(w, r, "devices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (a *api) play(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, a.localizer(r).T("error.invalid_request"))
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, a.localizer(r).T("error.missing_uri"))
		return
	}

	if err := a.client(r).PlayTrack(r.Context(), req.URI, req.DeviceID); err != nil {
		a.writeAPIError(w, r, "play", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, a.localizer(r).T("error.invalid_request"))
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, a.localizer(r).T("error.missing_device"))
		return
	}

	if err := a.client(r).TransferPlayback(r.Context(), req.DeviceID, req.Play); err != nil {
		a.writeAPIError(w, r, "transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// client returns the request's Spotify client. Routes using it sit behind the auth middleware.
func (a *api) client(r *http.Request) *spotify.Client {
	client, ok := auth.ClientFrom(r.Context())
	if !ok {
		// Calls on a client without credentials fail with ErrNotAuthenticated.
		return spotify.NewClient(nil, &a.config.App, a.config.Spotify.APIBaseURL, a.logger)
	}
	return client
}

// queryLimit parses ?limit=, answering 400 itself when it is malformed.
func (a *api) queryLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, a.localizer(r).T("error.invalid_limit"))
		return 0, false
	}
	return limit, true
}

// writeAPIError maps an upstream failure to a status and a localized message.
func (a *api) writeAPIError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, message := apiErrorResponse(a.localizer(r), err)
	a.logger.Warn("Upstream call failed",
		zap.String("operation", operation),
		zap.Int("status", status),
		zap.Error(err))
	writeError(w, status, message)
}

func apiErrorResponse(l *i18n.Localizer, err error) (int, string) {
	if errors.Is(err, history.ErrInvalidEntry) {
		return http.StatusBadGateway, l.T("error.history_invalid")
	}
	if errors.Is(err, player.ErrNoDevice) {
		return http.StatusConflict, l.T("error.no_device")
	}
	if status, message, ok := spotify.APIError(err); ok {
		if status == http.StatusUnauthorized {
			return status, l.T("error.token_expired")
		}
		if status == 0 {
			status = http.StatusBadGateway
		}
		return status, l.T("error.api", message)
	}

	status := spotify.StatusOf(err)
	if status == http.StatusUnauthorized {
		return status, l.T("error.token_expired")
	}
	return status, l.T("error.generic")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
