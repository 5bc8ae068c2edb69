// Package spotify wraps the Spotify Web API for one authenticated listener.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"playdeck/internal/core"
	"playdeck/internal/history"
	"playdeck/pkg/query"
)

const (
	// MaxPageSize is the largest page the Web API returns for library and history reads
	MaxPageSize = 50
	// MaxVolumePercent is the upper bound accepted by the volume endpoint
	MaxVolumePercent = 100
	// UnknownArtist is the default value when artist name is not available
	UnknownArtist = "Unknown"
)

var (
	// ErrNotAuthenticated is returned when the client was built without a token.
	ErrNotAuthenticated = errors.New("client not authenticated")
)

// Observer receives upstream call outcomes. Implementations must be safe for concurrent use.
type Observer interface {
	UpstreamCall(operation string, status int, duration time.Duration)
	DuplicatesDropped(n int)
}

type nopObserver struct{}

func (nopObserver) UpstreamCall(string, int, time.Duration) {}
func (nopObserver) DuplicatesDropped(int)                   {}

// Client is a per-listener view over the Web API. Build one per request from the
// session's token.
type Client struct {
	config   *core.AppConfig
	logger   *zap.Logger
	client   *spotify.Client
	parser   *query.Parser
	observer Observer
}

// NewClient builds a Client on an authenticated HTTP client. A nil httpClient
// yields a Client whose calls fail with ErrNotAuthenticated. An empty apiBaseURL
// uses the public Web API.
func NewClient(httpClient *http.Client, config *core.AppConfig, apiBaseURL string, logger *zap.Logger) *Client {
	c := &Client{
		config:   config,
		logger:   logger,
		parser:   query.NewParser(),
		observer: nopObserver{},
	}

	if httpClient != nil {
		var opts []spotify.ClientOption
		if apiBaseURL != "" {
			opts = append(opts, spotify.WithBaseURL(apiBaseURL))
		}
		c.client = spotify.New(httpClient, opts...)
	}

	return c
}

// WithObserver sets the observer that receives upstream call metrics.
func (c *Client) WithObserver(o Observer) *Client {
	if o != nil {
		c.observer = o
	}
	return c
}

// call runs one upstream operation with debug logging and observation.
func (c *Client) call(operation string, fn func() error) error {
	if c.client == nil {
		return ErrNotAuthenticated
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	status := http.StatusOK
	if err != nil {
		status = StatusOf(err)
	}
	c.observer.UpstreamCall(operation, status, elapsed)

	if err != nil {
		c.logger.Debug("Spotify call failed",
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return err
	}

	c.logger.Debug("Spotify call",
		zap.String("operation", operation),
		zap.Duration("elapsed", elapsed))
	return nil
}

// Profile returns the current user's profile.
func (c *Client) Profile(ctx context.Context) (*core.UserProfile, error) {
	var user *spotify.PrivateUser
	err := c.call("profile", func() (err error) {
		user, err = c.client.CurrentUser(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &core.UserProfile{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Country:     user.Country,
		Product:     user.Product,
		URI:         string(user.URI),
		URL:         user.ExternalURLs["spotify"],
		Followers:   int(user.Followers.Count),
		Images:      convertImages(user.Images),
	}, nil
}

// RecentlyPlayed returns up to limit distinct tracks from the listener's recent plays,
// newest first. The API returns plays newest first and the de-duplication keeps the
// first play of each track, which is its most recent one.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) (*core.RecentlyPlayed, error) {
	fetchSize := c.config.HistoryFetchSize
	if fetchSize <= 0 || fetchSize > MaxPageSize {
		fetchSize = MaxPageSize
	}

	var items []spotify.RecentlyPlayedItem
	err := c.call("recently_played", func() (err error) {
		items, err = c.client.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(fetchSize)})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get recently played: %w", err)
	}

	entries := make([]history.Entry[core.PlayedTrack], 0, len(items))
	for i := range items {
		played := core.PlayedTrack{
			Track:    convertSimpleTrack(&items[i].Track),
			PlayedAt: items[i].PlayedAt,
		}
		key := historyKey(played.Track)
		if key == "" {
			c.logger.Debug("Skipping play without a track id or URI",
				zap.String("name", played.Track.Name),
				zap.Time("playedAt", played.PlayedAt))
			continue
		}
		entries = append(entries, history.Entry[core.PlayedTrack]{
			TrackID:  key,
			PlayedAt: played.PlayedAt,
			Payload:  played,
		})
	}

	unique, err := history.DedupeAndLimit(entries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to de-duplicate recently played: %w", err)
	}

	if dropped := len(entries) - distinctTracks(entries); dropped > 0 {
		c.observer.DuplicatesDropped(dropped)
	}

	result := &core.RecentlyPlayed{Items: make([]core.PlayedTrack, 0, len(unique))}
	for _, entry := range unique {
		result.Items = append(result.Items, entry.Payload)
	}
	if len(entries) > 0 {
		result.Cursors = core.Cursors{
			After:  strconv.FormatInt(entries[0].PlayedAt.UnixMilli(), 10),
			Before: strconv.FormatInt(entries[len(entries)-1].PlayedAt.UnixMilli(), 10),
		}
	}

	c.logger.Debug("Recently played resolved",
		zap.Int("plays", len(entries)),
		zap.Int("returned", len(result.Items)),
		zap.Int("limit", limit))

	return result, nil
}

// historyKey identifies a played track. Local files have no id, so their URI
// (spotify:local:...) stands in for it.
func historyKey(track core.Track) string {
	if track.ID != "" {
		return track.ID
	}
	return track.URI
}

func distinctTracks(entries []history.Entry[core.PlayedTrack]) int {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.TrackID] = struct{}{}
	}
	return len(seen)
}

// LikedTracks returns the listener's saved tracks, most recently saved first.
func (c *Client) LikedTracks(ctx context.Context, limit int) ([]core.SavedTrack, error) {
	var page *spotify.SavedTrackPage
	err := c.call("liked_tracks", func() (err error) {
		page, err = c.client.CurrentUsersTracks(ctx, spotify.Limit(clampPage(limit)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get liked tracks: %w", err)
	}

	tracks := make([]core.SavedTrack, 0, len(page.Tracks))
	for i := range page.Tracks {
		tracks = append(tracks, core.SavedTrack{
			AddedAt: page.Tracks[i].AddedAt,
			Track:   convertFullTrack(&page.Tracks[i].FullTrack),
		})
	}
	return tracks, nil
}

// TopTracks returns the listener's most played tracks over the time range.
func (c *Client) TopTracks(ctx context.Context, timeRange core.TimeRange, limit int) ([]core.Track, error) {
	var page *spotify.FullTrackPage
	err := c.call("top_tracks", func() (err error) {
		page, err = c.client.CurrentUsersTopTracks(ctx,
			spotify.Timerange(spotify.Range(timeRange)),
			spotify.Limit(clampPage(limit)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get top tracks: %w", err)
	}

	return convertFullTracks(page.Tracks), nil
}

// CurrentlyPlaying returns the player state, or nil when nothing is playing.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*core.Playback, error) {
	var state *spotify.PlayerState
	err := c.call("player_state", func() (err error) {
		state, err = c.client.PlayerState(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get player state: %w", err)
	}

	if state == nil || state.Item == nil {
		return nil, nil
	}

	item := convertFullTrack(state.Item)
	return &core.Playback{
		Device:       convertDevice(&state.Device),
		ShuffleState: state.ShuffleState,
		RepeatState:  state.RepeatState,
		Timestamp:    state.Timestamp,
		ContextURI:   string(state.PlaybackContext.URI),
		ProgressMs:   int(state.Progress),
		IsPlaying:    state.Playing,
		Item:         &item,
	}, nil
}

// SearchTracks searches the catalog and returns tracks in API order. A pasted track
// link or URI resolves directly to that track.
func (c *Client) SearchTracks(ctx context.Context, rawQuery string, limit int) ([]core.Track, error) {
	q := c.parser.Parse(rawQuery)

	if q.IsTrackLink() {
		track, err := c.GetTrack(ctx, q.TrackID)
		if err != nil {
			return nil, err
		}
		return []core.Track{*track}, nil
	}

	if q.Text == "" {
		return []core.Track{}, nil
	}

	var results *spotify.SearchResult
	err := c.call("search", func() (err error) {
		results, err = c.client.Search(ctx, q.Text, spotify.SearchTypeTrack, spotify.Limit(clampPage(limit)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	if results == nil || results.Tracks == nil {
		return []core.Track{}, nil
	}
	return convertFullTracks(results.Tracks.Tracks), nil
}

// GetTrack returns one catalog track.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*core.Track, error) {
	var track *spotify.FullTrack
	err := c.call("get_track", func() (err error) {
		track, err = c.client.GetTrack(ctx, spotify.ID(trackID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}

	converted := convertFullTrack(track)
	return &converted, nil
}

// PlayTrack starts the track URI on the device, or on the active device when deviceID is empty.
func (c *Client) PlayTrack(ctx context.Context, uri, deviceID string) error {
	opts := &spotify.PlayOptions{URIs: []spotify.URI{spotify.URI(uri)}}
	if deviceID != "" {
		id := spotify.ID(deviceID)
		opts.DeviceID = &id
	}

	err := c.call("play", func() error {
		return c.client.PlayOpt(ctx, opts)
	})
	if err != nil {
		return fmt.Errorf("failed to play track: %w", err)
	}

	c.logger.Info("Track playing",
		zap.String("uri", uri),
		zap.String("deviceID", deviceID))
	return nil
}

// TransferPlayback moves playback to the device.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	err := c.call("transfer", func() error {
		return c.client.TransferPlayback(ctx, spotify.ID(deviceID), play)
	})
	if err != nil {
		return fmt.Errorf("failed to transfer playback: %w", err)
	}

	c.logger.Info("Playback transferred",
		zap.String("deviceID", deviceID),
		zap.Bool("play", play))
	return nil
}

// Devices lists the listener's Spotify Connect devices.
func (c *Client) Devices(ctx context.Context) ([]core.Device, error) {
	var devices []spotify.PlayerDevice
	err := c.call("devices", func() (err error) {
		devices, err = c.client.PlayerDevices(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get player devices: %w", err)
	}

	result := make([]core.Device, 0, len(devices))
	for i := range devices {
		result = append(result, convertDevice(&devices[i]))
	}
	return result, nil
}

// Pause pauses playback on the active device.
func (c *Client) Pause(ctx context.Context) error {
	if err := c.call("pause", func() error { return c.client.Pause(ctx) }); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	return nil
}

// Resume continues playback on the active device.
func (c *Client) Resume(ctx context.Context) error {
	if err := c.call("resume", func() error { return c.client.Play(ctx) }); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	return nil
}

// Next skips to the next track in the queue.
func (c *Client) Next(ctx context.Context) error {
	if err := c.call("next", func() error { return c.client.Next(ctx) }); err != nil {
		return fmt.Errorf("failed to skip to next: %w", err)
	}
	return nil
}

// Previous skips back to the previous track.
func (c *Client) Previous(ctx context.Context) error {
	if err := c.call("previous", func() error { return c.client.Previous(ctx) }); err != nil {
		return fmt.Errorf("failed to skip to previous: %w", err)
	}
	return nil
}

// Seek moves playback to positionMs; negative positions seek to the start.
func (c *Client) Seek(ctx context.Context, positionMs int) error {
	if positionMs < 0 {
		positionMs = 0
	}
	if err := c.call("seek", func() error { return c.client.Seek(ctx, positionMs) }); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

// SetVolume sets the active device volume, clamped to 0-100.
func (c *Client) SetVolume(ctx context.Context, percent int) error {
	percent = min(max(percent, 0), MaxVolumePercent)
	if err := c.call("volume", func() error { return c.client.Volume(ctx, percent) }); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	return nil
}

func clampPage(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
