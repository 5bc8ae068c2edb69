package core

import (
	"fmt"
	"time"
)

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
	DurationMs int      `json:"duration_ms"`
	PreviewURL string   `json:"preview_url,omitempty"`
	URL        string   `json:"url,omitempty"`
}

// Duration returns the track length.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

type UserProfile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email,omitempty"`
	Country     string  `json:"country,omitempty"`
	Product     string  `json:"product,omitempty"`
	URI         string  `json:"uri"`
	URL         string  `json:"url,omitempty"`
	Followers   int     `json:"followers"`
	Images      []Image `json:"images"`
}

// PlayedTrack is one play of a track.
type PlayedTrack struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

// Cursors bound a page of play history in unix milliseconds.
type Cursors struct {
	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`
}

type RecentlyPlayed struct {
	Items   []PlayedTrack `json:"items"`
	Cursors Cursors       `json:"cursors"`
}

type SavedTrack struct {
	AddedAt string `json:"added_at"`
	Track   Track  `json:"track"`
}

type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Active        bool   `json:"is_active"`
	VolumePercent int    `json:"volume_percent"`
}

// Playback is the user's current player state.
type Playback struct {
	Device       Device `json:"device"`
	ShuffleState bool   `json:"shuffle_state"`
	RepeatState  string `json:"repeat_state"`
	Timestamp    int64  `json:"timestamp"`
	ContextURI   string `json:"context_uri,omitempty"`
	ProgressMs   int    `json:"progress_ms"`
	IsPlaying    bool   `json:"is_playing"`
	Item         *Track `json:"item"`
}

type TimeRange string

const (
	TimeRangeShort  TimeRange = "short_term"
	TimeRangeMedium TimeRange = "medium_term"
	TimeRangeLong   TimeRange = "long_term"
)

// ParseTimeRange accepts the three Spotify ranges; empty means medium_term.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case "":
		return TimeRangeMedium, nil
	case TimeRangeShort, TimeRangeMedium, TimeRangeLong:
		return TimeRange(s), nil
	default:
		return "", fmt.Errorf("unsupported time range %q", s)
	}
}
