// Package player keeps one listener's in-browser player state on the server and
// drives playback through Spotify Connect.
package player

import (
	"fmt"

	"playdeck/internal/core"
)

// Route is the page the listener is looking at.
type Route string

const (
	RouteHome           Route = "home"
	RouteLiked          Route = "liked"
	RoutePlaylist       Route = "playlist"
	RouteRecently       Route = "recently"
	RoutePlaylistDetail Route = "playlist-detail"
)

// DefaultVolume matches the volume a freshly connected web player starts with.
const DefaultVolume = 50

// ParseRoute validates a route name.
func ParseRoute(s string) (Route, error) {
	switch Route(s) {
	case RouteHome, RouteLiked, RoutePlaylist, RouteRecently, RoutePlaylistDetail:
		return Route(s), nil
	default:
		return "", fmt.Errorf("unknown route %q", s)
	}
}

// State is everything the browser renders about navigation and playback.
type State struct {
	Route             Route       `json:"route"`
	CurrentPlaylistID string      `json:"current_playlist_id,omitempty"`
	DeviceID          string      `json:"device_id,omitempty"`
	Ready             bool        `json:"ready"`
	Transferred       bool        `json:"transferred"`
	Playing           bool        `json:"playing"`
	Track             *core.Track `json:"track"`
	PositionMs        int         `json:"position_ms"`
	DurationMs        int         `json:"duration_ms"`
	Volume            int         `json:"volume"`
	LastError         string      `json:"last_error,omitempty"`
}

func InitialState() State {
	return State{Route: RouteHome, Volume: DefaultVolume}
}

// Action is a state transition request. Reduce ignores action types it does not know.
type Action interface {
	ActionName() string
}

type Navigate struct{ Route Route }

type SelectPlaylist struct{ PlaylistID string }

type DeviceReady struct{ DeviceID string }

type DeviceNotReady struct{ DeviceID string }

// StateChanged carries a fresh device snapshot; nil means nothing is loaded.
type StateChanged struct{ Snapshot *Snapshot }

type PositionUpdated struct{ PositionMs int }

type Transferred struct{}

type VolumeChanged struct{ Percent int }

type DeviceError struct {
	Kind    EventKind
	Message string
}

func (Navigate) ActionName() string        { return "navigate" }
func (SelectPlaylist) ActionName() string  { return "select_playlist" }
func (DeviceReady) ActionName() string     { return "device_ready" }
func (DeviceNotReady) ActionName() string  { return "device_not_ready" }
func (StateChanged) ActionName() string    { return "state_changed" }
func (PositionUpdated) ActionName() string { return "position_updated" }
func (Transferred) ActionName() string     { return "transferred" }
func (VolumeChanged) ActionName() string   { return "volume_changed" }
func (DeviceError) ActionName() string     { return "device_error" }

// Reduce returns the state after applying a. State is a value, so s is never mutated.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case Navigate:
		s.Route = a.Route
	case SelectPlaylist:
		s.CurrentPlaylistID = a.PlaylistID
	case DeviceReady:
		s.DeviceID = a.DeviceID
		s.Ready = true
		s.LastError = ""
	case DeviceNotReady:
		// The device keeps its id; it may come back.
		s.Ready = false
	case StateChanged:
		if a.Snapshot == nil {
			return s
		}
		if a.Snapshot.Track != nil {
			track := *a.Snapshot.Track
			s.Track = &track
			s.DurationMs = track.DurationMs
		} else {
			s.Track = nil
			s.DurationMs = 0
		}
		s.Playing = !a.Snapshot.Paused
		s.PositionMs = a.Snapshot.PositionMs
	case PositionUpdated:
		s.PositionMs = max(a.PositionMs, 0)
	case Transferred:
		s.Transferred = true
	case VolumeChanged:
		s.Volume = min(max(a.Percent, 0), 100)
	case DeviceError:
		s.LastError = a.Message
		if a.Kind == EventAuthenticationError || a.Kind == EventAccountError {
			s.Ready = false
		}
	}
	return s
}
