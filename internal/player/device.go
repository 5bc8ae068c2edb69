package player

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"playdeck/internal/core"
	"playdeck/internal/spotify"
)

// EventKind names the events a player device emits.
type EventKind string

const (
	EventReady               EventKind = "ready"
	EventNotReady            EventKind = "not_ready"
	EventStateChanged        EventKind = "player_state_changed"
	EventInitializationError EventKind = "initialization_error"
	EventAuthenticationError EventKind = "authentication_error"
	EventAccountError        EventKind = "account_error"
	EventPlaybackError       EventKind = "playback_error"
)

// ErrNoDevice is returned when there is no device to play on.
var ErrNoDevice = errors.New("no player device available")

// Snapshot is a device's view of what is playing.
type Snapshot struct {
	DeviceID   string
	Track      *core.Track
	Paused     bool
	PositionMs int
}

type Event struct {
	Kind     EventKind
	DeviceID string
	Snapshot *Snapshot
	Message  string
}

type Handler func(Event)

// Device is a playback endpoint that reports its lifecycle through events.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect()
	State(ctx context.Context) (*Snapshot, error)
	On(kind EventKind, handler Handler)
}

// API is the subset of the Web API the player needs.
type API interface {
	Devices(ctx context.Context) ([]core.Device, error)
	CurrentlyPlaying(ctx context.Context) (*core.Playback, error)
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	PlayTrack(ctx context.Context, uri, deviceID string) error
	SearchTracks(ctx context.Context, query string, limit int) ([]core.Track, error)
}

// eventHub stores handlers and emits events outside its lock.
type eventHub struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
}

func (h *eventHub) On(kind EventKind, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = make(map[EventKind][]Handler)
	}
	h.handlers[kind] = append(h.handlers[kind], handler)
}

func (h *eventHub) emit(ev Event) {
	h.mu.RLock()
	handlers := append([]Handler(nil), h.handlers[ev.Kind]...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ev)
	}
}

// ConnectDevice is a Device backed by a Spotify Connect device, driven through the Web API.
type ConnectDevice struct {
	eventHub

	api    API
	name   string
	logger *zap.Logger

	mu        sync.Mutex
	deviceID  string
	connected bool
	last      *Snapshot
}

// NewConnectDevice prefers the device called name, then the active device, then the first one listed.
func NewConnectDevice(api API, name string, logger *zap.Logger) *ConnectDevice {
	return &ConnectDevice{
		api:    api,
		name:   name,
		logger: logger,
	}
}

func (d *ConnectDevice) Connect(ctx context.Context) error {
	devices, err := d.api.Devices(ctx)
	if err != nil {
		d.emitFailure(EventInitializationError, err)
		return err
	}

	chosen, ok := pickDevice(devices, d.name)
	if !ok {
		d.emit(Event{Kind: EventInitializationError, Message: ErrNoDevice.Error()})
		return ErrNoDevice
	}

	d.mu.Lock()
	d.deviceID = chosen.ID
	d.connected = true
	d.last = nil
	d.mu.Unlock()

	d.logger.Info("Player device ready",
		zap.String("deviceID", chosen.ID),
		zap.String("deviceName", chosen.Name),
		zap.Bool("active", chosen.Active))
	d.emit(Event{Kind: EventReady, DeviceID: chosen.ID})
	return nil
}

func (d *ConnectDevice) Disconnect() {
	d.mu.Lock()
	wasConnected := d.connected
	deviceID := d.deviceID
	d.connected = false
	d.mu.Unlock()

	if wasConnected {
		d.emit(Event{Kind: EventNotReady, DeviceID: deviceID})
	}
}

// State reads the player and emits player_state_changed when the track or the
// paused flag changed since the last read.
func (d *ConnectDevice) State(ctx context.Context) (*Snapshot, error) {
	playback, err := d.api.CurrentlyPlaying(ctx)
	if err != nil {
		d.emitFailure(EventPlaybackError, err)
		return nil, err
	}

	var snap *Snapshot
	if playback != nil {
		snap = &Snapshot{
			DeviceID:   playback.Device.ID,
			Track:      playback.Item,
			Paused:     !playback.IsPlaying,
			PositionMs: playback.ProgressMs,
		}
	}

	d.mu.Lock()
	changed := snapshotChanged(d.last, snap)
	d.last = snap
	d.mu.Unlock()

	if changed {
		d.emit(Event{Kind: EventStateChanged, Snapshot: stoppedIfNil(snap)})
	}
	return snap, nil
}

// emitFailure classifies an API failure into the matching error event.
func (d *ConnectDevice) emitFailure(fallback EventKind, err error) {
	kind := fallback
	switch status := spotify.StatusOf(err); {
	case status == http.StatusUnauthorized:
		kind = EventAuthenticationError
	case status == http.StatusForbidden:
		kind = EventAccountError
	}

	message := err.Error()
	if _, apiMessage, ok := spotify.APIError(err); ok {
		message = apiMessage
	}

	d.logger.Debug("Player device error", zap.String("kind", string(kind)), zap.Error(err))
	d.emit(Event{Kind: kind, Message: message})
}

func pickDevice(devices []core.Device, name string) (core.Device, bool) {
	if len(devices) == 0 {
		return core.Device{}, false
	}
	for _, device := range devices {
		if name != "" && device.Name == name {
			return device, true
		}
	}
	for _, device := range devices {
		if device.Active {
			return device, true
		}
	}
	return devices[0], true
}

func snapshotChanged(prev, next *Snapshot) bool {
	switch {
	case prev == nil && next == nil:
		return false
	case prev == nil || next == nil:
		return true
	case prev.Paused != next.Paused:
		return true
	}
	return trackID(prev.Track) != trackID(next.Track)
}

func trackID(t *core.Track) string {
	if t == nil {
		return ""
	}
	return t.ID
}

// stoppedIfNil turns "nothing playing" into a paused, empty snapshot.
func stoppedIfNil(snap *Snapshot) *Snapshot {
	if snap == nil {
		return &Snapshot{Paused: true}
	}
	return snap
}
