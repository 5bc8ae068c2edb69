package player

import (
	"context"
	"sync"

	"playdeck/internal/core"
)

// fakeAPI records calls and returns canned responses.
type fakeAPI struct {
	mu sync.Mutex

	devices     []core.Device
	devicesErr  error
	playback    *core.Playback
	playbackErr error
	transferErr error
	playErr     error
	searchErr   error
	results     []core.Track

	transfers []string
	plays     []string
	searches  []string
}

func (f *fakeAPI) Devices(context.Context) ([]core.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.devicesErr
}

func (f *fakeAPI) CurrentlyPlaying(context.Context) (*core.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playback, f.playbackErr
}

func (f *fakeAPI) setPlayback(p *core.Playback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playback = p
}

func (f *fakeAPI) TransferPlayback(_ context.Context, deviceID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, deviceID)
	return f.transferErr
}

func (f *fakeAPI) PlayTrack(_ context.Context, uri, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, deviceID+"|"+uri)
	return f.playErr
}

func (f *fakeAPI) SearchTracks(_ context.Context, q string, _ int) ([]core.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, q)
	return f.results, f.searchErr
}

func (f *fakeAPI) counts() (transfers, plays, searches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers), len(f.plays), len(f.searches)
}

// fakeDevice emits events synchronously and deterministically when told to.
type fakeDevice struct {
	eventHub

	mu          sync.Mutex
	id          string
	connectErr  error
	snapshot    *Snapshot
	connected   bool
	disconnects int
	stateCalls  int
}

func (d *fakeDevice) Connect(context.Context) error {
	if d.connectErr != nil {
		d.emit(Event{Kind: EventInitializationError, Message: d.connectErr.Error()})
		return d.connectErr
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	d.emit(Event{Kind: EventReady, DeviceID: d.id})
	return nil
}

func (d *fakeDevice) Disconnect() {
	d.mu.Lock()
	d.connected = false
	d.disconnects++
	d.mu.Unlock()
	d.emit(Event{Kind: EventNotReady, DeviceID: d.id})
}

func (d *fakeDevice) State(context.Context) (*Snapshot, error) {
	d.mu.Lock()
	d.stateCalls++
	snap := d.snapshot
	d.mu.Unlock()
	return snap, nil
}

func (d *fakeDevice) setSnapshot(s *Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = s
}

func (d *fakeDevice) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateCalls
}

// push emits a player_state_changed event as the real device would.
func (d *fakeDevice) push(s *Snapshot) {
	d.setSnapshot(s)
	d.emit(Event{Kind: EventStateChanged, Snapshot: s})
}
