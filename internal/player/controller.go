package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"playdeck/internal/core"
	"playdeck/pkg/query"
)

const subscriberBuffer = 8

// ErrQueryTooShort is returned by CheckQuery for queries under the minimum length.
var ErrQueryTooShort = errors.New("search query too short")

// CheckQuery normalizes q and rejects it when it has fewer than minLength runes.
func CheckQuery(q string, minLength int) (query.Query, error) {
	parsed := query.NewParser().Parse(q)
	if parsed.Len() < minLength {
		return parsed, ErrQueryTooShort
	}
	return parsed, nil
}

// Controller owns the player state of one listener session.
type Controller struct {
	sessionID string
	api       API
	device    Device
	config    *core.AppConfig
	logger    *zap.Logger
	poller    *Poller

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	state       State
	subscribers map[int]chan State
	nextSubID   int
	closed      bool
	closeOnce   sync.Once

	wait func(ctx context.Context, d time.Duration) error
}

func NewController(sessionID string, api API, device Device, config *core.AppConfig, logger *zap.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		sessionID:   sessionID,
		api:         api,
		device:      device,
		config:      config,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		state:       InitialState(),
		subscribers: make(map[int]chan State),
		wait:        sleepContext,
	}
	c.poller = NewPoller(config.PollInterval, c.poll, c.isPlaying, logger)

	for _, kind := range []EventKind{
		EventReady, EventNotReady, EventStateChanged,
		EventInitializationError, EventAuthenticationError, EventAccountError, EventPlaybackError,
	} {
		device.On(kind, c.handleEvent)
	}

	return c
}

// Start connects the device and reads the current playback once.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.device.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect player device: %w", err)
	}
	c.Sync(ctx)
	return nil
}

// Sync reads the device state; changes arrive as events.
func (c *Controller) Sync(ctx context.Context) {
	if _, err := c.device.State(ctx); err != nil {
		c.logger.Debug("Player sync failed", zap.Error(err))
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Dispatch applies an action, notifies subscribers and starts position polling
// when playback begins.
func (c *Controller) Dispatch(action Action) {
	c.mu.Lock()
	prev := c.state
	next := Reduce(prev, action)
	c.state = next
	closed := c.closed
	for _, ch := range c.subscribers {
		offer(ch, next)
	}
	c.mu.Unlock()

	c.logger.Debug("Player action", zap.String("action", action.ActionName()))

	if !closed && !prev.Playing && next.Playing {
		c.poller.Start(c.ctx)
	}
}

// Subscribe returns a channel of state snapshots, starting with the current one.
// Slow subscribers only ever miss intermediate states, never the latest.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan State, subscriberBuffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// PlayTrack plays uri on this player's device, moving playback here first if needed.
func (c *Controller) PlayTrack(ctx context.Context, uri string) error {
	st := c.State()
	if st.DeviceID == "" {
		c.logger.Warn("Play requested without a device", zap.String("uri", uri))
		return ErrNoDevice
	}

	if !st.Transferred && st.Ready {
		if err := c.api.TransferPlayback(ctx, st.DeviceID, false); err != nil {
			c.logger.Error("Failed to transfer playback", zap.String("deviceID", st.DeviceID), zap.Error(err))
			c.Dispatch(DeviceError{Kind: EventPlaybackError, Message: err.Error()})
			return err
		}
		c.Dispatch(Transferred{})

		if err := c.wait(ctx, c.config.TransferDelay); err != nil {
			return err
		}
	}

	if err := c.api.PlayTrack(ctx, uri, st.DeviceID); err != nil {
		c.logger.Error("Failed to play track", zap.String("uri", uri), zap.Error(err))
		c.Dispatch(DeviceError{Kind: EventPlaybackError, Message: err.Error()})
		return err
	}

	c.Sync(ctx)
	return nil
}

// Search returns matching tracks. Short queries return no results without an API call.
// On failure the result is empty and the error is returned.
func (c *Controller) Search(ctx context.Context, raw string) ([]core.Track, error) {
	q, err := CheckQuery(raw, c.config.MinSearchLength)
	if err != nil {
		return []core.Track{}, nil
	}

	tracks, err := c.api.SearchTracks(ctx, q.Text, c.config.SearchLimit)
	if err != nil {
		c.logger.Warn("Search failed", zap.String("query", q.Text), zap.Error(err))
		return []core.Track{}, err
	}
	return tracks, nil
}

// Close stops polling, disconnects the device and ends all subscriptions.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.poller.Stop()
		c.device.Disconnect()

		c.mu.Lock()
		for id, ch := range c.subscribers {
			delete(c.subscribers, id)
			close(ch)
		}
		c.mu.Unlock()

		c.logger.Info("Player closed", zap.String("session", c.sessionID))
	})
}

func (c *Controller) handleEvent(ev Event) {
	switch ev.Kind {
	case EventReady:
		c.Dispatch(DeviceReady{DeviceID: ev.DeviceID})
	case EventNotReady:
		c.Dispatch(DeviceNotReady{DeviceID: ev.DeviceID})
	case EventStateChanged:
		c.Dispatch(StateChanged{Snapshot: ev.Snapshot})
	default:
		c.logger.Warn("Player device error",
			zap.String("kind", string(ev.Kind)),
			zap.String("message", ev.Message))
		c.Dispatch(DeviceError{Kind: ev.Kind, Message: ev.Message})
	}
}

func (c *Controller) isPlaying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Playing && !c.closed
}

func (c *Controller) poll(ctx context.Context) {
	snap, err := c.device.State(ctx)
	if err != nil || snap == nil {
		return
	}
	c.Dispatch(PositionUpdated{PositionMs: snap.PositionMs})
}

// offer delivers s, dropping the oldest queued state when the buffer is full.
func offer(ch chan State, s State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
