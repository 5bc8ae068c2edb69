package player

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"playdeck/internal/core"
)

// DeviceFactory builds the device a new controller drives.
type DeviceFactory func(api API) Device

type registryEntry struct {
	controller *Controller
	refs       int
}

// Registry shares one controller per session between that session's open connections.
type Registry struct {
	config    *core.AppConfig
	gauge     prometheus.Gauge
	logger    *zap.Logger
	newDevice DeviceFactory

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry creates a registry that reports open players on gauge, which may be nil.
func NewRegistry(config *core.AppConfig, gauge prometheus.Gauge, logger *zap.Logger) *Registry {
	r := &Registry{
		config:  config,
		gauge:   gauge,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
	r.newDevice = func(api API) Device {
		return NewConnectDevice(api, config.DeviceName, logger.Named("device"))
	}
	return r
}

// WithDeviceFactory replaces how devices are built.
func (r *Registry) WithDeviceFactory(factory DeviceFactory) *Registry {
	r.newDevice = factory
	return r
}

// Acquire returns the session's controller, creating and starting it on first use.
// Every successful Acquire must be paired with Release.
func (r *Registry) Acquire(ctx context.Context, sessionID string, api API) (*Controller, error) {
	r.mu.Lock()
	if entry, ok := r.entries[sessionID]; ok {
		entry.refs++
		r.mu.Unlock()
		return entry.controller, nil
	}
	r.mu.Unlock()

	controller := NewController(sessionID, api, r.newDevice(api), r.config,
		r.logger.With(zap.String("session", sessionID)))
	if err := controller.Start(ctx); err != nil {
		controller.Close()
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another connection may have won the race while this one was starting.
	if entry, ok := r.entries[sessionID]; ok {
		entry.refs++
		go controller.Close()
		return entry.controller, nil
	}

	r.entries[sessionID] = &registryEntry{controller: controller, refs: 1}
	r.updateGauge()
	r.logger.Info("Player opened", zap.Int("players", len(r.entries)))
	return controller, nil
}

// Release drops one reference and closes the controller with the last one.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, sessionID)
	r.updateGauge()
	r.mu.Unlock()

	entry.controller.Close()
}

// Close force-closes the session's controller, e.g. on logout.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
		r.updateGauge()
	}
	r.mu.Unlock()

	if ok {
		entry.controller.Close()
	}
}

func (r *Registry) Get(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return entry.controller, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run blocks until ctx is done, then closes every controller.
func (r *Registry) Run(ctx context.Context) error {
	<-ctx.Done()
	r.Shutdown()
	return nil
}

func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.updateGauge()
	r.mu.Unlock()

	for _, entry := range entries {
		entry.controller.Close()
	}
	if len(entries) > 0 {
		r.logger.Info("Closed all players", zap.Int("count", len(entries)))
	}
}

func (r *Registry) updateGauge() {
	if r.gauge != nil {
		r.gauge.Set(float64(len(r.entries)))
	}
}
