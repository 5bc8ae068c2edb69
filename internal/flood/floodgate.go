// Package flood provides per-session request rate limiting for the API.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the fixed sliding window (always 1 minute)
	windowDuration = 60 * time.Second
	// cleanupInterval is how often idle keys are swept
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long a key may stay silent before it is forgotten
	idleTimeout = 10 * time.Minute
)

// Floodgate limits requests per session and route group with a sliding window.
// A non-positive limit disables limiting.
type Floodgate struct {
	limitPerMinute int
	entries        map[string]*keyEntry // Key: "sessionID:routeGroup"
	mutex          sync.RWMutex
	stopCleanup    chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

type keyEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a Floodgate allowing limitPerMinute requests per key.
func New(limitPerMinute int) *Floodgate {
	fg := &Floodgate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*keyEntry),
		stopCleanup:    make(chan struct{}),
		now:            time.Now,
	}

	go fg.cleanup()

	return fg
}

// Stop stops the background cleanup goroutine. Safe to call twice.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// Key builds the limiter key for a session and route group.
func Key(sessionID, routeGroup string) string {
	return sessionID + ":" + routeGroup
}

// Allow records a request for the session and route group. When the window is
// full it returns false and how long until the oldest request leaves it.
func (fg *Floodgate) Allow(sessionID, routeGroup string) (bool, time.Duration) {
	if fg.limitPerMinute <= 0 {
		return true, 0
	}

	key := Key(sessionID, routeGroup)
	now := fg.now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[key]
	if !exists {
		entry = &keyEntry{
			timestamps: make([]time.Time, 0, fg.limitPerMinute+1),
		}
		fg.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limitPerMinute {
		retryAfter := entry.timestamps[0].Add(windowDuration).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	entry.timestamps = append(entry.timestamps, now)
	return true, 0
}

// Forget drops every key that belongs to the session (used on logout).
func (fg *Floodgate) Forget(sessionID string) {
	prefix := sessionID + ":"

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	for key := range fg.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(fg.entries, key)
		}
	}
}

func (fg *Floodgate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := fg.now().Add(-idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics about the floodgate for monitoring/debugging
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	return Stats{
		ActiveKeys:     len(fg.entries),
		LimitPerMinute: fg.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

// Stats contains floodgate statistics
type Stats struct {
	ActiveKeys     int `json:"active_keys"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
