package player

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller runs tick every interval while active holds. It stops itself on the
// first tick that finds active false; Start brings it back.
type Poller struct {
	interval time.Duration
	tick     func(ctx context.Context)
	active   func() bool
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(interval time.Duration, tick func(ctx context.Context), active func() bool, logger *zap.Logger) *Poller {
	return &Poller{
		interval: interval,
		tick:     tick,
		active:   active,
		logger:   logger,
	}
}

// Start launches the loop unless it is already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.run(loopCtx, done)
	p.logger.Debug("Position polling started", zap.Duration("interval", p.interval))
}

// Stop cancels the loop and waits for it to exit. It must not be called from tick.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Debug("Position polling stopped")
}

// Running reports whether the loop is live.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.cancel()
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.retireIfIdle(done) {
				return
			}
			p.tick(ctx)
		}
	}
}

// retireIfIdle checks active under the poller lock so a concurrent Start either
// sees the loop running or finds it fully retired.
func (p *Poller) retireIfIdle(done chan struct{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active() {
		return false
	}
	if p.done == done {
		p.cancel()
		p.cancel, p.done = nil, nil
	}
	p.logger.Debug("Position polling idle, stopping")
	return true
}
