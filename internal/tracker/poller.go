package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/vaidashi/stationery-orders/pkg/logger"
)

// Poller runs a refresh function on a fixed interval while a condition holds
type Poller struct {
	interval time.Duration
	refresh  func(ctx context.Context) error
	active   func() bool
	logger   logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewPoller creates a poller; a nil active func polls on every tick
func NewPoller(interval time.Duration, refresh func(ctx context.Context) error, active func() bool, logger logger.Logger) *Poller {
	if active == nil {
		active = func() bool { return true }
	}

	return &Poller{
		interval: interval,
		refresh:  refresh,
		active:   active,
		logger:   logger,
	}
}

// Start starts polling
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.poll(p.ctx)
	}()

	p.logger.Info("Poller started", "interval", p.interval)
}

// Stop stops polling and waits for an in-flight refresh to return
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Poller stopped")
}

func (p *Poller) poll(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.active() {
				continue
			}

			rctx, cancel := context.WithTimeout(ctx, p.interval)
			if err := p.refresh(rctx); err != nil {
				p.logger.Warn("Poll refresh failed", "error", err)
			}
			cancel()
		}
	}
}
