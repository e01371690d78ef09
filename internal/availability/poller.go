package availability

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// Refresher is what the Poller drives.  *Controller implements it.
type Refresher interface {
	Refresh(ctx context.Context, trips []model.TripKey, force bool) Report
}

// PollConfig tunes a Poller.
type PollConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxVisible int           `yaml:"max_visible"`
}

// DefaultPollConfig returns the stock polling cadence.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 6 * time.Second, MaxVisible: 10}
}

// Poller refreshes the focused trip and the first visible trips on a
// fixed interval.  Ticks never overlap: a firing that finds a tick still
// running is skipped, not queued.  Polling pauses while the session is
// hidden.
type Poller struct {
	ctrl   Refresher
	clock  clock.Clock
	cfg    PollConfig
	logger *slog.Logger

	mu      sync.Mutex
	focused *model.TripKey
	visible []model.TripKey
	hidden  bool

	running atomic.Bool
	skipped atomic.Int64
	ticks   atomic.Int64
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewPoller returns a Poller driving ctrl.  Zero fields of cfg take
// their defaults.
func NewPoller(ctrl Refresher, clk clock.Clock, cfg PollConfig, logger *slog.Logger) *Poller {
	def := DefaultPollConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxVisible <= 0 {
		cfg.MaxVisible = def.MaxVisible
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		ctrl:   ctrl,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With("component", "poller"),
		wake:   make(chan struct{}, 1),
	}
}

// SetFocus sets the expanded trip, or clears it when trip is nil.
func (p *Poller) SetFocus(trip *model.TripKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if trip == nil {
		p.focused = nil
		return
	}
	t := *trip
	p.focused = &t
}

// SetVisibleTrips replaces the trips on the current result page, in
// display order.
func (p *Poller) SetVisibleTrips(trips []model.TripKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = append([]model.TripKey(nil), trips...)
}

// SetVisible records whether the session is on screen.  Becoming visible
// again triggers an immediate tick.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	wasHidden := p.hidden
	p.hidden = !visible
	p.mu.Unlock()
	if visible && wasHidden {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Visible reports whether polling is active.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.hidden
}

// Targets returns the trips the next tick refreshes: the focused trip
// first, then up to MaxVisible of the visible trips without it.
func (p *Poller) Targets() []model.TripKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.TripKey, 0, p.cfg.MaxVisible+1)
	if p.focused != nil {
		out = append(out, *p.focused)
	}
	visible := p.visible
	if len(visible) > p.cfg.MaxVisible {
		visible = visible[:p.cfg.MaxVisible]
	}
	for _, t := range visible {
		if p.focused != nil && t == *p.focused {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Tick runs one refresh unless another tick is in progress, in which
// case it returns false immediately.  A hidden session ticks as a no-op.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return false
	}
	defer p.running.Store(false)
	if !p.Visible() {
		return true
	}
	targets := p.Targets()
	if len(targets) == 0 {
		return true
	}
	p.ticks.Add(1)
	rep := p.ctrl.Refresh(ctx, targets, false)
	p.logger.Debug("tick", "targets", len(targets), "fetched", len(rep.Records), "failed", len(rep.Failed))
	return true
}

// Stats returns how many ticks refreshed something and how many
// firings were skipped because a tick was still running.
func (p *Poller) Stats() (ticks, skipped int64) {
	return p.ticks.Load(), p.skipped.Load()
}

// Run fires ticks until ctx is done, then waits for a running tick.
func (p *Poller) Run(ctx context.Context) {
	t := p.clock.NewTicker(p.cfg.Interval)
	defer t.Stop()
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.fire(ctx)
		case <-p.wake:
			p.fire(ctx)
		}
	}
}

// fire starts a tick in the background so the loop keeps observing the
// timer; overlapping firings are dropped by Tick's guard.
func (p *Poller) fire(ctx context.Context) {
	if p.running.Load() {
		p.skipped.Add(1)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Tick(ctx)
	}()
}
