// Package availability keeps a best-effort fresh view of seat
// availability across many trips without overwhelming the booking
// server: per-trip TTLs, de-duplicated in-flight fetches, a global
// cool-down after rate limiting and batched merges into a shared Map.
package availability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// Fetcher loads the availability record of one trip.  *api.Client
// implements it.
type Fetcher interface {
	FetchAvailability(ctx context.Context, trip model.TripKey) (model.Availability, error)
}

// Options tunes a Controller.
type Options struct {
	// TTL is the minimum age of a record before a regular refresh
	// fetches it again.
	TTL time.Duration `yaml:"ttl"`
	// ForceTTL replaces TTL for forced refreshes.
	ForceTTL time.Duration `yaml:"force_ttl"`
	// Backoff is the global cool-down after a rate-limited response.  A
	// longer Retry-After from the server wins.
	Backoff time.Duration `yaml:"backoff"`
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{TTL: 8 * time.Second, ForceTTL: 2 * time.Second, Backoff: 15 * time.Second}
}

// Report describes what one Refresh did.  Records holds the payload
// each fetched trip resolved to, including ones shared with a
// concurrent caller.
type Report struct {
	Records      map[string]model.Availability `json:"records"`
	Skipped      []string                      `json:"skipped"`
	Failed       []string                      `json:"failed"`
	BackoffUntil time.Time                     `json:"backoffUntil,omitempty"`
}

// Controller refreshes the shared Map.  Construct one per surface that
// needs availability; instances share nothing.
type Controller struct {
	fetcher Fetcher
	store   *Map
	clock   clock.Clock
	opts    Options
	logger  *slog.Logger
	group   singleflight.Group

	mu           sync.Mutex
	lastFetched  map[string]time.Time
	backoffUntil time.Time
	stopped      bool
}

// NewController returns a Controller writing into store.  Zero fields of
// opts take their defaults.
func NewController(fetcher Fetcher, store *Map, clk clock.Clock, opts Options, logger *slog.Logger) *Controller {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.ForceTTL <= 0 {
		opts.ForceTTL = def.ForceTTL
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		fetcher:     fetcher,
		store:       store,
		clock:       clk,
		opts:        opts,
		logger:      logger.With("component", "availability"),
		lastFetched: map[string]time.Time{},
	}
}

// Map returns the shared map the controller writes.
func (c *Controller) Map() *Map { return c.store }

// BackoffUntil returns the end of the current cool-down, or the zero
// time when none is active.
func (c *Controller) BackoffUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock.Now().Before(c.backoffUntil) {
		return c.backoffUntil
	}
	return time.Time{}
}

// Refresh fetches every due trip and merges the successes into the Map
// in one batch.  A trip is due when its record is older than TTL, or
// ForceTTL when force is set.  While a rate-limit cool-down is active
// nothing is fetched, forced or not.  Failures never surface: a failed
// trip keeps its previous record.
func (c *Controller) Refresh(ctx context.Context, trips []model.TripKey, force bool) Report {
	report := Report{Records: map[string]model.Availability{}, Skipped: []string{}, Failed: []string{}}
	due := c.due(trips, force, &report)
	if len(due) == 0 {
		return report
	}

	type outcome struct {
		key string
		rec model.Availability
		err error
	}
	results := make([]outcome, len(due))
	var wg sync.WaitGroup
	for i, trip := range due {
		wg.Add(1)
		go func(i int, trip model.TripKey) {
			defer wg.Done()
			key := trip.String()
			v, err, _ := c.group.Do(key, func() (interface{}, error) {
				return c.fetch(ctx, trip)
			})
			results[i] = outcome{key: key, err: err}
			if err == nil {
				results[i].rec = v.(model.Availability)
			}
		}(i, trip)
	}
	wg.Wait()

	batch := make(map[string]model.Availability, len(results))
	for _, r := range results {
		if r.err != nil {
			report.Failed = append(report.Failed, r.key)
			continue
		}
		batch[r.key] = r.rec
		report.Records[r.key] = clone(r.rec)
	}

	c.mu.Lock()
	stopped := c.stopped
	if c.clock.Now().Before(c.backoffUntil) {
		report.BackoffUntil = c.backoffUntil
	}
	c.mu.Unlock()
	if stopped {
		return report
	}
	c.store.Merge(batch)
	return report
}

// due returns the distinct trips of trips that should be fetched now and
// records the rest as skipped.
func (c *Controller) due(trips []model.TripKey, force bool, report *Report) []model.TripKey {
	ttl := c.opts.TTL
	if force {
		ttl = c.opts.ForceTTL
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{}, len(trips))
	out := make([]model.TripKey, 0, len(trips))
	for _, trip := range trips {
		key := trip.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if trip.Validate() != nil {
			continue
		}
		if c.stopped || now.Before(c.backoffUntil) {
			report.Skipped = append(report.Skipped, key)
			continue
		}
		if last, ok := c.lastFetched[key]; ok && now.Sub(last) < ttl {
			report.Skipped = append(report.Skipped, key)
			continue
		}
		out = append(out, trip)
	}
	if now.Before(c.backoffUntil) {
		report.BackoffUntil = c.backoffUntil
	}
	return out
}

// fetch runs one network call.  It is detached from the caller's
// cancellation because other callers may be sharing the result.
func (c *Controller) fetch(ctx context.Context, trip model.TripKey) (model.Availability, error) {
	rec, err := c.fetcher.FetchAvailability(context.WithoutCancel(ctx), trip)
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if api.IsRateLimited(err) {
			wait := c.opts.Backoff
			if ra, ok := api.RetryAfter(err); ok && ra > wait {
				wait = ra
			}
			if until := now.Add(wait); until.After(c.backoffUntil) {
				c.backoffUntil = until
			}
			c.logger.Warn("rate limited, backing off", "trip", trip.String(), "until", c.backoffUntil)
		} else {
			c.logger.Debug("fetch failed, keeping last record", "trip", trip.String(), "error", err)
		}
		return model.Availability{}, err
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = now
	}
	c.lastFetched[trip.String()] = now
	return rec, nil
}

// Close stops the controller.  Fetches already in flight complete but
// their results are discarded, and later refreshes do nothing.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}
