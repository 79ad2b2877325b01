// Package poller re-pulls gateway data for views that have no push channel.
// A Controller owns one interval ticker, dedupes overlapping refreshes and
// ignores results that arrive after the owning view stopped it.
package poller

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
)

// Refresh intervals used by the built-in views. Callers pass their own.
const (
	DefaultListInterval      = 15 * time.Second
	DefaultDashboardInterval = 5 * time.Minute
	DefaultSettleDelay       = 3 * time.Second
	DefaultFetchTimeout      = 30 * time.Second
)

// Refresh triggers, used as metric labels.
const (
	TriggerStart    = "start"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
	TriggerMutation = "mutation"
	TriggerSettle   = "settle"
)

// ErrStale is returned by RefreshNow when the controller was stopped or
// restarted while the fetch was in flight. The result was not delivered.
var ErrStale = errors.New("refresh result discarded: controller stopped")

// Logger interface for poller operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// Fetcher loads one fresh value for a view.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Config contains configuration for a Controller
type Config[T any] struct {
	// Name labels the consuming view in logs and metrics.
	Name     string
	Interval time.Duration
	// SettleDelay is the wait before the second refresh after a mutation.
	SettleDelay time.Duration
	// Timeout bounds each fetch. Stop does not cancel fetches in flight.
	Timeout time.Duration

	Fetch    Fetcher[T]
	OnResult func(T)
	OnError  func(error)

	Logger  Logger
	Metrics *metrics.Collectors
}

// Status surfaces the controller's recent activity.
type Status struct {
	Running     bool      `json:"running"`
	LastRefresh time.Time `json:"last_refresh"`
	LastError   string    `json:"last_error,omitempty"`
	Refreshes   int       `json:"refreshes"`
}

// Controller periodically and on demand re-invokes a Fetcher.
type Controller[T any] struct {
	cfg   Config[T]
	group singleflight.Group

	mu          sync.Mutex
	gen         uint64
	running     bool
	stopCh      chan struct{}
	settle      *time.Timer
	last        T
	lastRefresh time.Time
	lastErr     error
	refreshes   int

	wg sync.WaitGroup
}

// New creates a controller. Fetch is required; zero durations take the
// list-view defaults.
func New[T any](cfg Config[T]) (*Controller[T], error) {
	if cfg.Fetch == nil {
		return nil, errors.New("poller: fetch function is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultListInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "view"
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Controller[T]{cfg: cfg}, nil
}

// Start runs an immediate refresh and then one per interval until Stop.
// Starting a running controller is a no-op.
func (c *Controller[T]) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.gen++
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(stopCh)

	c.cfg.Logger.Info("Poller started", "view", c.cfg.Name, "interval", c.cfg.Interval)
}

// Stop cancels the interval and any pending settle refresh. Fetches still
// in flight finish, but their results are dropped.
func (c *Controller[T]) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.gen++
	close(c.stopCh)
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.cfg.Logger.Info("Poller stopped", "view", c.cfg.Name)
}

func (c *Controller[T]) loop(stopCh chan struct{}) {
	defer c.wg.Done()

	go c.refresh(TriggerStart) //nolint:errcheck

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			go c.refresh(TriggerInterval) //nolint:errcheck
		}
	}
}

// RefreshNow fetches immediately and returns the value. Concurrent calls
// share one fetch.
func (c *Controller[T]) RefreshNow() (T, error) {
	return c.refresh(TriggerManual)
}

// AfterMutation refreshes now and once more after the settle delay, so a
// status that the backend settles shortly after a write is picked up. A
// second call replaces the pending settle refresh.
func (c *Controller[T]) AfterMutation() {
	c.mu.Lock()
	if c.settle != nil {
		c.settle.Stop()
	}
	gen := c.gen
	c.settle = time.AfterFunc(c.cfg.SettleDelay, func() {
		c.mu.Lock()
		current := c.gen == gen
		if current {
			c.settle = nil
		}
		c.mu.Unlock()
		if current {
			c.refresh(TriggerSettle) //nolint:errcheck
		}
	})
	c.mu.Unlock()

	go c.refresh(TriggerMutation) //nolint:errcheck
}

func (c *Controller[T]) refresh(trigger string) (T, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	// Callers only share a fetch started in their own generation.
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		defer cancel()
		val, ferr := c.cfg.Fetch(ctx)
		c.cfg.Metrics.PollRefresh(c.cfg.Name, trigger, ferr)
		c.deliver(gen, val, ferr)
		return val, ferr
	})

	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()

	var zero T
	if stale {
		return zero, ErrStale
	}
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func (c *Controller[T]) deliver(gen uint64, val T, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.cfg.Logger.Debug("Dropping stale refresh result", "view", c.cfg.Name)
		return
	}
	c.refreshes++
	if err != nil {
		c.lastErr = err
	} else {
		c.last = val
		c.lastErr = nil
		c.lastRefresh = time.Now()
	}
	c.mu.Unlock()

	if err != nil {
		c.cfg.Logger.Warn("Refresh failed", "view", c.cfg.Name, "error", err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
		return
	}
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(val)
	}
}

// Last returns the most recently delivered value.
func (c *Controller[T]) Last() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, !c.lastRefresh.IsZero()
}

func (c *Controller[T]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Running:     c.running,
		LastRefresh: c.lastRefresh,
		Refreshes:   c.refreshes,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}
