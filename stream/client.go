// Package stream maintains a best-effort push channel of metric snapshots
// for one tenant, reconnecting with bounded exponential backoff.
package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/common/ws"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// State of the client.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	// StateClosed follows an explicit Disconnect. No reconnect is pending.
	StateClosed State = "closed"
	// StateReconnecting follows an abnormal close; one reconnect is scheduled.
	StateReconnecting State = "reconnecting"
	// StateFailed is terminal until the next Connect.
	StateFailed State = "failed"
)

// Conn is the part of a websocket connection the client uses.
// *ws.Conn satisfies it.
type Conn interface {
	ReadMessage() ([]byte, error)
	WritePing(timeout time.Duration) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	CloseGracefully(timeout time.Duration) error
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// WSDialer dials real websocket endpoints.
type WSDialer struct {
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, err := ws.Dial(ctx, url, ws.DialOptions{
		Header:           d.Header,
		TLSConfig:        d.TLSConfig,
		HandshakeTimeout: d.HandshakeTimeout,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Logger interface for stream client operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type rateLimitedLogger interface {
	WarnRateLimited(key string, interval time.Duration, msg string, context ...interface{})
}

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// Config configures a Client. Zero values select defaults.
type Config struct {
	// BaseURL is the server root; the tenant channel lives at
	// {BaseURL}/ws/tenants/{id}/metrics.
	BaseURL string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config

	Dialer    Dialer
	Scheduler Scheduler
	Cache     *LatestSnapshots

	// Callbacks run outside the client's lock, possibly on different
	// goroutines. They must not block for long.
	OnSnapshot    func(tenant.MetricSnapshot)
	OnStateChange func(State)
	OnError       func(error)

	Logger  Logger
	Metrics *metrics.Collectors
	Now     func() time.Time
}

const (
	defaultPingInterval     = 30 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	warnInterval            = 30 * time.Second
)

// Client is a single-tenant metrics subscription.
type Client struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	tenantID   string
	state      State
	gen        uint64
	attempts   int
	policy     backoff.BackOff
	conn       Conn
	connStop   chan struct{}
	dialCancel context.CancelFunc
	timer      Timer
	lastErr    error
	closed     bool
	pending    []func()
}

// NewClient validates cfg and returns an idle client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("stream: base URL is required")
	}
	if _, err := ws.NormalizeURL(cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WSDialer{TLSConfig: cfg.TLSConfig, HandshakeTimeout: cfg.HandshakeTimeout}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = realScheduler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		policy: newReconnectPolicy(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxAttempts),
	}, nil
}

// URL returns the channel URL for tenantID.
func (c *Client) URL(tenantID string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/ws/tenants/" + url.PathEscape(tenantID) + "/metrics"
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last connection error. After StateFailed it matches
// tenant.ErrConnectionFailed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attempts returns how many reconnects have been scheduled since the last
// successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// TenantID returns the tenant the client is subscribed to.
func (c *Client) TenantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenantID
}

// Connect subscribes to tenantID. It is a no-op when already open or
// connecting for that tenant. A different tenant is switched to after a
// clean teardown of the current channel. Any pending reconnect is cancelled.
func (c *Client) Connect(tenantID string) error {
	if !tenant.ValidID(tenantID) {
		return tenant.NewError(tenant.CodeInvalidInput, fmt.Sprintf("invalid tenant id %q", tenantID))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("stream: client is closed")
	}
	if c.tenantID == tenantID && (c.state == StateOpen || c.state == StateConnecting) {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()
	c.tenantID = tenantID
	c.attempts = 0
	c.lastErr = nil
	c.policy.Reset()
	c.startDialLocked()
	c.unlockAndDispatch()
	return nil
}

// SwitchTenant tears down the current channel and subscribes to tenantID.
func (c *Client) SwitchTenant(tenantID string) error {
	return c.Connect(tenantID)
}

// Disconnect closes the channel cleanly and cancels any pending reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.teardownLocked()
	if c.state != StateIdle {
		c.setStateLocked(StateClosed)
	}
	c.unlockAndDispatch()
}

// Close disconnects and makes the client unusable.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

// teardownLocked invalidates every goroutine of the current generation.
func (c *Client) teardownLocked() {
	c.gen++
	c.cancelTimerLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		conn := c.conn
		close(c.connStop)
		c.conn = nil
		c.connStop = nil
		timeout := c.cfg.WriteTimeout
		c.pending = append(c.pending, func() {
			if err := conn.CloseGracefully(timeout); err != nil {
				c.cfg.Logger.Debug("Error closing stream connection", "error", err)
			}
		})
	}
}

func (c *Client) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setStateLocked(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.cfg.Metrics.StreamStateChanged(string(prev), string(next))
	if cb := c.cfg.OnStateChange; cb != nil {
		c.pending = append(c.pending, func() { cb(next) })
	}
}

func (c *Client) unlockAndDispatch() {
	events := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ev := range events {
		ev()
	}
}

func (c *Client) startDialLocked() {
	c.setStateLocked(StateConnecting)
	gen := c.gen
	target := c.URL(c.tenantID)
	ctx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel
	c.cfg.Logger.Debug("Connecting metrics stream", "tenant", c.tenantID, "url", target, "attempt", c.attempts)
	go c.dial(ctx, cancel, gen, target)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, target string) {
	conn, err := c.cfg.Dialer.Dial(ctx, target)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.dialCancel = nil
	if err != nil {
		c.abnormalLocked(err)
		c.unlockAndDispatch()
		return
	}

	stop := make(chan struct{})
	c.conn = conn
	c.connStop = stop
	c.attempts = 0
	c.lastErr = nil
	c.policy.Reset()
	c.setStateLocked(StateOpen)
	c.cfg.Logger.Info("Metrics stream connected", "tenant", c.tenantID)
	c.unlockAndDispatch()

	go c.readLoop(gen, conn)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn, stop)
	}
}

// abnormalLocked schedules the next reconnect or, once retries are exhausted,
// moves to StateFailed.
func (c *Client) abnormalLocked(cause error) {
	c.cancelTimerLocked()
	c.lastErr = cause

	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		failErr := &tenant.Error{
			Code:    tenant.CodeConnectionFailed,
			Message: fmt.Sprintf("metrics stream for tenant %q failed after %d reconnect attempts", c.tenantID, c.attempts),
			Err:     cause,
		}
		c.lastErr = failErr
		c.setStateLocked(StateFailed)
		c.cfg.Logger.Error("Metrics stream gave up", "tenant", c.tenantID, "error", cause)
		if cb := c.cfg.OnError; cb != nil {
			c.pending = append(c.pending, func() { cb(failErr) })
		}
		return
	}

	c.attempts++
	c.setStateLocked(StateReconnecting)
	c.cfg.Metrics.StreamReconnect()
	c.warn("stream-reconnect:"+c.tenantID, "Metrics stream lost, reconnecting",
		"tenant", c.tenantID, "delay", delay, "attempt", c.attempts, "error", cause)

	gen := c.gen
	c.timer = c.cfg.Scheduler.AfterFunc(delay, func() { c.retry(gen) })
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.startDialLocked()
	c.unlockAndDispatch()
}

func (c *Client) connectionLost(gen uint64, conn Conn, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	close(c.connStop)
	c.conn = nil
	c.connStop = nil
	c.pending = append(c.pending, func() { conn.Close() })
	c.abnormalLocked(cause)
	c.unlockAndDispatch()
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	timeout := c.cfg.ReadTimeout
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(timeout))
		})
	}

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			if ws.IsCleanClose(err) {
				c.cfg.Logger.Debug("Metrics stream closed by server", "error", err)
			}
			c.connectionLost(gen, conn, err)
			return
		}
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		c.handleFrame(gen, frame)
	}
}

func (c *Client) handleFrame(gen uint64, frame []byte) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	tenantID := c.tenantID
	c.mu.Unlock()

	snap, err := parseFrame(frame, tenantID, c.cfg.Now())
	switch {
	case err == nil:
	case errors.Is(err, errIgnored):
		return
	case errors.Is(err, errOtherTenant):
		c.cfg.Metrics.StreamFrameDropped()
		c.cfg.Logger.Debug("Dropped snapshot for another tenant", "tenant", tenantID)
		return
	default:
		c.cfg.Metrics.StreamFrameDropped()
		c.warn("stream-parse:"+tenantID, "Dropped unparseable metrics frame", "tenant", tenantID, "error", err)
		return
	}

	if c.cfg.Cache != nil {
		c.cfg.Cache.Put(snap)
	}
	c.cfg.Metrics.StreamSnapshot()
	if cb := c.cfg.OnSnapshot; cb != nil {
		cb(snap)
	}
}

// pingLoop keeps the channel alive. A failed ping closes the connection so
// the read loop reports the loss.
func (c *Client) pingLoop(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WritePing(c.cfg.WriteTimeout); err != nil {
				c.cfg.Logger.Debug("Metrics stream ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) warn(key, msg string, context ...interface{}) {
	if rl, ok := c.cfg.Logger.(rateLimitedLogger); ok {
		rl.WarnRateLimited(key, warnInterval, msg, context...)
		return
	}
	c.cfg.Logger.Warn(msg, context...)
}
