package httpx

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"dqx0.com/go/httpclient/httpx/internal/http1"
	"dqx0.com/go/httpclient/internal/obs"
)

const (
	DefaultIdleTimeout    = 30 * time.Second
	DefaultReaperInterval = time.Second
	DefaultDialTimeout    = 5 * time.Second
)

// DialFunc opens a raw transport connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// PoolStats is a point-in-time view of a Manager. Opened, Reused and
// Closed are totals since creation.
type PoolStats struct {
	Opened uint64
	Reused uint64
	Closed uint64
	Idle   int
	Leased int
}

// Manager owns the keep-alive connections of one client process. Idle
// connections are kept per EndpointKey and handed out most-recently-used
// first. A background reaper closes connections idle longer than the idle
// timeout. Create one with NewManager and Close it at shutdown.
type Manager struct {
	idleTimeout    time.Duration
	reaperInterval time.Duration
	dialTimeout    time.Duration
	maxIdlePerKey  int
	tlsConfig      *tls.Config
	dial           DialFunc
	logger         obs.Logger
	meter          obs.Meter

	mu     sync.Mutex
	idle   map[string][]*link // stacks keyed by EndpointKey.String
	leased map[*link]struct{}
	closed bool
	stats  PoolStats

	stop chan struct{}
	done chan struct{}
}

type ManagerOption func(*Manager)

// WithIdleTimeout sets how long a connection may sit unused before the
// reaper closes it. Zero disables idle expiry.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTimeout = d }
}

func WithReaperInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.reaperInterval = d
		}
	}
}

func WithDialTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.dialTimeout = d }
}

// WithMaxIdlePerKey caps the idle stack per endpoint; extra healthy
// connections are closed on release. Zero means no cap.
func WithMaxIdlePerKey(n int) ManagerOption {
	return func(m *Manager) { m.maxIdlePerKey = n }
}

// WithTLSConfig sets the base TLS configuration. ServerName and NextProtos
// are filled in per connection when empty.
func WithTLSConfig(cfg *tls.Config) ManagerOption {
	return func(m *Manager) { m.tlsConfig = cfg }
}

func WithDialer(dial DialFunc) ManagerOption {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

func WithManagerLogger(l obs.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMeter(mt obs.Meter) ManagerOption {
	return func(m *Manager) {
		if mt != nil {
			m.meter = mt
		}
	}
}

// NewManager returns a running Manager; its reaper starts immediately.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		idleTimeout:    DefaultIdleTimeout,
		reaperInterval: DefaultReaperInterval,
		dialTimeout:    DefaultDialTimeout,
		logger:         obs.NopLogger{},
		meter:          obs.NopMeter{},
		idle:           make(map[string][]*link),
		leased:         make(map[*link]struct{}),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.dial == nil {
		d := &net.Dialer{KeepAlive: 30 * time.Second}
		m.dial = d.DialContext
	}
	go m.reapLoop()
	return m
}

// Acquire leases a connection for key, reusing the most recently released
// idle one when possible and dialing otherwise. It never waits for a leased
// connection to come back.
func (m *Manager) Acquire(ctx context.Context, key EndpointKey) (*Conn, error) {
	id := key.String()
	now := time.Now()
	var stale []*link

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	stack := m.idle[id]
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if m.expired(c, now) {
			c.setState(StateClosed)
			m.stats.Closed++
			stale = append(stale, c)
			continue
		}
		m.setIdle(id, stack)
		lease := c.leaseOut()
		m.leased[c] = struct{}{}
		m.stats.Reused++
		m.mu.Unlock()
		m.closeAll(stale, "expired")
		m.meter.Counter("httpx_client_conn_reuse_total", 1)
		m.logf(obs.Debug, "reuse conn %d to %s", c.id, id)
		return lease, nil
	}
	m.setIdle(id, stack)
	m.mu.Unlock()
	m.closeAll(stale, "expired")

	nc, err := m.dialEndpoint(ctx, key)
	if err != nil {
		m.logf(obs.Warn, "dial %s failed: %v", id, err)
		m.meter.Counter("httpx_client_requests_error", 1, obs.Label{Key: "stage", Value: "dial"})
		return nil, &ConnectError{Key: key, Err: err}
	}
	c := newLink(key, nc)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.setState(StateClosed)
		c.closeTransport()
		return nil, ErrManagerClosed
	}
	m.leased[c] = struct{}{}
	m.stats.Opened++
	m.mu.Unlock()
	m.meter.Counter("httpx_client_conn_dial_total", 1)
	m.logf(obs.Debug, "opened conn %d to %s", c.id, id)
	return &Conn{link: c, lease: c.lease}, nil
}

// Release returns a leased connection. Healthy connections go back on top
// of their key's idle stack unless the Manager is closed; everything else
// is closed. Releasing a lease that is already over does nothing.
func (m *Manager) Release(lease *Conn, healthy bool) {
	if lease == nil || lease.link == nil {
		return
	}
	c := lease.link
	id := c.key.String()

	m.mu.Lock()
	if !lease.current() {
		m.mu.Unlock()
		return
	}
	if healthy {
		// Clear request deadlines before the conn is seen as idle.
		healthy = c.nc.SetDeadline(time.Time{}) == nil
	}
	delete(m.leased, c)
	c.parked.Store(false)
	c.reading.Store(false)
	if !healthy || m.closed || (m.maxIdlePerKey > 0 && len(m.idle[id]) >= m.maxIdlePerKey) {
		c.setState(StateClosed)
		m.stats.Closed++
		m.mu.Unlock()
		c.closeTransport()
		m.logf(obs.Debug, "closed conn %d to %s (healthy=%v)", c.id, id, healthy)
		return
	}
	c.lastUsed = time.Now()
	c.setState(StateIdle)
	m.idle[id] = append(m.idle[id], c)
	m.mu.Unlock()
}

// Close stops the reaper and closes every idle connection. Connections
// still leased are closed when they are released. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var conns []*link
	for id, stack := range m.idle {
		for _, c := range stack {
			c.setState(StateClosed)
			m.stats.Closed++
			conns = append(conns, c)
		}
		delete(m.idle, id)
	}
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	m.closeAll(conns, "manager closed")
	m.logf(obs.Info, "manager closed, %d idle connections dropped", len(conns))
	return nil
}

// Stats returns current pool counters.
func (m *Manager) Stats() PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	for _, stack := range m.idle {
		s.Idle += len(stack)
	}
	s.Leased = len(m.leased)
	return s
}

// IdleTimeout reports the configured idle expiry.
func (m *Manager) IdleTimeout() time.Duration { return m.idleTimeout }

func (m *Manager) reapLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			m.reap(now)
		case <-m.stop:
			return
		}
	}
}

// reap closes idle connections unused for longer than the idle timeout.
// It also reclaims leased connections whose response body has been left
// untouched by the caller for that long; a body with a Read blocked on the
// server is never reclaimed. It returns how many it closed.
func (m *Manager) reap(now time.Time) int {
	if m.idleTimeout <= 0 {
		return 0
	}
	var victims []*link
	m.mu.Lock()
	for id, stack := range m.idle {
		kept := stack[:0]
		for _, c := range stack {
			if m.expired(c, now) {
				c.setState(StateClosed)
				m.stats.Closed++
				victims = append(victims, c)
				continue
			}
			kept = append(kept, c)
		}
		m.setIdle(id, kept)
	}
	abandoned := 0
	for c := range m.leased {
		if c.parked.Load() && !c.reading.Load() && now.Sub(c.idleSince()) > m.idleTimeout {
			delete(m.leased, c)
			c.setState(StateClosed)
			m.stats.Closed++
			victims = append(victims, c)
			abandoned++
		}
	}
	m.mu.Unlock()

	if len(victims) > 0 {
		m.closeAll(victims, "reaped")
		m.meter.Counter("httpx_client_conn_idle_closed_total", float64(len(victims)))
		if abandoned > 0 {
			m.logf(obs.Warn, "reclaimed %d connections from unclosed response bodies", abandoned)
		}
	}
	return len(victims)
}

// expired must be called with m.mu held.
func (m *Manager) expired(c *link, now time.Time) bool {
	return m.idleTimeout > 0 && now.Sub(c.lastUsed) > m.idleTimeout
}

// setIdle must be called with m.mu held.
func (m *Manager) setIdle(id string, stack []*link) {
	if len(stack) == 0 {
		delete(m.idle, id)
		return
	}
	m.idle[id] = stack
}

func (m *Manager) closeAll(conns []*link, reason string) {
	for _, c := range conns {
		c.closeTransport()
		m.logf(obs.Debug, "closed conn %d to %s: %s", c.id, c.key, reason)
	}
}

func (m *Manager) dialEndpoint(ctx context.Context, key EndpointKey) (net.Conn, error) {
	if m.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.dialTimeout)
		defer cancel()
	}
	addr := key.Addr()
	if key.Proxy != nil {
		addr = key.Proxy.Addr()
	}
	nc, err := m.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if key.tunneled() {
		if err := connectTunnel(ctx, nc, key); err != nil {
			_ = nc.Close()
			return nil, err
		}
	}
	if !key.TLS {
		return nc, nil
	}
	tc, err := m.handshake(ctx, nc, key.Host)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return tc, nil
}

func (m *Manager) handshake(ctx context.Context, nc net.Conn, host string) (net.Conn, error) {
	var cfg *tls.Config
	if m.tlsConfig != nil {
		cfg = m.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	// Ensure SNI and ALPN
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"http/1.1"}
	}
	tc := tls.Client(nc, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	if p := tc.ConnectionState().NegotiatedProtocol; p != "" && p != "http/1.1" {
		return nil, fmt.Errorf("tls: server selected unsupported protocol %q", p)
	}
	return tc, nil
}

// connectTunnel asks the proxy on nc to open a tunnel to key's target.
func connectTunnel(ctx context.Context, nc net.Conn, key EndpointKey) error {
	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(aLongTimeAgo) })
	defer stop()

	fields := []http1.Field{{Name: "Host", Value: key.Addr()}}
	if key.Proxy.auth != "" {
		fields = append(fields, http1.Field{Name: "Proxy-Authorization", Value: key.Proxy.auth})
	}
	bw := bufio.NewWriter(nc)
	if err := http1.WriteRequestHead(bw, "CONNECT", key.Addr(), fields); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return ctxErr(ctx, err)
	}
	br := bufio.NewReader(nc)
	rd := &http1.Reader{BR: br, MaxLineBytes: http1.DefaultMaxLineBytes, MaxHeaderBytes: http1.DefaultMaxHeaderBytes}
	head, err := rd.ReadResponseHead()
	if err != nil {
		return ctxErr(ctx, err)
	}
	if head.StatusCode < 200 || head.StatusCode > 299 {
		return fmt.Errorf("proxy CONNECT failed: %d %s", head.StatusCode, head.Reason)
	}
	if br.Buffered() > 0 {
		return fmt.Errorf("%w: data after CONNECT response", ErrProtocolViolation)
	}
	return nil
}

func (m *Manager) logf(level obs.Level, format string, args ...interface{}) {
	m.logger.Logf(level, format, args...)
}
