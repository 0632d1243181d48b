package httpx

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type ConnState int32

const (
	StateIdle ConnState = iota
	StateLeased
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLeased:
		return "leased"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var connSeq atomic.Uint64

// Conn is one lease of a pooled transport link. Every Acquire hands out a
// fresh Conn; once it has been released, releasing it again does nothing
// even if the link underneath has since been leased to someone else.
type Conn struct {
	*link
	lease uint64
}

// link is one transport connection to an endpoint. While idle it belongs
// to the Manager; while leased it belongs to exactly one request.
type link struct {
	id  uint64
	key EndpointKey
	nc  net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer

	createdAt time.Time
	lastUsed  time.Time // guarded by Manager.mu
	lease     uint64    // guarded by Manager.mu

	// state changes only under Manager.mu; it is atomic so State can be
	// read without the lock.
	state atomic.Int32
	// parked is set while a response body is in the caller's hands;
	// reading while a body Read is blocked on the transport; activity is
	// the unix-nano time of the last body read.
	parked   atomic.Bool
	reading  atomic.Bool
	activity atomic.Int64

	closeOnce sync.Once
}

func newLink(key EndpointKey, nc net.Conn) *link {
	now := time.Now()
	c := &link{
		id:        connSeq.Add(1),
		key:       key,
		nc:        nc,
		br:        bufio.NewReader(nc),
		bw:        bufio.NewWriter(nc),
		createdAt: now,
		lastUsed:  now,
		lease:     1,
	}
	c.state.Store(int32(StateLeased))
	c.touch()
	return c
}

// ID is unique within the process.
func (c *link) ID() uint64 { return c.id }

func (c *link) Key() EndpointKey { return c.key }

func (c *link) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *link) State() ConnState { return ConnState(c.state.Load()) }

func (c *link) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *link) touch() { c.activity.Store(time.Now().UnixNano()) }

func (c *link) idleSince() time.Time { return time.Unix(0, c.activity.Load()) }

func (c *link) closeTransport() {
	c.closeOnce.Do(func() { _ = c.nc.Close() })
}

// leaseOut hands out a new lease of c. It must be called with Manager.mu held.
func (c *link) leaseOut() *Conn {
	c.lease++
	c.setState(StateLeased)
	c.touch()
	return &Conn{link: c, lease: c.lease}
}

// current reports whether this lease still owns the link. It must be
// called with Manager.mu held.
func (c *Conn) current() bool {
	return c.lease == c.link.lease && c.State() == StateLeased
}
