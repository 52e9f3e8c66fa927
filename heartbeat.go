package signalr

import (
	"context"
	"sync"
	"time"
)

// TransportHeartbeat is the registry of live connections. It is the single
// source of truth for whether a connection is still alive. A background
// sweep compares each connection's last activity against the disconnect
// timeout and tears down the ones that exceeded it, one by one. Connections
// with an in flight transport request are exempt; the timeout measures the
// gap between requests, not the quietness of an open transport.
//
// The registry has an explicit lifecycle: it is constructed by the server,
// started once and stopped when the server closes. There is no process wide
// instance.
type TransportHeartbeat struct {
	mx          sync.RWMutex
	connections map[string]*Connection
	timeout     time.Duration
	interval    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	startOnce   sync.Once
	info        StructuredLogger
	dbg         StructuredLogger
}

func newTransportHeartbeat(parentContext context.Context, disconnectTimeout time.Duration, info, dbg StructuredLogger) *TransportHeartbeat {
	ctx, cancel := context.WithCancel(parentContext)
	interval := disconnectTimeout / 6
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	return &TransportHeartbeat{
		connections: make(map[string]*Connection),
		timeout:     disconnectTimeout,
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
		info:        info,
		dbg:         dbg,
	}
}

// Start launches the background sweep.
func (h *TransportHeartbeat) Start() {
	h.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(h.interval)
			defer ticker.Stop()
			for {
				select {
				case <-h.ctx.Done():
					return
				case now := <-ticker.C:
					h.sweep(now)
				}
			}
		}()
	})
}

// Stop ends the sweep. Registered connections are left untouched.
func (h *TransportHeartbeat) Stop() {
	h.cancel()
}

// AddOrUpdateConnection registers c and marks it active.
func (h *TransportHeartbeat) AddOrUpdateConnection(c *Connection) {
	h.mx.Lock()
	h.connections[c.ConnectionID()] = c
	h.mx.Unlock()
	c.markActivity(time.Now())
}

// MarkConnection records activity for connectionID. Called on every
// successful request touching the connection.
func (h *TransportHeartbeat) MarkConnection(connectionID string) {
	h.mx.RLock()
	c, ok := h.connections[connectionID]
	h.mx.RUnlock()
	if ok {
		c.markActivity(time.Now())
	}
}

// RemoveConnection removes connectionID from the registry without firing
// its disconnect callback.
func (h *TransportHeartbeat) RemoveConnection(connectionID string) {
	h.mx.Lock()
	delete(h.connections, connectionID)
	h.mx.Unlock()
}

// Connection returns the live connection registered under connectionID.
func (h *TransportHeartbeat) Connection(connectionID string) (*Connection, bool) {
	h.mx.RLock()
	defer h.mx.RUnlock()
	c, ok := h.connections[connectionID]
	return c, ok
}

// Connections returns a snapshot of all registered connections. Fan outs
// iterate the snapshot, so joining members never block a running broadcast.
func (h *TransportHeartbeat) Connections() []*Connection {
	h.mx.RLock()
	defer h.mx.RUnlock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	return conns
}

func (h *TransportHeartbeat) sweep(now time.Time) {
	h.mx.Lock()
	var expired []*Connection
	for id, c := range h.connections {
		// a connection with a pending request or open stream is alive no
		// matter how long its transport has been quiet
		if c.pendingRequests() > 0 {
			continue
		}
		if c.idleSince(now) > h.timeout {
			delete(h.connections, id)
			expired = append(expired, c)
		}
	}
	h.mx.Unlock()
	// disconnect callbacks run outside the registry lock
	for _, c := range expired {
		_ = h.dbg.Log(evt, "connection timed out", "connection", c.ConnectionID(), react, "disconnect")
		c.disconnect(nil, false)
	}
}
