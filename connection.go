package signalr

import (
	"net/http"
	"sync"
	"time"
)

// TransportState is the state of the transport session owned by a Connection.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportReconnecting
	// TransportDisconnected is terminal. A connection never leaves it.
	TransportDisconnected
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "Connecting"
	case TransportConnected:
		return "Connected"
	case TransportReconnecting:
		return "Reconnecting"
	case TransportDisconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// Connection is the logical, transport independent session identified by a
// connection id. It stays addressable across physical disconnects: a client
// that presents the same connection token resumes the same Connection.
type Connection struct {
	id       string
	user     string
	store    *messageStore
	items    *StateBag
	aborted  chan struct{}
	discOnce sync.Once
	discFunc func(r *http.Request, stopCalled bool)

	mx            sync.Mutex
	state         TransportState
	transportName string
	groups        []string
	groupsChanged bool
	lastActivity  time.Time
	inFlight      int
}

func newConnection(id, user string, bufferSize int, onDisconnected func(r *http.Request, stopCalled bool)) *Connection {
	return &Connection{
		id:           id,
		user:         user,
		store:        newMessageStore(bufferSize),
		items:        newStateBag(),
		aborted:      make(chan struct{}),
		discFunc:     onDisconnected,
		state:        TransportConnecting,
		lastActivity: time.Now(),
	}
}

func (c *Connection) ConnectionID() string { return c.id }

func (c *Connection) User() string { return c.user }

// Items is the caller scoped state bag read and written by hub methods.
func (c *Connection) Items() *StateBag { return c.items }

func (c *Connection) State() TransportState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// Send queues payload for delivery on this connection's stream and returns
// the assigned message id. Disconnected connections silently drop the
// message, so a connection dying in the middle of a group fan out is skipped
// instead of failing the broadcast.
func (c *Connection) Send(payload interface{}) uint64 {
	if c.State() == TransportDisconnected {
		return 0
	}
	return c.store.Add(payload)
}

// Aborted is closed when the connection reaches its terminal state. Pending
// long poll waits select on it so a heartbeat disconnect cannot leak a wait.
func (c *Connection) Aborted() <-chan struct{} {
	return c.aborted
}

// transitionConnected moves Connecting to Connected.
// It reports whether this was the first connect.
func (c *Connection) transitionConnected() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state == TransportConnecting {
		c.state = TransportConnected
		return true
	}
	return false
}

// beginReconnect marks a known connection as resuming over a new physical request.
func (c *Connection) beginReconnect() {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state == TransportConnected {
		c.state = TransportReconnecting
	}
}

// completeReconnect moves the connection back to Connected once the
// resuming request is served. It reports whether the Reconnected callback
// should fire.
func (c *Connection) completeReconnect() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state == TransportDisconnected {
		return false
	}
	c.state = TransportConnected
	return true
}

// disconnect tears the connection down. It runs at most once, whether
// triggered by an explicit stop (stopCalled true) or by the heartbeat sweep
// (stopCalled false, r nil).
func (c *Connection) disconnect(r *http.Request, stopCalled bool) {
	c.discOnce.Do(func() {
		c.mx.Lock()
		c.state = TransportDisconnected
		c.mx.Unlock()
		close(c.aborted)
		if c.discFunc != nil {
			c.discFunc(r, stopCalled)
		}
	})
}

func (c *Connection) setTransport(name string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.transportName = name
}

func (c *Connection) Transport() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.transportName
}

// setGroups replaces the verified group memberships of the connection with
// the set decoded from the current request's groups token.
func (c *Connection) setGroups(groups []string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.groups = groups
}

func (c *Connection) addGroup(groupName string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for _, g := range c.groups {
		if g == groupName {
			return
		}
	}
	c.groups = append(c.groups, groupName)
	c.groupsChanged = true
}

func (c *Connection) removeGroup(groupName string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for i, g := range c.groups {
		if g == groupName {
			c.groups = append(c.groups[:i], c.groups[i+1:]...)
			c.groupsChanged = true
			return
		}
	}
}

// takeGroupsChanged reports whether group membership changed since the last
// call. The transport uses it to decide if the response must carry a fresh
// groups token.
func (c *Connection) takeGroupsChanged() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	changed := c.groupsChanged
	c.groupsChanged = false
	return changed
}

func (c *Connection) Groups() []string {
	c.mx.Lock()
	defer c.mx.Unlock()
	groups := make([]string, len(c.groups))
	copy(groups, c.groups)
	return groups
}

// beginRequest registers a transport request or stream as in flight. The
// heartbeat never times out a connection with an in flight request: liveness
// is decided by idle time between requests, not by a quiet transport.
func (c *Connection) beginRequest() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.inFlight++
	c.lastActivity = time.Now()
}

// endRequest balances beginRequest. The idle clock restarts when the
// request ends, so the disconnect timeout measures the gap until the client
// comes back.
func (c *Connection) endRequest(now time.Time) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.lastActivity = now
}

func (c *Connection) pendingRequests() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.inFlight
}

func (c *Connection) markActivity(now time.Time) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.lastActivity = now
}

func (c *Connection) idleSince(now time.Time) time.Duration {
	c.mx.Lock()
	defer c.mx.Unlock()
	return now.Sub(c.lastActivity)
}
