package signalr

// HubInterface has to be implemented by hubs. Embed Hub to get the context
// plumbing and no-op lifecycle callbacks for free.
type HubInterface interface {
	Initialize(hubContext HubContext)
	OnConnected(connectionID string)
	OnDisconnected(connectionID string)
}

// HubReconnectListener is implemented by hubs that want to observe a
// connection resuming after a transport level gap.
type HubReconnectListener interface {
	OnReconnected(connectionID string)
}

// Hub is the base for hub implementations.
type Hub struct {
	context HubContext
}

func (h *Hub) Initialize(ctx HubContext) {
	h.context = ctx
}

// Clients gives access to the client proxies of the hub.
func (h *Hub) Clients() HubClients {
	return h.context.Clients()
}

// Groups manages the group memberships of the hub's connections.
func (h *Hub) Groups() *GroupManager {
	return h.context.Groups()
}

// Items is the state bag of the calling connection.
func (h *Hub) Items() *StateBag {
	return h.context.Items()
}

// ConnectionID is the id of the calling connection.
func (h *Hub) ConnectionID() string {
	return h.context.ConnectionID()
}

func (h *Hub) OnConnected(string) {}

func (h *Hub) OnDisconnected(string) {}

// HubContext holds the clients and groups connected to the hub plus the
// caller scoped state.
type HubContext interface {
	Clients() HubClients
	Groups() *GroupManager
	Items() *StateBag
	ConnectionID() string
}

type connectionHubContext struct {
	clients      HubClients
	groups       *GroupManager
	items        *StateBag
	connectionID string
}

func (c *connectionHubContext) Clients() HubClients   { return c.clients }
func (c *connectionHubContext) Groups() *GroupManager { return c.groups }
func (c *connectionHubContext) Items() *StateBag      { return c.items }
func (c *connectionHubContext) ConnectionID() string  { return c.connectionID }

// HubClients gives the hub access to various client scopes.
// All() invokes methods on all connected clients, Caller() on the calling
// client, Client() on one connection, Group() on all members of a group and
// User() on all connections of an authenticated user.
type HubClients interface {
	All() ClientProxy
	Caller() ClientProxy
	Client(connectionID string) ClientProxy
	Group(groupName string) ClientProxy
	User(userName string) ClientProxy
}

// ClientProxy invokes a client side method on its target scope.
type ClientProxy interface {
	Send(target string, args ...interface{})
}

type hubClients struct {
	hubName  string
	bus      MessageBus
	callerID string
}

func (c *hubClients) All() ClientProxy {
	return &clientProxy{send: func(payload interface{}) error { return c.bus.Broadcast(payload) }, hubName: c.hubName}
}

// Caller is nil outside of an invocation (e.g. on a server side hub context).
func (c *hubClients) Caller() ClientProxy {
	if c.callerID == "" {
		return nil
	}
	return c.Client(c.callerID)
}

func (c *hubClients) Client(connectionID string) ClientProxy {
	return &clientProxy{send: func(payload interface{}) error { return c.bus.SendToConnection(connectionID, payload) }, hubName: c.hubName}
}

func (c *hubClients) Group(groupName string) ClientProxy {
	return &clientProxy{send: func(payload interface{}) error { return c.bus.SendToGroup(groupName, payload) }, hubName: c.hubName}
}

func (c *hubClients) User(userName string) ClientProxy {
	return &clientProxy{send: func(payload interface{}) error { return c.bus.SendToUser(userName, payload) }, hubName: c.hubName}
}

type clientProxy struct {
	hubName string
	send    func(payload interface{}) error
}

func (p *clientProxy) Send(target string, args ...interface{}) {
	if args == nil {
		args = []interface{}{}
	}
	_ = p.send(hubInvocation{Hub: p.hubName, Method: target, Arguments: args})
}
