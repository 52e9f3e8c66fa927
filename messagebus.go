package signalr

// MessageBus routes payloads to connection delivery streams. The default bus
// works on the local registry only; the redis bus extends the same interface
// across server instances.
type MessageBus interface {
	Broadcast(payload interface{}) error
	SendToConnection(connectionID string, payload interface{}) error
	SendToGroup(groupName string, payload interface{}) error
	SendToUser(userName string, payload interface{}) error
	Close() error
}

type localMessageBus struct {
	heartbeat *TransportHeartbeat
	groups    *GroupManager
}

func newLocalMessageBus(heartbeat *TransportHeartbeat, groups *GroupManager) *localMessageBus {
	return &localMessageBus{heartbeat: heartbeat, groups: groups}
}

func (b *localMessageBus) Broadcast(payload interface{}) error {
	for _, c := range b.heartbeat.Connections() {
		c.Send(payload)
	}
	return nil
}

func (b *localMessageBus) SendToConnection(connectionID string, payload interface{}) error {
	if c, ok := b.heartbeat.Connection(connectionID); ok {
		c.Send(payload)
	}
	return nil
}

func (b *localMessageBus) SendToGroup(groupName string, payload interface{}) error {
	b.groups.Send(groupName, payload)
	return nil
}

func (b *localMessageBus) SendToUser(userName string, payload interface{}) error {
	for _, c := range b.heartbeat.Connections() {
		if c.User() == userName {
			c.Send(payload)
		}
	}
	return nil
}

func (b *localMessageBus) Close() error { return nil }
