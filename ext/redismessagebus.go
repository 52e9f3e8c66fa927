// Package ext contains optional server extensions that pull in heavier
// dependencies, currently the redis backplane for multi instance setups.
package ext

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/redis/go-redis/v9"

	signalr "github.com/xperiandri/SignalR-Server"
)

const (
	redisChannelPrefix      = "signalr:"
	redisAllChannel         = redisChannelPrefix + "all"
	redisGroupChannelPrefix = redisChannelPrefix + "group:"
)

// Scopes of a bus envelope. Broadcast, connection and user envelopes travel
// on the all channel; group envelopes on their group channel.
const (
	scopeBroadcast  = "all"
	scopeConnection = "conn"
	scopeGroup      = "group"
	scopeUser       = "user"
)

// busEnvelope is the wire format of the backplane. The payload is carried as
// its final JSON form, so a receiving instance hands it to its clients
// byte for byte as the sender produced it.
type busEnvelope struct {
	Scope   string `msgpack:"s"`
	Target  string `msgpack:"t,omitempty"`
	Payload []byte `msgpack:"p"`
}

// RedisMessageBus routes every send through a redis pub/sub channel so that
// all server instances sharing the redis deliver it to their local
// connections. A single instance setup works too, it just pays the redis
// round trip.
func RedisMessageBus(opts *redis.Options, logger signalr.StructuredLogger) signalr.Option {
	return signalr.WithMessageBus(func(s *signalr.Server) (signalr.MessageBus, error) {
		return newRedisMessageBus(context.Background(), redis.NewClient(opts), signalr.LocalMessageBus(s), logger)
	})
}

type redisMessageBus struct {
	client     *redis.Client
	local      signalr.MessageBus
	serializer signalr.Serializer
	ctx        context.Context
	cancel     context.CancelFunc
	info       signalr.StructuredLogger
}

func newRedisMessageBus(parentContext context.Context, client *redis.Client, local signalr.MessageBus, logger signalr.StructuredLogger) (signalr.MessageBus, error) {
	ctx, cancel := context.WithCancel(parentContext)
	bus := &redisMessageBus{
		client:     client,
		local:      local,
		serializer: signalr.MessagePackSerializer{},
		ctx:        ctx,
		cancel:     cancel,
		info:       log.WithPrefix(logger, "ts", log.DefaultTimestampUTC, "class", "redisMessageBus"),
	}
	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	go bus.subscribeLoop()
	return bus, nil
}

// subscribeLoop receives envelopes and delivers them locally. A lost
// subscription is re-established with exponential backoff until the bus is
// closed.
func (b *redisMessageBus) subscribeLoop() {
	for {
		pubSub := b.client.PSubscribe(b.ctx, redisAllChannel, redisGroupChannelPrefix+"*")
		receive := func() error {
			_, err := pubSub.Receive(b.ctx)
			return err
		}
		if err := backoff.Retry(receive, backoff.WithContext(backoff.NewExponentialBackOff(), b.ctx)); err != nil {
			_ = pubSub.Close()
			return
		}
		ch := pubSub.Channel()
	receiving:
		for {
			select {
			case <-b.ctx.Done():
				_ = pubSub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					_ = b.info.Log("event", "pubsub channel closed", "react", "resubscribe")
					_ = pubSub.Close()
					break receiving
				}
				b.deliver(msg)
			}
		}
	}
}

func (b *redisMessageBus) deliver(msg *redis.Message) {
	var envelope busEnvelope
	if err := b.serializer.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		_ = b.info.Log("event", "decode bus envelope", "channel", msg.Channel, "error", err, "react", "drop message")
		return
	}
	payload := json.RawMessage(envelope.Payload)
	switch envelope.Scope {
	case scopeBroadcast:
		_ = b.local.Broadcast(payload)
	case scopeConnection:
		_ = b.local.SendToConnection(envelope.Target, payload)
	case scopeGroup:
		_ = b.local.SendToGroup(envelope.Target, payload)
	case scopeUser:
		_ = b.local.SendToUser(envelope.Target, payload)
	default:
		_ = b.info.Log("event", "unknown bus scope", "scope", envelope.Scope, "react", "drop message")
	}
}

func (b *redisMessageBus) publish(channel, scope, target string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	envelope, err := b.serializer.Marshal(busEnvelope{Scope: scope, Target: target, Payload: body})
	if err != nil {
		return fmt.Errorf("encode bus envelope: %w", err)
	}
	return b.client.Publish(b.ctx, channel, envelope).Err()
}

func (b *redisMessageBus) Broadcast(payload interface{}) error {
	return b.publish(redisAllChannel, scopeBroadcast, "", payload)
}

func (b *redisMessageBus) SendToConnection(connectionID string, payload interface{}) error {
	return b.publish(redisAllChannel, scopeConnection, connectionID, payload)
}

func (b *redisMessageBus) SendToGroup(groupName string, payload interface{}) error {
	return b.publish(redisGroupChannelPrefix+groupName, scopeGroup, groupName, payload)
}

func (b *redisMessageBus) SendToUser(userName string, payload interface{}) error {
	return b.publish(redisAllChannel, scopeUser, userName, payload)
}

func (b *redisMessageBus) Close() error {
	b.cancel()
	return b.client.Close()
}
