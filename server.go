package signalr

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
)

// Server is the root object hosting persistent connections and hubs. It owns
// the negotiation protocol range, the token protection, the heartbeat
// registry, the transport set and the message bus, and hands each mapped
// path a PersistentConnection bound to this configuration.
type Server struct {
	ctx        context.Context
	cancelFunc context.CancelFunc

	resolver   *ProtocolResolver
	protector  DataProtector
	serializer Serializer
	principals PrincipalProvider

	heartbeat  *TransportHeartbeat
	groups     *GroupManager
	transports *transportManager
	hubs       *hubManager
	bus        MessageBus

	keepAliveInterval       time.Duration
	disconnectTimeout       time.Duration
	connectionTimeout       time.Duration
	transportConnectTimeout time.Duration
	longPollDelay           time.Duration

	messageBufferSize         int
	maximumReceiveMessageSize int
	enableDetailedErrors      bool
	insecureSkipVerify        bool
	originPatterns            []string

	transportNames []string
	protectionKey  []byte
	busFactory     func(s *Server) (MessageBus, error)

	info StructuredLogger
	dbg  StructuredLogger
}

// NewServer creates a Server with the given options applied over the
// defaults. The returned server is running: its heartbeat registry sweeps
// for timed out connections until Close is called or parentContext ends.
func NewServer(parentContext context.Context, options ...Option) (*Server, error) {
	ctx, cancelFunc := context.WithCancel(parentContext)
	info, dbg := buildInfoDebugLogger(log.NewLogfmtLogger(os.Stderr), false)
	server := &Server{
		ctx:                       ctx,
		cancelFunc:                cancelFunc,
		resolver:                  NewProtocolResolver(),
		serializer:                JSONSerializer{},
		principals:                anonymousPrincipal{},
		hubs:                      newHubManager(),
		keepAliveInterval:         time.Second * 10,
		disconnectTimeout:         time.Second * 30,
		connectionTimeout:         time.Second * 110,
		transportConnectTimeout:   time.Second * 5,
		longPollDelay:             0,
		messageBufferSize:         1000,
		maximumReceiveMessageSize: 1 << 15, // 32KB
		transportNames:            []string{TransportWebSockets, TransportServerSentEvents, TransportLongPolling},
		info:                      info,
		dbg:                       dbg,
	}
	for _, option := range options {
		if option != nil {
			if err := option(server); err != nil {
				cancelFunc()
				return nil, err
			}
		}
	}
	if server.protector == nil {
		key := server.protectionKey
		if len(key) == 0 {
			key = make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				cancelFunc()
				return nil, fmt.Errorf("generate protection key: %w", err)
			}
		}
		server.protector = NewDataProtector(key)
	}
	server.heartbeat = newTransportHeartbeat(ctx, server.disconnectTimeout, server.info, server.dbg)
	server.groups = newGroupManager(server.heartbeat, server.protector, server.serializer, server.info)
	transports, err := buildTransports(server.transportNames)
	if err != nil {
		cancelFunc()
		return nil, err
	}
	server.transports = transports
	server.bus = newLocalMessageBus(server.heartbeat, server.groups)
	if server.busFactory != nil {
		bus, err := server.busFactory(server)
		if err != nil {
			cancelFunc()
			return nil, fmt.Errorf("create message bus: %w", err)
		}
		server.bus = bus
	}
	server.heartbeat.Start()
	return server, nil
}

func buildTransports(names []string) (*transportManager, error) {
	transports := make([]transport, 0, len(names))
	for _, name := range names {
		switch name {
		case TransportWebSockets:
			transports = append(transports, &webSocketTransport{})
		case TransportServerSentEvents:
			transports = append(transports, &serverSentEventsTransport{})
		case TransportLongPolling:
			transports = append(transports, &longPollingTransport{})
		default:
			return nil, fmt.Errorf("unknown transport %q", name)
		}
	}
	return newTransportManager(transports...), nil
}

// Close stops the heartbeat registry, disconnects all registered
// connections and releases the message bus.
func (s *Server) Close() {
	for _, c := range s.heartbeat.Connections() {
		c.disconnect(nil, true)
	}
	s.heartbeat.Stop()
	_ = s.bus.Close()
	s.cancelFunc()
}

// MessageBus is the bus the server routes payloads over. Server initiated
// sends (outside of any hub invocation) go through here.
func (s *Server) MessageBus() MessageBus {
	return s.bus
}

// MapConnection serves handler at path on mux. The endpoints below path
// (negotiate, connect, reconnect, poll, send, ping, abort, start) are all
// handled by the returned PersistentConnection.
func (s *Server) MapConnection(mux *http.ServeMux, path string, handler ConnectionHandler) *PersistentConnection {
	path = strings.TrimSuffix(path, "/")
	info, dbg := s.prefixLoggers("path", path)
	pc := &PersistentConnection{server: s, path: path, handler: handler, info: info, dbg: dbg}
	mux.Handle(path, pc)
	mux.Handle(path+"/", pc)
	return pc
}

// MapHub serves the registered hubs at path on mux, dispatching received
// payloads as hub method invocations.
func (s *Server) MapHub(mux *http.ServeMux, path string) *PersistentConnection {
	return s.MapConnection(mux, path, newHubDispatcher(s))
}

// HubContext returns a server side context for hubName with no caller.
// Use it to reach clients and groups outside of an invocation.
func (s *Server) HubContext(hubName string) HubContext {
	return &connectionHubContext{
		clients: &hubClients{hubName: hubName, bus: s.bus},
		groups:  s.groups,
		items:   newStateBag(),
	}
}

func (s *Server) prefixLoggers(keyVals ...interface{}) (StructuredLogger, StructuredLogger) {
	prefix := append([]interface{}{"ts", log.DefaultTimestampUTC, "class", "Server"}, keyVals...)
	return log.WithPrefix(s.info, prefix...), log.WithPrefix(s.dbg, prefix...)
}
