package signalr

import (
	"errors"
	"time"
)

// Option configures a Server during NewServer.
type Option func(s *Server) error

// Logger sets the logger used by the server to log info events.
// If debug is true, debug log events are generated, too.
func Logger(logger StructuredLogger, debug bool) Option {
	return func(s *Server) error {
		info, dbg := buildInfoDebugLogger(logger, debug)
		s.info = info
		s.dbg = dbg
		return nil
	}
}

// KeepAliveInterval is the interval between keep-alive frames on streaming
// transports. The negotiated client timeout is double this value. A zero or
// negative interval disables keep-alives and is advertised to the client by
// omitting the timeout from the negotiate response.
// Default is 10 seconds.
func KeepAliveInterval(interval time.Duration) Option {
	return func(s *Server) error {
		s.keepAliveInterval = interval
		return nil
	}
}

// DisconnectTimeout is the interval without activity after which the
// heartbeat registry considers a connection gone and tears it down.
// Default is 30 seconds.
func DisconnectTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout <= 0 {
			return errors.New("disconnect timeout must be positive")
		}
		s.disconnectTimeout = timeout
		return nil
	}
}

// ConnectionTimeout is the interval after which an idle poll request is
// completed with an empty timed out response.
// Default is 110 seconds.
func ConnectionTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout <= 0 {
			return errors.New("connection timeout must be positive")
		}
		s.connectionTimeout = timeout
		return nil
	}
}

// TransportConnectTimeout is the interval the client waits for its
// transport to connect before falling back. It is only advertised in the
// negotiate response. Default is 5 seconds.
func TransportConnectTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		s.transportConnectTimeout = timeout
		return nil
	}
}

// LongPollDelay is the pause the client inserts between long poll requests.
// Default is 0.
func LongPollDelay(delay time.Duration) Option {
	return func(s *Server) error {
		s.longPollDelay = delay
		return nil
	}
}

// EnableDetailedErrors - if true, detailed error messages including stack
// traces are returned to the caller when a hub method fails. The default is
// false, as these messages can contain sensitive information.
func EnableDetailedErrors(enable bool) Option {
	return func(s *Server) error {
		s.enableDetailedErrors = enable
		return nil
	}
}

// MessageBufferSize is the number of messages retained per connection for
// replay after a reconnect. Messages older than the buffer are lost.
// Default is 1000.
func MessageBufferSize(size int) Option {
	return func(s *Server) error {
		if size <= 0 {
			return errors.New("message buffer size must be positive")
		}
		s.messageBufferSize = size
		return nil
	}
}

// MaximumReceiveMessageSize is the maximum size in bytes of a single
// websocket frame received from the client. Default is 32KB.
func MaximumReceiveMessageSize(size int) Option {
	return func(s *Server) error {
		if size <= 0 {
			return errors.New("maximum receive message size must be positive")
		}
		s.maximumReceiveMessageSize = size
		return nil
	}
}

// InsecureSkipVerify disables the websocket origin check.
func InsecureSkipVerify(skip bool) Option {
	return func(s *Server) error {
		s.insecureSkipVerify = skip
		return nil
	}
}

// AllowOriginPatterns lists the origins accepted on websocket upgrade.
func AllowOriginPatterns(patterns []string) Option {
	return func(s *Server) error {
		s.originPatterns = patterns
		return nil
	}
}

// ProtectionKey sets the key material for the default token protector.
// Servers behind a load balancer have to share this key, otherwise tokens
// issued by one instance are rejected by the others.
func ProtectionKey(key []byte) Option {
	return func(s *Server) error {
		if len(key) == 0 {
			return errors.New("protection key must not be empty")
		}
		s.protectionKey = key
		return nil
	}
}

// WithDataProtector replaces the token protector.
func WithDataProtector(protector DataProtector) Option {
	return func(s *Server) error {
		if protector == nil {
			return errors.New("protector must not be nil")
		}
		s.protector = protector
		return nil
	}
}

// WithSerializer replaces the payload serializer.
func WithSerializer(serializer Serializer) Option {
	return func(s *Server) error {
		if serializer == nil {
			return errors.New("serializer must not be nil")
		}
		s.serializer = serializer
		return nil
	}
}

// WithPrincipalProvider sets the source of the authenticated user name.
// The default treats every request as anonymous.
func WithPrincipalProvider(principals PrincipalProvider) Option {
	return func(s *Server) error {
		if principals == nil {
			return errors.New("principal provider must not be nil")
		}
		s.principals = principals
		return nil
	}
}

// SupportedProtocols restricts negotiation to the given protocol version
// range. Default is 1.2 to 1.6.
func SupportedProtocols(min, max Version) Option {
	return func(s *Server) error {
		if max.Compare(min) < 0 {
			return errors.New("maximum protocol version below minimum")
		}
		s.resolver = NewProtocolResolverBetween(min, max)
		return nil
	}
}

// AvailableTransports restricts the transports offered to clients.
// Default is webSockets, serverSentEvents and longPolling.
func AvailableTransports(names ...string) Option {
	return func(s *Server) error {
		if len(names) == 0 {
			return errors.New("at least one transport required")
		}
		s.transportNames = names
		return nil
	}
}

// RegisterHub makes the hubs produced by factory invocable under name on
// every path mapped with MapHub. A fresh instance is created per event.
func RegisterHub(name string, factory func() HubInterface) Option {
	return func(s *Server) error {
		return s.hubs.Register(name, factory)
	}
}

// HubMethodAlias makes methodName of hubName additionally invocable under
// alias. Several methods may share an alias to emulate overloads.
func HubMethodAlias(hubName, alias, methodName string) Option {
	return func(s *Server) error {
		return s.hubs.RegisterMethodAlias(hubName, alias, methodName)
	}
}

// WithMessageBus replaces the in-process message bus. The factory runs after
// the heartbeat registry and group manager exist, so a bus may wrap the
// local one via LocalMessageBus.
func WithMessageBus(factory func(s *Server) (MessageBus, error)) Option {
	return func(s *Server) error {
		if factory == nil {
			return errors.New("bus factory must not be nil")
		}
		s.busFactory = factory
		return nil
	}
}

// LocalMessageBus is the in-process bus of s, regardless of the bus
// configured. Backplane implementations deliver remotely received payloads
// through it.
func LocalMessageBus(s *Server) MessageBus {
	return newLocalMessageBus(s.heartbeat, s.groups)
}
