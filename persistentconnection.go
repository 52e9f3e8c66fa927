package signalr

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnectionHandler receives the lifecycle and data callbacks of a
// PersistentConnection.
type ConnectionHandler interface {
	OnConnected(r *http.Request, connectionID string) error
	// OnReconnected fires when a known connection resumes over a new
	// physical request on the dedicated reconnect path.
	OnReconnected(r *http.Request, connectionID string) error
	OnReceived(r *http.Request, connectionID string, data []byte) error
	// OnDisconnected fires exactly once per connection. r is nil when the
	// heartbeat sweep detected the timeout; stopCalled is false then.
	OnDisconnected(r *http.Request, connectionID string, stopCalled bool) error
}

// ConnectionHandlerBase is a no-op ConnectionHandler to embed in handlers
// that only care about some callbacks.
type ConnectionHandlerBase struct{}

func (ConnectionHandlerBase) OnConnected(*http.Request, string) error { return nil }

func (ConnectionHandlerBase) OnReconnected(*http.Request, string) error { return nil }

func (ConnectionHandlerBase) OnReceived(*http.Request, string, []byte) error { return nil }

func (ConnectionHandlerBase) OnDisconnected(*http.Request, string, bool) error { return nil }

// PrincipalProvider yields the authenticated user of a request, or an empty
// string for anonymous requests. Authentication itself is an external
// concern; the server only consumes an already established principal.
type PrincipalProvider interface {
	UserName(r *http.Request) string
}

type anonymousPrincipal struct{}

func (anonymousPrincipal) UserName(*http.Request) string { return "" }

// errForbidden marks identity mismatches that map to 403 instead of 400.
var errForbidden = errors.New("forbidden")

// PersistentConnection is the per path orchestrator. Every request resolves
// its protocol, validates the connection token, re-validates group
// membership and is then handed to the selected transport.
type PersistentConnection struct {
	server  *Server
	path    string
	handler ConnectionHandler
	info    StructuredLogger
	dbg     StructuredLogger
}

func (pc *PersistentConnection) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/negotiate"):
		pc.negotiate(w, r)
	case strings.HasSuffix(r.URL.Path, "/ping"):
		_ = writeJSONResponse(w, r, pc.server.serializer, statusResponse{Response: "pong"})
	case strings.HasSuffix(r.URL.Path, "/start"):
		pc.start(w, r)
	default:
		pc.processRequest(w, r)
	}
}

func (pc *PersistentConnection) negotiate(w http.ResponseWriter, r *http.Request) {
	s := pc.server
	clientProtocol := r.URL.Query().Get("clientProtocol")
	version := s.resolver.Resolve(clientProtocol)
	connectionID := uuid.New().String()
	tokenData := connectionID
	if user := s.principals.UserName(r); user != "" {
		tokenData = connectionID + ":" + user
	}
	token, err := s.protector.Protect(tokenData, PurposeConnectionToken)
	if err != nil {
		_ = pc.info.Log(evt, "protect connection token", "error", err, react, "fail negotiate")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	response := negotiateResponse{
		URL:                     pc.path,
		ConnectionToken:         token,
		ConnectionID:            connectionID,
		DisconnectTimeout:       s.disconnectTimeout.Seconds(),
		ConnectionTimeout:       s.connectionTimeout.Seconds(),
		ProtocolVersion:         version.String(),
		TransportConnectTimeout: s.transportConnectTimeout.Seconds(),
		LongPollDelay:           s.longPollDelay.Seconds(),
	}
	if s.keepAliveInterval > 0 {
		keepAliveTimeout := (2 * s.keepAliveInterval).Seconds()
		response.KeepAliveTimeout = &keepAliveTimeout
	}
	if s.resolver.IsClientProtocolEqualOrNewer(clientProtocol, transportListVersion) {
		response.Transports = s.transports.SupportedTransports()
	} else {
		tryWebSockets := s.transports.SupportsTransport(TransportWebSockets)
		response.TryWebSockets = &tryWebSockets
	}
	_ = writeJSONResponse(w, r, s.serializer, response)
}

func (pc *PersistentConnection) start(w http.ResponseWriter, r *http.Request) {
	if _, _, err := pc.resolveIdentity(w, r); err != nil {
		return
	}
	_ = writeJSONResponse(w, r, pc.server.serializer, statusResponse{Response: "started"})
}

func (pc *PersistentConnection) processRequest(w http.ResponseWriter, r *http.Request) {
	s := pc.server
	transportName := r.URL.Query().Get("transport")
	t, ok := s.transports.Transport(transportName)
	if !ok {
		http.Error(w, "Unknown transport.", http.StatusBadRequest)
		return
	}
	connectionID, user, err := pc.resolveIdentity(w, r)
	if err != nil {
		return
	}

	conn, known := s.heartbeat.Connection(connectionID)
	if !known {
		conn = newConnection(connectionID, user, s.messageBufferSize, func(dr *http.Request, stopCalled bool) {
			s.groups.removeConnection(connectionID)
			if err := pc.handler.OnDisconnected(dr, connectionID, stopCalled); err != nil {
				_ = pc.info.Log(evt, "disconnect handler", "error", err, "connection", connectionID)
			}
		})
	}
	conn.setTransport(transportName)
	// Membership follows the token when the client presents one. Requests
	// without a token leave the locally tracked membership untouched.
	if groupsToken := requestValue(r, "groupsToken"); groupsToken != "" {
		groups := s.groups.VerifyGroups(connectionID, groupsToken)
		conn.setGroups(groups)
		s.groups.restore(connectionID, groups)
	}
	s.heartbeat.AddOrUpdateConnection(conn)

	switch {
	case strings.HasSuffix(r.URL.Path, "/send"):
		pc.processSend(w, r, conn)
	case strings.HasSuffix(r.URL.Path, "/abort"):
		conn.disconnect(r, true)
		s.heartbeat.RemoveConnection(connectionID)
		w.WriteHeader(http.StatusOK)
	default:
		// while the transport request or stream is in flight the heartbeat
		// must not count the connection as idle
		conn.beginRequest()
		err := t.ProcessRequest(pc, conn, w, r)
		conn.endRequest(time.Now())
		if err != nil {
			_ = pc.info.Log(evt, "process transport request", "transport", transportName, "error", err, react, "fail request")
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// resolveIdentity reads and validates the connection token and writes the
// error response itself when validation fails. The connection is never
// registered in that case.
func (pc *PersistentConnection) resolveIdentity(w http.ResponseWriter, r *http.Request) (connectionID, user string, err error) {
	token := requestValue(r, "connectionToken")
	if token == "" {
		http.Error(w, "Missing connection token.", http.StatusBadRequest)
		return "", "", errors.New("missing connection token")
	}
	connectionID, user, err = pc.server.connectionIDFromToken(r, token)
	if err != nil {
		if errors.Is(err, errForbidden) {
			http.Error(w, "Forbidden.", http.StatusForbidden)
		} else {
			http.Error(w, "Invalid connection token.", http.StatusBadRequest)
		}
		return "", "", err
	}
	return connectionID, user, nil
}

func (pc *PersistentConnection) processSend(w http.ResponseWriter, r *http.Request, conn *Connection) {
	var data []byte
	if hasFormContentType(r) {
		data = []byte(r.PostFormValue("data"))
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Unreadable request body.", http.StatusBadRequest)
			return
		}
		data = body
	}
	if err := pc.handler.OnReceived(r, conn.ConnectionID(), data); err != nil {
		_ = pc.info.Log(evt, "receive handler", "error", err, "connection", conn.ConnectionID(), react, "fail request")
		http.Error(w, "Error processing request.", http.StatusInternalServerError)
		return
	}
	_ = writeJSONResponse(w, r, pc.server.serializer, struct{}{})
}

// connectionIDFromToken decodes the connection token and derives the
// connection id. Authenticated requests require a connectionId:userName
// token whose user matches the current principal; anonymous requests reject
// tokens carrying any user suffix. Both connection ids and user names may
// contain the delimiter, so the user name is matched as a suffix against the
// current principal instead of splitting at a fixed position.
func (s *Server) connectionIDFromToken(r *http.Request, token string) (connectionID, user string, err error) {
	unprotected, err := s.protector.Unprotect(token, PurposeConnectionToken)
	if err != nil || unprotected == "" {
		return "", "", ErrTokenInvalid
	}
	user = s.principals.UserName(r)
	if user != "" {
		suffix := ":" + user
		if !strings.HasSuffix(unprotected, suffix) {
			return "", "", errForbidden
		}
		connectionID = strings.TrimSuffix(unprotected, suffix)
		if connectionID == "" {
			return "", "", ErrTokenInvalid
		}
		return connectionID, user, nil
	}
	if strings.Contains(unprotected, ":") {
		// an authenticated token is not presentable on an anonymous request
		return "", "", errors.New("unexpected user name in connection token")
	}
	return unprotected, "", nil
}
