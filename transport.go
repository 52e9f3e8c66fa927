package signalr

import (
	"mime"
	"net/http"
	"strings"
)

// Transport names as they appear in the transport query parameter and the
// negotiate response.
const (
	TransportWebSockets       = "webSockets"
	TransportServerSentEvents = "serverSentEvents"
	TransportLongPolling      = "longPolling"
)

const (
	jsonMIMEType       = "application/json; charset=UTF-8"
	javascriptMIMEType = "application/javascript; charset=UTF-8"
)

// transport adapts one delivery mechanism. Implementations own the
// connect/reconnect transitions and delivery semantics particular to their
// transport kind.
type transport interface {
	Name() string
	// SupportsKeepAlive reports whether the transport sends keep-alive
	// markers. Long polling does not: its timeout cycle is the liveness signal.
	SupportsKeepAlive() bool
	ProcessRequest(pc *PersistentConnection, conn *Connection, w http.ResponseWriter, r *http.Request) error
}

type transportManager struct {
	byName map[string]transport
	names  []string
}

func newTransportManager(transports ...transport) *transportManager {
	m := &transportManager{byName: make(map[string]transport)}
	for _, t := range transports {
		if _, known := m.byName[t.Name()]; !known {
			m.byName[t.Name()] = t
			m.names = append(m.names, t.Name())
		}
	}
	return m
}

func (m *transportManager) Transport(name string) (transport, bool) {
	t, ok := m.byName[name]
	return t, ok
}

func (m *transportManager) SupportsTransport(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// SupportedTransports returns the transport names in registration order.
func (m *transportManager) SupportedTransports() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

func hasFormContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

// requestValue reads key from the query string, falling back to the request
// body only when the body actually is a form. The same precedence applies to
// messageId and groupsToken alike.
func requestValue(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	if hasFormContentType(r) {
		return r.PostFormValue(key)
	}
	return ""
}

// writeJSONResponse writes payload as JSON, or as a script wrapped in the
// declared callback when the request carries the JSONP marker. The callback
// parameter changes the declared media type only, not the body shape.
func writeJSONResponse(w http.ResponseWriter, r *http.Request, serializer Serializer, payload interface{}) error {
	data, err := serializer.Marshal(payload)
	if err != nil {
		return err
	}
	if callback := r.URL.Query().Get("callback"); callback != "" {
		w.Header().Set("Content-Type", javascriptMIMEType)
		_, err = w.Write([]byte(callback + "(" + string(data) + ");"))
		return err
	}
	w.Header().Set("Content-Type", jsonMIMEType)
	_, err = w.Write(data)
	return err
}

func isReconnectPath(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/reconnect")
}

func isConnectPath(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/connect")
}
