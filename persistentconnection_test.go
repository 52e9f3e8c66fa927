package signalr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// recordingHandler collects the callbacks a PersistentConnection fires.
type recordingHandler struct {
	ConnectionHandlerBase
	mx           sync.Mutex
	connected    []string
	reconnected  []string
	disconnected []string
	received     map[string][]string
	stopCalled   []bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{received: make(map[string][]string)}
}

func (h *recordingHandler) OnConnected(_ *http.Request, connectionID string) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.connected = append(h.connected, connectionID)
	return nil
}

func (h *recordingHandler) OnReconnected(_ *http.Request, connectionID string) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.reconnected = append(h.reconnected, connectionID)
	return nil
}

func (h *recordingHandler) OnReceived(_ *http.Request, connectionID string, data []byte) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.received[connectionID] = append(h.received[connectionID], string(data))
	return nil
}

func (h *recordingHandler) OnDisconnected(_ *http.Request, connectionID string, stopCalled bool) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.disconnected = append(h.disconnected, connectionID)
	h.stopCalled = append(h.stopCalled, stopCalled)
	return nil
}

func (h *recordingHandler) snapshot() (connected, reconnected, disconnected []string) {
	h.mx.Lock()
	defer h.mx.Unlock()
	return append([]string{}, h.connected...), append([]string{}, h.reconnected...), append([]string{}, h.disconnected...)
}

func serveRequest(server *Server, handler ConnectionHandler, method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	server.MapConnection(mux, "/echo", handler)
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, vs := range header {
		r.Header[k] = vs
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func formHeader() http.Header {
	return http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}
}

var _ = Describe("PersistentConnection", func() {
	var server *Server
	var handler *recordingHandler

	BeforeEach(func() {
		server = newTestServer()
		handler = newRecordingHandler()
	})

	AfterEach(func() {
		server.Close()
	})

	Context("negotiate", func() {
		negotiate := func(clientProtocol string) negotiateResponse {
			w := serveRequest(server, handler, "GET", "/echo/negotiate?clientProtocol="+clientProtocol, "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			var response negotiateResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &response)).To(Succeed())
			return response
		}

		It("issues a connection id and token", func() {
			response := negotiate("1.6")
			Expect(response.ConnectionID).NotTo(BeEmpty())
			// the test protector is a passthrough, the token carries the id
			Expect(response.ConnectionToken).To(Equal(response.ConnectionID))
			Expect(response.URL).To(Equal("/echo"))
		})

		It("embeds the user name into the token of an authenticated request", func() {
			authServer := newTestServer(WithPrincipalProvider(fixedPrincipal{user: "alice"}))
			defer authServer.Close()
			w := serveRequest(authServer, handler, "GET", "/echo/negotiate?clientProtocol=1.6", "", nil)
			var response negotiateResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &response)).To(Succeed())
			Expect(response.ConnectionToken).To(Equal(response.ConnectionID + ":alice"))
		})

		It("advertises the transport list to protocol 1.6 clients", func() {
			response := negotiate("1.6")
			Expect(response.ProtocolVersion).To(Equal("1.6"))
			Expect(response.Transports).To(Equal([]string{TransportWebSockets, TransportServerSentEvents, TransportLongPolling}))
			Expect(response.TryWebSockets).To(BeNil())
		})

		It("advertises TryWebSockets to older clients", func() {
			response := negotiate("1.5")
			Expect(response.ProtocolVersion).To(Equal("1.5"))
			Expect(response.Transports).To(BeNil())
			Expect(response.TryWebSockets).NotTo(BeNil())
			Expect(*response.TryWebSockets).To(BeTrue())
		})

		It("reports TryWebSockets false when websockets are not offered", func() {
			limited := newTestServer(AvailableTransports(TransportLongPolling))
			defer limited.Close()
			w := serveRequest(limited, handler, "GET", "/echo/negotiate?clientProtocol=1.5", "", nil)
			var response negotiateResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &response)).To(Succeed())
			Expect(*response.TryWebSockets).To(BeFalse())
		})

		It("clamps the protocol version", func() {
			Expect(negotiate("2.0").ProtocolVersion).To(Equal("1.6"))
			Expect(negotiate("fish").ProtocolVersion).To(Equal("1.2"))
		})

		It("advertises the keep alive timeout as double the interval", func() {
			response := negotiate("1.6")
			Expect(response.KeepAliveTimeout).NotTo(BeNil())
			Expect(*response.KeepAliveTimeout).To(Equal(20.0))
		})

		It("omits the keep alive timeout when keep alives are disabled", func() {
			quiet := newTestServer(KeepAliveInterval(0))
			defer quiet.Close()
			w := serveRequest(quiet, handler, "GET", "/echo/negotiate?clientProtocol=1.6", "", nil)
			var response negotiateResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &response)).To(Succeed())
			Expect(response.KeepAliveTimeout).To(BeNil())
		})
	})

	Context("ping", func() {
		It("answers pong", func() {
			w := serveRequest(server, handler, "GET", "/echo/ping", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal(`{"Response":"pong"}`))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json; charset=UTF-8"))
		})

		It("answers as script when the request declares a callback", func() {
			w := serveRequest(server, handler, "GET", "/echo/ping?callback=cb", "", nil)
			Expect(w.Body.String()).To(Equal(`cb({"Response":"pong"});`))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/javascript; charset=UTF-8"))
		})
	})

	Context("start", func() {
		It("answers started for a valid token", func() {
			w := serveRequest(server, handler, "GET", "/echo/start?transport=longPolling&connectionToken=conn-1", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal(`{"Response":"started"}`))
		})

		It("rejects a missing token", func() {
			w := serveRequest(server, handler, "GET", "/echo/start?transport=longPolling", "", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("transport selection", func() {
		It("rejects an unknown transport", func() {
			w := serveRequest(server, handler, "POST", "/echo/send?transport=flying&connectionToken=conn-1", "", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("Unknown transport."))
		})

		It("rejects a transport excluded by configuration", func() {
			limited := newTestServer(AvailableTransports(TransportServerSentEvents))
			defer limited.Close()
			w := serveRequest(limited, handler, "POST", "/echo/send?transport=longPolling&connectionToken=conn-1", "", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("connection token validation", func() {
		It("rejects a request without a token", func() {
			w := serveRequest(server, handler, "POST", "/echo/send?transport=longPolling", "", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an authenticated token on an anonymous request", func() {
			w := serveRequest(server, handler, "POST", "/echo/send?transport=longPolling&connectionToken="+url.QueryEscape("conn-1:alice"), "", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a token of another user", func() {
			authServer := newTestServer(WithPrincipalProvider(fixedPrincipal{user: "alice"}))
			defer authServer.Close()
			w := serveRequest(authServer, handler, "POST", "/echo/send?transport=longPolling&connectionToken="+url.QueryEscape("conn-1:bob"), "data=x", formHeader())
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("rejects an anonymous token on an authenticated request", func() {
			authServer := newTestServer(WithPrincipalProvider(fixedPrincipal{user: "alice"}))
			defer authServer.Close()
			w := serveRequest(authServer, handler, "POST", "/echo/send?transport=longPolling&connectionToken=conn-1", "data=x", formHeader())
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("derives the connection id when the user name contains delimiters", func() {
			user := "::11:::::::1:1"
			authServer := newTestServer(WithPrincipalProvider(fixedPrincipal{user: user}))
			defer authServer.Close()
			token := url.QueryEscape("conn-1:" + user)
			w := serveRequest(authServer, handler, "POST", "/echo/send?transport=longPolling&connectionToken="+token, "data=x", formHeader())
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(handler.received).To(HaveKey("conn-1"))
		})
	})

	Context("send", func() {
		It("hands form data to the handler", func() {
			w := serveRequest(server, handler, "POST", "/echo/send?transport=longPolling&connectionToken=conn-1", "data=hello", formHeader())
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(handler.received["conn-1"]).To(Equal([]string{"hello"}))
		})

		It("hands a raw body to the handler", func() {
			w := serveRequest(server, handler, "POST", "/echo/send?transport=longPolling&connectionToken=conn-1", `{"raw":true}`, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(handler.received["conn-1"]).To(Equal([]string{`{"raw":true}`}))
		})

		It("answers 500 when the handler fails", func() {
			failing := &failingHandler{}
			w := serveRequest(server, failing, "POST", "/echo/send?transport=longPolling&connectionToken=conn-1", "data=x", formHeader())
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Context("abort", func() {
		It("fires OnDisconnected with stopCalled true and unregisters the connection", func() {
			serveRequest(server, handler, "POST", "/echo/send?transport=longPolling&connectionToken=conn-1", "data=x", formHeader())
			w := serveRequest(server, handler, "POST", "/echo/abort?transport=longPolling&connectionToken=conn-1", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			_, _, disconnected := handler.snapshot()
			Expect(disconnected).To(Equal([]string{"conn-1"}))
			Expect(handler.stopCalled).To(Equal([]bool{true}))
			_, ok := server.heartbeat.Connection("conn-1")
			Expect(ok).To(BeFalse())
		})
	})
})

type failingHandler struct {
	ConnectionHandlerBase
}

func (h *failingHandler) OnReceived(*http.Request, string, []byte) error {
	return errTest
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "handler failure" }
