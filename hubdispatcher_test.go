package signalr

import (
	"encoding/json"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type arithHub struct {
	Hub
}

func (h *arithHub) Add(a, b int) int { return a + b }

func (h *arithHub) Divide(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func (h *arithHub) Swap(a, b string) (string, string) { return b, a }

func (h *arithHub) Explode() { panic("kaboom") }

func (h *arithHub) Countdown(from int, progress *Progress) string {
	for i := from; i > 0; i-- {
		progress.Report(i)
	}
	return "liftoff"
}

func (h *arithHub) Stream(fail bool) <-chan StreamEvent {
	events := make(chan StreamEvent, 3)
	events <- StreamEvent{Value: 1}
	events <- StreamEvent{Value: 2}
	if fail {
		events <- StreamEvent{Err: errors.New("stream broke")}
	}
	close(events)
	return events
}

func (h *arithHub) Remember(value string) {
	h.Items().Set("value", value)
}

func (h *arithHub) Recall() string {
	value, _ := h.Items().GetString("value")
	return value
}

func (h *arithHub) Notify() {
	h.Clients().Caller().Send("notified")
}

type lifecycleRecorder struct {
	mx           sync.Mutex
	connected    []string
	reconnected  []string
	disconnected []string
}

type lifecycleHub struct {
	Hub
	recorder *lifecycleRecorder
}

func (h *lifecycleHub) OnConnected(connectionID string) {
	h.recorder.mx.Lock()
	defer h.recorder.mx.Unlock()
	h.recorder.connected = append(h.recorder.connected, connectionID)
}

func (h *lifecycleHub) OnDisconnected(connectionID string) {
	h.recorder.mx.Lock()
	defer h.recorder.mx.Unlock()
	h.recorder.disconnected = append(h.recorder.disconnected, connectionID)
}

func (h *lifecycleHub) OnReconnected(connectionID string) {
	h.recorder.mx.Lock()
	defer h.recorder.mx.Unlock()
	h.recorder.reconnected = append(h.recorder.reconnected, connectionID)
}

var _ = Describe("HubDispatcher", func() {
	var server *Server
	var dispatcher *HubDispatcher
	var conn *Connection
	var recorder *lifecycleRecorder

	BeforeEach(func() {
		recorder = &lifecycleRecorder{}
		server = newTestServer(
			RegisterHub("arith", func() HubInterface { return &arithHub{} }),
			RegisterHub("lifecycle", func() HubInterface { return &lifecycleHub{recorder: recorder} }),
			HubMethodAlias("arith", "plus", "Add"),
			HubMethodAlias("arith", "plus", "Swap"),
		)
		dispatcher = newHubDispatcher(server)
		conn = newConnection("caller", "", 64, nil)
		server.heartbeat.AddOrUpdateConnection(conn)
	})

	AfterEach(func() {
		server.Close()
	})

	invoke := func(hub, method, invocationID string, args ...string) {
		rawArgs := make([]json.RawMessage, len(args))
		for i, a := range args {
			rawArgs[i] = json.RawMessage(a)
		}
		data, err := json.Marshal(hubRequest{Hub: hub, Method: method, Arguments: rawArgs, InvocationID: invocationID})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, dispatcher.OnReceived(nil, "caller", data)).To(Succeed())
	}

	results := func() []hubResult {
		messages, _ := conn.store.After(0)
		sent := make([]hubResult, 0, len(messages))
		for _, m := range messages {
			if result, ok := m.Payload.(hubResult); ok {
				sent = append(sent, result)
			}
		}
		return sent
	}

	It("invokes a method case insensitively and answers the result", func() {
		invoke("arith", "add", "1", "2", "3")
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].InvocationID).To(Equal("1"))
		Expect(sent[0].Result).To(BeEquivalentTo(5))
		Expect(sent[0].Error).To(BeEmpty())
	})

	It("bundles multiple return values into one result", func() {
		invoke("arith", "swap", "1", `"a"`, `"b"`)
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Result).To(Equal([]interface{}{"b", "a"}))
	})

	It("strips a nil trailing error from the result", func() {
		invoke("arith", "divide", "1", "6", "3")
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Result).To(BeEquivalentTo(2))
		Expect(sent[0].Error).To(BeEmpty())
	})

	It("answers a fault when the method returns an error", func() {
		invoke("arith", "divide", "1", "6", "0")
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Error).NotTo(BeEmpty())
		Expect(sent[0].Result).To(BeNil())
	})

	It("answers a fault for an unknown hub", func() {
		invoke("nosuch", "add", "1")
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Error).To(ContainSubstring("could not be resolved"))
	})

	It("answers a fault for an unknown method", func() {
		invoke("arith", "subtract", "1")
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Error).To(ContainSubstring("could not be resolved"))
	})

	It("answers a fault when the argument shape does not match", func() {
		invoke("arith", "add", "1", `"two"`, "3")
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Error).To(ContainSubstring("could not be resolved"))
	})

	It("turns a panic into a fault and keeps dispatching", func() {
		invoke("arith", "explode", "1")
		sent := results()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Error).NotTo(BeEmpty())
		Expect(sent[0].ErrorDetail).To(BeEmpty())

		invoke("arith", "add", "2", "1", "1")
		sent = results()
		Expect(sent).To(HaveLen(2))
		Expect(sent[1].Result).To(BeEquivalentTo(2))
	})

	It("includes the panic detail when detailed errors are enabled", func() {
		detailed := newTestServer(
			EnableDetailedErrors(true),
			RegisterHub("arith", func() HubInterface { return &arithHub{} }),
		)
		defer detailed.Close()
		detailedConn := newConnection("caller", "", 64, nil)
		detailed.heartbeat.AddOrUpdateConnection(detailedConn)
		data, _ := json.Marshal(hubRequest{Hub: "arith", Method: "explode", InvocationID: "1"})
		Expect(newHubDispatcher(detailed).OnReceived(nil, "caller", data)).To(Succeed())

		messages, _ := detailedConn.store.After(0)
		Expect(messages).To(HaveLen(1))
		result := messages[0].Payload.(hubResult)
		Expect(result.ErrorDetail).To(ContainSubstring("kaboom"))
	})

	It("relays explicit progress before the completion", func() {
		invoke("arith", "countdown", "1", "3")
		sent := results()
		Expect(sent).To(HaveLen(4))
		for i, expected := range []int{3, 2, 1} {
			Expect(sent[i].Progress).NotTo(BeNil())
			Expect(sent[i].Progress.Data).To(BeEquivalentTo(expected))
		}
		Expect(sent[3].Progress).To(BeNil())
		Expect(sent[3].Result).To(Equal("liftoff"))
	})

	It("relays a result stream as progress and completes on close", func() {
		invoke("arith", "stream", "1", "false")
		sent := results()
		Expect(sent).To(HaveLen(3))
		Expect(sent[0].Progress.Data).To(BeEquivalentTo(1))
		Expect(sent[1].Progress.Data).To(BeEquivalentTo(2))
		Expect(sent[2].Progress).To(BeNil())
		Expect(sent[2].Error).To(BeEmpty())
	})

	It("terminates a stream with a fault after the already emitted items", func() {
		invoke("arith", "stream", "1", "true")
		sent := results()
		Expect(sent).To(HaveLen(3))
		Expect(sent[0].Progress).NotTo(BeNil())
		Expect(sent[1].Progress).NotTo(BeNil())
		Expect(sent[2].Error).NotTo(BeEmpty())
	})

	It("sends no completion without an invocation id", func() {
		invoke("arith", "add", "", "1", "2")
		Expect(results()).To(BeEmpty())
	})

	It("keeps caller state across invocations of the same connection", func() {
		invoke("arith", "remember", "1", `"towel"`)
		invoke("arith", "recall", "2")
		sent := results()
		Expect(sent).To(HaveLen(2))
		Expect(sent[1].Result).To(Equal("towel"))
	})

	It("resolves aliased methods by argument shape", func() {
		invoke("arith", "plus", "1", "1", "2")
		invoke("arith", "plus", "2", `"a"`, `"b"`)
		sent := results()
		Expect(sent).To(HaveLen(2))
		Expect(sent[0].Result).To(BeEquivalentTo(3))
		Expect(sent[1].Result).To(Equal([]interface{}{"b", "a"}))
	})

	It("lets a hub reach its caller through the client proxies", func() {
		invoke("arith", "notify", "1")
		messages, _ := conn.store.After(0)
		var invocations []hubInvocation
		for _, m := range messages {
			if inv, ok := m.Payload.(hubInvocation); ok {
				invocations = append(invocations, inv)
			}
		}
		Expect(invocations).To(HaveLen(1))
		Expect(invocations[0].Hub).To(Equal("arith"))
		Expect(invocations[0].Method).To(Equal("notified"))
	})

	Context("lifecycle", func() {
		It("fans connect, reconnect and disconnect to all hubs", func() {
			Expect(dispatcher.OnConnected(nil, "caller")).To(Succeed())
			Expect(dispatcher.OnReconnected(nil, "caller")).To(Succeed())
			Expect(dispatcher.OnDisconnected(nil, "caller", false)).To(Succeed())
			recorder.mx.Lock()
			defer recorder.mx.Unlock()
			Expect(recorder.connected).To(Equal([]string{"caller"}))
			Expect(recorder.reconnected).To(Equal([]string{"caller"}))
			Expect(recorder.disconnected).To(Equal([]string{"caller"}))
		})
	})
})
