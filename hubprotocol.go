package signalr

import "encoding/json"

// hubRequest is a client invocation of a hub method:
// hub name, method name, arguments and the correlation id.
type hubRequest struct {
	Hub          string            `json:"H"`
	Method       string            `json:"M"`
	Arguments    []json.RawMessage `json:"A"`
	InvocationID string            `json:"I"`
}

// hubResult carries the outcome of an invocation back to the caller,
// correlated by the invocation id. Either a final result/error or one
// progress notification.
type hubResult struct {
	InvocationID string       `json:"I"`
	Result       interface{}  `json:"R,omitempty"`
	Error        string       `json:"E,omitempty"`
	ErrorDetail  string       `json:"D,omitempty"`
	Progress     *hubProgress `json:"P,omitempty"`
}

type hubProgress struct {
	InvocationID string      `json:"I"`
	Data         interface{} `json:"D"`
}

// hubInvocation is a server-to-client method call produced by the client
// proxies (broadcast, group, user and caller sends).
type hubInvocation struct {
	Hub       string        `json:"H"`
	Method    string        `json:"M"`
	Arguments []interface{} `json:"A"`
}

// StreamEvent is one step of an incremental result stream. A hub method
// returning a channel of StreamEvent delivers each Value as a correlated
// progress notification; the first non-nil Err terminates the stream with a
// fault after the already emitted items.
type StreamEvent struct {
	Value interface{}
	Err   error
}

// Progress lets a hub method push incremental progress to its caller while
// the invocation is still running. Declare a *Progress parameter anywhere in
// the method signature to receive one.
type Progress struct {
	report func(value interface{})
}

// Report sends value as a progress notification to the caller.
func (p *Progress) Report(value interface{}) {
	if p != nil && p.report != nil {
		p.report(value)
	}
}
