package signalr

import (
	"fmt"
	"net/http"
	"reflect"
	"runtime/debug"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// HubDispatcher is the ConnectionHandler that resolves received hub
// requests against the registered method tables and relays results, faults
// and progress notifications back to the caller. An invocation fault never
// terminates the transport loop and never affects other connections.
type HubDispatcher struct {
	ConnectionHandlerBase
	server *Server
	info   StructuredLogger
	dbg    StructuredLogger
}

func newHubDispatcher(server *Server) *HubDispatcher {
	info, dbg := server.prefixLoggers("class", "HubDispatcher")
	return &HubDispatcher{server: server, info: info, dbg: dbg}
}

func (d *HubDispatcher) OnConnected(_ *http.Request, connectionID string) error {
	for _, descriptor := range d.server.hubs.Hubs() {
		d.instantiate(descriptor, connectionID).OnConnected(connectionID)
	}
	return nil
}

func (d *HubDispatcher) OnReconnected(_ *http.Request, connectionID string) error {
	for _, descriptor := range d.server.hubs.Hubs() {
		if listener, ok := d.instantiate(descriptor, connectionID).(HubReconnectListener); ok {
			listener.OnReconnected(connectionID)
		}
	}
	return nil
}

func (d *HubDispatcher) OnDisconnected(_ *http.Request, connectionID string, _ bool) error {
	for _, descriptor := range d.server.hubs.Hubs() {
		d.instantiate(descriptor, connectionID).OnDisconnected(connectionID)
	}
	return nil
}

func (d *HubDispatcher) OnReceived(_ *http.Request, connectionID string, data []byte) error {
	var request hubRequest
	if err := d.server.serializer.Unmarshal(data, &request); err != nil {
		return fmt.Errorf("parse hub request: %w", err)
	}
	descriptor, ok := d.server.hubs.Hub(request.Hub)
	if !ok {
		_ = d.info.Log(evt, "resolve hub", "hub", request.Hub, "error", "unknown hub", react, "send error result")
		d.sendFault(connectionID, request.InvocationID, fmt.Sprintf("Hub %q could not be resolved.", request.Hub), nil)
		return nil
	}
	md, args, ok := descriptor.resolve(request.Method, request.Arguments, d.server.serializer)
	if !ok {
		_ = d.info.Log(evt, "resolve method", "hub", request.Hub, "method", request.Method, "error", "no matching method", react, "send error result")
		d.sendFault(connectionID, request.InvocationID, fmt.Sprintf("Method %q could not be resolved.", request.Method), nil)
		return nil
	}
	d.invoke(descriptor, md, connectionID, request.InvocationID, args)
	return nil
}

// instantiate creates a fresh hub instance bound to the calling connection.
func (d *HubDispatcher) instantiate(descriptor *HubDescriptor, connectionID string) HubInterface {
	var items *StateBag
	if conn, ok := d.server.heartbeat.Connection(connectionID); ok {
		items = conn.Items()
	} else {
		items = newStateBag()
	}
	hub := descriptor.factory()
	hub.Initialize(&connectionHubContext{
		clients:      &hubClients{hubName: descriptor.Name, bus: d.server.bus, callerID: connectionID},
		groups:       d.server.groups,
		items:        items,
		connectionID: connectionID,
	})
	return hub
}

func (d *HubDispatcher) invoke(descriptor *HubDescriptor, md *MethodDescriptor, connectionID, invocationID string, args []reflect.Value) {
	hub := d.instantiate(descriptor, connectionID)
	if md.progressIndex >= 0 {
		progress := &Progress{report: func(value interface{}) {
			d.sendProgress(connectionID, invocationID, value)
		}}
		args = append(args[:md.progressIndex],
			append([]reflect.Value{reflect.ValueOf(progress)}, args[md.progressIndex:]...)...)
	}
	method := reflect.ValueOf(hub).MethodByName(md.methodName)
	results, panicked := d.callRecovered(method, args, connectionID, invocationID, md.Name)
	if panicked {
		return
	}
	d.relayResults(connectionID, invocationID, results)
}

// callRecovered invokes method and converts a panic into a fault for the
// caller. The dispatcher and all other connections keep running.
func (d *HubDispatcher) callRecovered(method reflect.Value, args []reflect.Value, connectionID, invocationID, name string) (results []reflect.Value, panicked bool) {
	defer func() {
		if err := recover(); err != nil {
			panicked = true
			stack := string(debug.Stack())
			_ = d.info.Log(evt, "panic in hub method", "method", name, "error", err, react, "send error result")
			_ = d.dbg.Log(evt, "panic in hub method", "method", name, "error", err, "stack", stack)
			var detail error
			if d.server.enableDetailedErrors {
				detail = fmt.Errorf("%v\n%v", err, stack)
			}
			d.sendFault(connectionID, invocationID, "There was an error invoking the hub method.", detail)
		}
	}()
	return method.Call(args), false
}

func (d *HubDispatcher) relayResults(connectionID, invocationID string, results []reflect.Value) {
	// a trailing error return becomes a fault
	if n := len(results); n > 0 && results[n-1].Type().Implements(errorType) {
		if err, _ := results[n-1].Interface().(error); err != nil {
			d.sendFault(connectionID, invocationID, "There was an error invoking the hub method.", err)
			return
		}
		results = results[:n-1]
	}
	switch len(results) {
	case 0:
		d.sendCompletion(connectionID, invocationID, nil)
	case 1:
		if results[0].Kind() == reflect.Chan {
			d.relayStream(connectionID, invocationID, results[0])
			return
		}
		d.sendCompletion(connectionID, invocationID, results[0].Interface())
	default:
		values := make([]interface{}, len(results))
		for i, r := range results {
			values[i] = r.Interface()
		}
		d.sendCompletion(connectionID, invocationID, values)
	}
}

// relayStream pumps an incremental result channel to the caller: each item
// as a correlated progress notification in emission order, then a final
// completion, or a fault terminating the stream on the first error event.
func (d *HubDispatcher) relayStream(connectionID, invocationID string, channel reflect.Value) {
	for {
		item, ok := channel.Recv()
		if !ok {
			d.sendCompletion(connectionID, invocationID, nil)
			return
		}
		if event, isEvent := item.Interface().(StreamEvent); isEvent {
			if event.Err != nil {
				d.sendFault(connectionID, invocationID, "There was an error invoking the hub method.", event.Err)
				return
			}
			d.sendProgress(connectionID, invocationID, event.Value)
			continue
		}
		d.sendProgress(connectionID, invocationID, item.Interface())
	}
}

func (d *HubDispatcher) sendCompletion(connectionID, invocationID string, result interface{}) {
	if invocationID == "" {
		return
	}
	_ = d.server.bus.SendToConnection(connectionID, hubResult{InvocationID: invocationID, Result: result})
}

func (d *HubDispatcher) sendProgress(connectionID, invocationID string, value interface{}) {
	if invocationID == "" {
		return
	}
	_ = d.server.bus.SendToConnection(connectionID, hubResult{
		InvocationID: invocationID,
		Progress:     &hubProgress{InvocationID: invocationID, Data: value},
	})
}

// sendFault delivers an invocation fault to the calling connection only.
// Detail is included when detailed errors are enabled, otherwise the caller
// sees the generic message alone.
func (d *HubDispatcher) sendFault(connectionID, invocationID string, message string, detail error) {
	if invocationID == "" {
		return
	}
	result := hubResult{InvocationID: invocationID, Error: message}
	if detail != nil && d.server.enableDetailedErrors {
		result.ErrorDetail = detail.Error()
	}
	_ = d.server.bus.SendToConnection(connectionID, result)
}
