package signalr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var progressType = reflect.TypeOf(&Progress{})

// lifecycle and context accessors of the embedded Hub are not invocable
var nonInvocableMethods = map[string]struct{}{
	"Initialize":     {},
	"OnConnected":    {},
	"OnDisconnected": {},
	"OnReconnected":  {},
	"Clients":        {},
	"Groups":         {},
	"Items":          {},
	"ConnectionID":   {},
}

// MethodDescriptor is one invocable hub method with its typed parameter
// shape. The table of descriptors is built once at registration and held
// immutably afterwards; invocation resolution is a linear scan over the
// descriptors registered under a name, in registration order.
type MethodDescriptor struct {
	Name          string
	methodName    string
	paramTypes    []reflect.Type
	progressIndex int
}

// bindArguments deserializes args into the parameter shape. A descriptor is
// compatible with a call when the arity matches and every argument
// deserializes into its parameter type.
func (md *MethodDescriptor) bindArguments(args []json.RawMessage, serializer Serializer) ([]reflect.Value, error) {
	if len(args) != len(md.paramTypes) {
		return nil, fmt.Errorf("method %s expects %d arguments, got %d", md.Name, len(md.paramTypes), len(args))
	}
	values := make([]reflect.Value, len(args))
	for i, arg := range args {
		value := reflect.New(md.paramTypes[i])
		if err := serializer.Unmarshal(arg, value.Interface()); err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, md.Name, err)
		}
		values[i] = value.Elem()
	}
	return values, nil
}

// HubDescriptor is a registered hub: its name, the factory producing
// instances and the precomputed method table.
type HubDescriptor struct {
	Name    string
	factory func() HubInterface
	methods map[string][]*MethodDescriptor
}

// resolve finds the first descriptor registered under method whose parameter
// shape is compatible with args, and returns the bound argument values.
func (d *HubDescriptor) resolve(method string, args []json.RawMessage, serializer Serializer) (*MethodDescriptor, []reflect.Value, bool) {
	for _, md := range d.methods[strings.ToLower(method)] {
		if values, err := md.bindArguments(args, serializer); err == nil {
			return md, values, true
		}
	}
	return nil, nil, false
}

type hubManager struct {
	mx   sync.RWMutex
	hubs map[string]*HubDescriptor
}

func newHubManager() *hubManager {
	return &hubManager{hubs: make(map[string]*HubDescriptor)}
}

// Register builds the descriptor table for the hub produced by factory and
// stores it under name.
func (m *hubManager) Register(name string, factory func() HubInterface) error {
	descriptor := &HubDescriptor{
		Name:    name,
		factory: factory,
		methods: make(map[string][]*MethodDescriptor),
	}
	hubType := reflect.TypeOf(factory())
	for i := 0; i < hubType.NumMethod(); i++ {
		method := hubType.Method(i)
		if _, skip := nonInvocableMethods[method.Name]; skip {
			continue
		}
		md := &MethodDescriptor{
			Name:          method.Name,
			methodName:    method.Name,
			progressIndex: -1,
		}
		methodType := method.Func.Type()
		for p := 1; p < methodType.NumIn(); p++ {
			paramType := methodType.In(p)
			if paramType == progressType {
				md.progressIndex = p - 1
				continue
			}
			md.paramTypes = append(md.paramTypes, paramType)
		}
		key := strings.ToLower(method.Name)
		descriptor.methods[key] = append(descriptor.methods[key], md)
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	key := strings.ToLower(name)
	if _, exists := m.hubs[key]; exists {
		return fmt.Errorf("hub %q already registered", name)
	}
	m.hubs[key] = descriptor
	return nil
}

// RegisterMethodAlias makes methodName of hubName additionally invocable
// under alias. Several methods may share an alias; calls are disambiguated
// by argument count and shape in registration order.
func (m *hubManager) RegisterMethodAlias(hubName, alias, methodName string) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	descriptor, ok := m.hubs[strings.ToLower(hubName)]
	if !ok {
		return fmt.Errorf("hub %q not registered", hubName)
	}
	descriptors := descriptor.methods[strings.ToLower(methodName)]
	if len(descriptors) == 0 {
		return fmt.Errorf("method %q not found on hub %q", methodName, hubName)
	}
	key := strings.ToLower(alias)
	descriptor.methods[key] = append(descriptor.methods[key], descriptors...)
	return nil
}

func (m *hubManager) Hub(name string) (*HubDescriptor, bool) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	d, ok := m.hubs[strings.ToLower(name)]
	return d, ok
}

func (m *hubManager) Hubs() []*HubDescriptor {
	m.mx.RLock()
	defer m.mx.RUnlock()
	hubs := make([]*HubDescriptor, 0, len(m.hubs))
	for _, d := range m.hubs {
		hubs = append(hubs, d)
	}
	return hubs
}
