package signalr

import "sync"

// StateBag is the per connection key/value store that hub methods can use to
// keep caller scoped state between invocations. Keys keep their insertion
// order. Values are stored untyped; the typed accessors resolve the declared
// type at read time. The bag lives as long as its connection id and is not
// carried over to a reconnect with a new connection id.
type StateBag struct {
	mx     sync.RWMutex
	order  []string
	values map[string]interface{}
}

func newStateBag() *StateBag {
	return &StateBag{values: make(map[string]interface{})}
}

func (b *StateBag) Set(key string, value interface{}) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if _, known := b.values[key]; !known {
		b.order = append(b.order, key)
	}
	b.values[key] = value
}

func (b *StateBag) Get(key string) (interface{}, bool) {
	b.mx.RLock()
	defer b.mx.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

func (b *StateBag) GetString(key string) (string, bool) {
	v, ok := b.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (b *StateBag) GetInt(key string) (int, bool) {
	v, ok := b.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		// deserialized JSON numbers arrive as float64
		return int(n), true
	}
	return 0, false
}

func (b *StateBag) GetBool(key string) (bool, bool) {
	v, ok := b.Get(key)
	if !ok {
		return false, false
	}
	t, ok := v.(bool)
	return t, ok
}

// Keys returns all keys in insertion order.
func (b *StateBag) Keys() []string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	keys := make([]string, len(b.order))
	copy(keys, b.order)
	return keys
}
