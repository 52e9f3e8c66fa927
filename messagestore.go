package signalr

import (
	"strconv"
	"sync"
)

type storedMessage struct {
	ID      uint64
	Payload interface{}
}

// messageStore holds the outgoing messages of one connection. Ids are
// strictly increasing and gapless, so a client that reconnects with its last
// seen id gets exactly the messages it missed, as long as they are still
// inside the replay window.
type messageStore struct {
	mx       sync.Mutex
	buf      []storedMessage
	capacity int
	lastID   uint64
	signal   chan struct{}
}

func newMessageStore(capacity int) *messageStore {
	return &messageStore{
		capacity: capacity,
		signal:   make(chan struct{}),
	}
}

// Add appends payload, assigns it the next id and wakes all waiters.
func (s *messageStore) Add(payload interface{}) uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.lastID++
	s.buf = append(s.buf, storedMessage{ID: s.lastID, Payload: payload})
	if len(s.buf) > s.capacity {
		s.buf = s.buf[len(s.buf)-s.capacity:]
	}
	close(s.signal)
	s.signal = make(chan struct{})
	return s.lastID
}

// After returns all retained messages with an id greater than id,
// and the current cursor.
func (s *messageStore) After(id uint64) ([]storedMessage, uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	var result []storedMessage
	for _, m := range s.buf {
		if m.ID > id {
			result = append(result, m)
		}
	}
	return result, s.lastID
}

// wait returns a channel that is closed when the next message is added.
func (s *messageStore) wait() <-chan struct{} {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.signal
}

func (s *messageStore) cursor() uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.lastID
}

func formatCursor(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// parseCursor reads a client declared message id. Unparsable values resume
// from the beginning of the replay window.
func parseCursor(s string) uint64 {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
