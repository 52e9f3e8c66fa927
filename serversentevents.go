package signalr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/teivah/onecontext"
)

// serverSentEventsTransport pushes messages over a single long lived
// response stream. Unlike long polling there is no suspend/resume cycle:
// the handling routine holds the response open and writes as messages arrive.
type serverSentEventsTransport struct{}

func (t *serverSentEventsTransport) Name() string { return TransportServerSentEvents }

func (t *serverSentEventsTransport) SupportsKeepAlive() bool { return true }

func (t *serverSentEventsTransport) ProcessRequest(pc *PersistentConnection, conn *Connection, w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return errors.New("server sent events not supported: http.Flusher not implemented")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "data: initialized\n\n"); err != nil {
		return err
	}
	flusher.Flush()

	if isReconnectPath(r) {
		conn.beginReconnect()
		if conn.completeReconnect() {
			if err := pc.handler.OnReconnected(r, conn.ConnectionID()); err != nil {
				return err
			}
		}
	} else if conn.transitionConnected() {
		if err := pc.handler.OnConnected(r, conn.ConnectionID()); err != nil {
			return err
		}
	}

	ctx, cancel := onecontext.Merge(pc.server.ctx, r.Context())
	defer cancel()
	keepAlive := newKeepAliveTicker(pc.server.keepAliveInterval)
	defer keepAlive.Stop()

	lastID := parseCursor(requestValue(r, "messageId"))
	for {
		waitCh := conn.store.wait()
		messages, cursor := conn.store.After(lastID)
		if len(messages) > 0 {
			if err := t.writeMessages(pc, conn, w, flusher, messages, cursor); err != nil {
				return err
			}
			lastID = cursor
			pc.server.heartbeat.MarkConnection(conn.ConnectionID())
			continue
		}
		select {
		case <-waitCh:
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, "data: {}\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			pc.server.heartbeat.MarkConnection(conn.ConnectionID())
		case <-ctx.Done():
			return nil
		case <-conn.Aborted():
			return nil
		}
	}
}

func (t *serverSentEventsTransport) writeMessages(pc *PersistentConnection, conn *Connection,
	w http.ResponseWriter, flusher http.Flusher, messages []storedMessage, cursor uint64) error {
	response := persistentResponse{
		Cursor:   formatCursor(cursor),
		Messages: make([]interface{}, 0, len(messages)),
	}
	for _, m := range messages {
		response.Messages = append(response.Messages, m.Payload)
	}
	if conn.takeGroupsChanged() {
		if token, err := pc.server.groups.GroupsToken(conn); err == nil {
			response.GroupsToken = token
		} else {
			_ = pc.info.Log(evt, "protect groups token", "error", err, react, "omit groups token")
		}
	}
	data, err := pc.server.serializer.Marshal(response)
	if err != nil {
		return err
	}
	// multi-line payloads need a data: prefix per line
	payload := strings.Builder{}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		payload.WriteString("data: ")
		payload.WriteString(line)
		payload.WriteString("\n")
	}
	payload.WriteString("\n")
	if _, err := w.Write([]byte(payload.String())); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// newKeepAliveTicker returns a ticker that never fires when keep-alives are
// disabled.
func newKeepAliveTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(interval)
}
