package signalr

import (
	"net/http"
	"time"
)

// longPollingTransport serves the half duplex polling transport. Every
// physical request either completes immediately when messages are queued or
// suspends until a message arrives, the poll timeout elapses or the client
// goes away. The client then re-issues the next poll.
type longPollingTransport struct{}

func (t *longPollingTransport) Name() string { return TransportLongPolling }

func (t *longPollingTransport) SupportsKeepAlive() bool { return false }

func (t *longPollingTransport) ProcessRequest(pc *PersistentConnection, conn *Connection, w http.ResponseWriter, r *http.Request) error {
	// Only requests arriving on the dedicated reconnect path may fire the
	// Reconnected callback. The first request on the bare connect path is an
	// initial connect, not a resumption.
	suppressReconnect := !isReconnectPath(r)

	if isConnectPath(r) {
		if conn.transitionConnected() {
			if err := pc.handler.OnConnected(r, conn.ConnectionID()); err != nil {
				return err
			}
		}
		response := persistentResponse{
			Cursor:       formatCursor(conn.store.cursor()),
			Messages:     []interface{}{},
			Initializing: 1,
		}
		if pc.server.longPollDelay > 0 {
			response.LongPollDelay = pc.server.longPollDelay.Seconds()
		}
		t.attachGroupsToken(pc, conn, &response)
		return writeJSONResponse(w, r, pc.server.serializer, response)
	}

	if !suppressReconnect {
		conn.beginReconnect()
		if conn.completeReconnect() {
			if err := pc.handler.OnReconnected(r, conn.ConnectionID()); err != nil {
				return err
			}
		}
	}

	lastID := parseCursor(requestValue(r, "messageId"))
	timer := time.NewTimer(pc.server.connectionTimeout)
	defer timer.Stop()
	for {
		// Take the wait channel before reading, so a message added between
		// the read and the select still wakes this poll.
		waitCh := conn.store.wait()
		messages, cursor := conn.store.After(lastID)
		if len(messages) > 0 {
			return t.writeMessages(pc, conn, w, r, messages, cursor, false)
		}
		select {
		case <-waitCh:
		case <-timer.C:
			return t.writeMessages(pc, conn, w, r, nil, cursor, true)
		case <-r.Context().Done():
			// client went away, the next poll or the heartbeat picks it up
			return nil
		case <-conn.Aborted():
			response := persistentResponse{
				Cursor:     formatCursor(conn.store.cursor()),
				Messages:   []interface{}{},
				Disconnect: 1,
			}
			return writeJSONResponse(w, r, pc.server.serializer, response)
		}
	}
}

func (t *longPollingTransport) writeMessages(pc *PersistentConnection, conn *Connection, w http.ResponseWriter, r *http.Request,
	messages []storedMessage, cursor uint64, timedOut bool) error {
	response := persistentResponse{
		Cursor:   formatCursor(cursor),
		Messages: make([]interface{}, 0, len(messages)),
	}
	for _, m := range messages {
		response.Messages = append(response.Messages, m.Payload)
	}
	if timedOut {
		response.TimedOut = 1
	}
	t.attachGroupsToken(pc, conn, &response)
	return writeJSONResponse(w, r, pc.server.serializer, response)
}

func (t *longPollingTransport) attachGroupsToken(pc *PersistentConnection, conn *Connection, response *persistentResponse) {
	if !conn.takeGroupsChanged() {
		return
	}
	token, err := pc.server.groups.GroupsToken(conn)
	if err != nil {
		_ = pc.info.Log(evt, "protect groups token", "error", err, react, "omit groups token")
		return
	}
	response.GroupsToken = token
}
