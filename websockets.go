package signalr

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/teivah/onecontext"
)

// webSocketTransport serves the full duplex socket transport. A single
// physical connection stays open; received frames feed the receive handler
// while queued messages are pushed from a separate writer.
type webSocketTransport struct{}

func (t *webSocketTransport) Name() string { return TransportWebSockets }

func (t *webSocketTransport) SupportsKeepAlive() bool { return true }

func (t *webSocketTransport) ProcessRequest(pc *PersistentConnection, conn *Connection, w http.ResponseWriter, r *http.Request) error {
	accOptions := &websocket.AcceptOptions{
		CompressionMode:    websocket.CompressionContextTakeover,
		InsecureSkipVerify: pc.server.insecureSkipVerify,
		OriginPatterns:     pc.server.originPatterns,
	}
	wsConn, err := websocket.Accept(w, r, accOptions)
	if err != nil {
		// websocket.Accept has already written the error response
		_ = pc.dbg.Log(evt, "websocket accept", "error", err)
		return nil
	}
	wsConn.SetReadLimit(int64(pc.server.maximumReceiveMessageSize))

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
	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	go t.writeLoop(writerCtx, pc, conn, wsConn, parseCursor(requestValue(r, "messageId")))

	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			// physical connection closed, the heartbeat decides about the
			// logical one
			return nil
		}
		pc.server.heartbeat.MarkConnection(conn.ConnectionID())
		if err := pc.handler.OnReceived(r, conn.ConnectionID(), data); err != nil {
			_ = pc.info.Log(evt, "received over websocket", "error", err, react, "continue")
		}
	}
}

func (t *webSocketTransport) writeLoop(ctx context.Context, pc *PersistentConnection, conn *Connection, wsConn *websocket.Conn, lastID uint64) {
	keepAlive := newKeepAliveTicker(pc.server.keepAliveInterval)
	defer keepAlive.Stop()
	for {
		waitCh := conn.store.wait()
		messages, cursor := conn.store.After(lastID)
		if len(messages) > 0 {
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
				}
			}
			data, err := pc.server.serializer.Marshal(response)
			if err != nil {
				_ = pc.info.Log(evt, "marshal websocket response", "error", err, react, "drop batch")
			} else if err := wsConn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
			lastID = cursor
			continue
		}
		select {
		case <-waitCh:
		case <-keepAlive.C:
			if err := wsConn.Write(ctx, websocket.MessageText, []byte("{}")); err != nil {
				return
			}
			// a read-only client never triggers the read loop's mark
			pc.server.heartbeat.MarkConnection(conn.ConnectionID())
		case <-ctx.Done():
			return
		case <-conn.Aborted():
			_ = wsConn.Close(websocket.StatusNormalClosure, "connection disconnected")
			return
		}
	}
}
