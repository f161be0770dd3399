package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxFrameBytes = 1 << 20
	sendBuffer    = 64

	writeWait    = 10 * time.Second
	pongWait     = 45 * time.Second
	pingInterval = 15 * time.Second
)

// wsConn is one client connection. Each request is dispatched on its own
// goroutine so the read loop keeps seeing control frames and disconnects
// while an agent turn runs; all writes funnel through the send channel so
// streaming events and responses keep their order per request. Closing the
// connection cancels ctx, which aborts any in-flight agent turn.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	id     string
	authed atomic.Bool
}

func newWSConn(server *Server, conn *websocket.Conn, parent context.Context, authed bool) *wsConn {
	ctx, cancel := context.WithCancel(parent)
	c := &wsConn{
		server: server,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
	}
	c.authed.Store(authed)
	return c
}

func (c *wsConn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

// close cancels ctx first so dispatch goroutines blocked on reply or on
// the agent unwind before the socket goes away. The send channel is never
// closed; writers select against ctx instead.
func (c *wsConn) close() {
	c.cancel()
	_ = c.conn.Close()
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			// Binary frames are not part of the protocol.
			c.writeControl(websocket.CloseUnsupportedData, "text frames only")
			return
		}

		req, rpcErr := parseRequest(data)
		if rpcErr != nil {
			c.reply(errorResponse(nil, rpcErr))
			continue
		}
		go c.handle(req)
	}
}

// writeLoop cancels ctx on exit so a dead socket also tears down in-flight
// turns even when the read side has not noticed yet.
func (c *wsConn) writeLoop() {
	defer c.cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues one frame for writing. Dropped silently once the connection
// is closing.
func (c *wsConn) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.server.logger.Error(c.ctx, "frame marshal failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

// notify pushes a server event frame: method "event" with the event type
// inside params, so clients demultiplex on params.type.
func (c *wsConn) notify(eventType string, params map[string]any) {
	if params == nil {
		params = map[string]any{}
	}
	params["type"] = eventType
	c.reply(notification("event", params))
}

func (c *wsConn) writeControl(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// handle authenticates and dispatches one request. health answers without
// a token so clients can check liveness before presenting credentials.
func (c *wsConn) handle(req *Request) {
	if req.Method != "health" && !c.authed.Load() {
		if !c.server.auth.Check(tokenFromParams(req.Params)) {
			c.reply(errorResponse(req.ID, NewError(CodeUnauthorized, "unauthorized")))
			return
		}
		c.authed.Store(true)
	}

	resp := c.server.dispatch(c, req)
	if resp != nil {
		c.reply(resp)
	}
}

// tokenFromParams pulls an optional token field out of any method params.
func tokenFromParams(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var t struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(params, &t); err != nil {
		return ""
	}
	return t.Token
}
