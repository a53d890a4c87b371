package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/presence"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20
	wsSendQueueSize  = 64
)

// wsEnvelope is the wire shape of every message on the realtime channel:
// a named event plus a JSON payload.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsOutbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// wsClient adapts one gorilla connection to presence.Conn. Outbound events
// pass through a buffered queue drained by the write pump; when the queue is
// full the event is dropped rather than blocking the relay.
type wsClient struct {
	conn   *websocket.Conn
	send   chan wsOutbound
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newWSClient(conn *websocket.Conn, logger *zap.Logger) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan wsOutbound, wsSendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues an event for delivery. Never blocks; a full queue drops the
// event, which self-heals on the next event from the same source.
func (c *wsClient) Send(event string, data interface{}) {
	select {
	case c.send <- wsOutbound{Event: event, Data: data}:
	default:
		c.logger.Warn("send queue full, event dropped", zap.String("event", event))
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump decodes inbound envelopes and dispatches them to the relay. It
// owns the connection's lifecycle: when the channel closes for any reason
// the disconnect reconciler runs exactly once.
func (c *wsClient) readPump(relay *presence.Relay) {
	defer func() {
		relay.HandleDisconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		c.dispatch(relay, raw)
	}
}

// dispatch routes one inbound envelope. Malformed payloads are dropped: a
// decode failure cannot be reported back over a fire-and-forget channel, and
// must never tear down the connection.
func (c *wsClient) dispatch(relay *presence.Relay, raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Warn("malformed realtime message", zap.Error(err))
		return
	}

	switch envelope.Event {
	case presence.EventRegister:
		var userID string
		if err := json.Unmarshal(envelope.Data, &userID); err != nil {
			return
		}
		relay.HandleRegister(c, userID)
	case presence.EventJoinBoard:
		var boardID string
		if err := json.Unmarshal(envelope.Data, &boardID); err != nil {
			return
		}
		relay.HandleJoinBoard(c, boardID)
	case presence.EventDraw:
		var data map[string]interface{}
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return
		}
		relay.HandleDraw(c, data)
	case presence.EventCursorMove:
		var move presence.CursorMove
		if err := json.Unmarshal(envelope.Data, &move); err != nil {
			return
		}
		relay.HandleCursorMove(c, move)
	case presence.EventCursorLeave:
		var leave presence.CursorLeave
		if err := json.Unmarshal(envelope.Data, &leave); err != nil {
			return
		}
		relay.HandleCursorLeave(c, leave)
	default:
		c.logger.Debug("unknown realtime event", zap.String("event", envelope.Event))
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case outbound := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(outbound); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the request and runs the connection's pumps. The
// upgrade itself is unauthenticated: the relay accepts the caller-supplied
// identity as-is and leaves identity verification to the integrating
// deployment.
func (h *httpHandler) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(conn, h.logger)
	h.relay.Attach(client)
	h.logger.Info("client connected", zap.String("remoteAddr", conn.RemoteAddr().String()))

	go client.writePump()
	client.readPump(h.relay)
}
