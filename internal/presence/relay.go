package presence

import (
	"sync"

	"go.uber.org/zap"
)

// Named events carried over the realtime channel.
const (
	EventRegister     = "register"
	EventJoinBoard    = "join-board"
	EventDraw         = "draw"
	EventCursorMove   = "cursor-move"
	EventCursorLeave  = "cursor-leave"
	EventCursorUpdate = "cursor-update"
	EventCursorRemove = "cursor-remove"
	EventNotification = "notification"
)

const boardIDField = "boardId"

// CursorMove is the inbound cursor-move payload.
type CursorMove struct {
	BoardID  string  `json:"boardId"`
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// CursorLeave is the inbound cursor-leave payload.
type CursorLeave struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
}

type cursorUpdatePayload struct {
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type cursorRemovePayload struct {
	UserID string `json:"userId"`
}

// RelayConfig describes the shared tables the relay mutates. Tables are
// injected so tests can run against fresh state.
type RelayConfig struct {
	Registry *Registry
	Rooms    *RoomTable
	Cursors  *CursorTable
	Logger   *zap.Logger
}

// Relay owns the protocol handlers for the presence channel: it mutates the
// three shared tables in response to inbound events and fans outbound events
// out to the correct room members. Handlers tolerate malformed payloads by
// dropping the event; a throw could not reach the sender anyway on a
// fire-and-forget transport.
type Relay struct {
	registry *Registry
	rooms    *RoomTable
	cursors  *CursorTable
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[Conn]struct{}
}

func NewRelay(cfg RelayConfig) *Relay {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	rooms := cfg.Rooms
	if rooms == nil {
		rooms = NewRoomTable()
	}
	cursors := cfg.Cursors
	if cursors == nil {
		cursors = NewCursorTable()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		registry: registry,
		rooms:    rooms,
		cursors:  cursors,
		logger:   logger,
		conns:    make(map[Conn]struct{}),
	}
}

// Attach records a newly accepted connection so it participates in
// system-wide broadcasts. The transport calls this once per channel.
func (r *Relay) Attach(conn Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

// HandleRegister binds the caller-supplied identity to the connection.
func (r *Relay) HandleRegister(conn Conn, userID string) {
	if userID == "" {
		return
	}
	r.registry.Register(userID, conn)
	r.logger.Info("user registered", zap.String("userId", userID))
}

// HandleJoinBoard adds the connection to the board's room and starts
// tracking cursor state for the board.
func (r *Relay) HandleJoinBoard(conn Conn, boardID string) {
	if boardID == "" {
		return
	}
	r.rooms.Join(boardID, conn)
	r.cursors.Track(boardID)
	r.logger.Info("connection joined board", zap.String("boardId", boardID))
}

// HandleDraw relays a stroke to the other members of the board named in the
// payload. The stroke itself is opaque and forwarded verbatim with the
// routing field stripped; nothing is persisted on this path.
func (r *Relay) HandleDraw(conn Conn, data map[string]interface{}) {
	boardID, _ := data[boardIDField].(string)
	if boardID == "" {
		return
	}
	stroke := make(map[string]interface{}, len(data)-1)
	for key, value := range data {
		if key == boardIDField {
			continue
		}
		stroke[key] = value
	}
	r.relayToBoard(boardID, conn, EventDraw, stroke)
}

// HandleCursorMove records the cursor position and fans a cursor-update out
// to the other room members.
func (r *Relay) HandleCursorMove(conn Conn, move CursorMove) {
	if move.BoardID == "" {
		return
	}
	r.cursors.Upsert(move.BoardID, move.UserID, Cursor{
		UserName: move.UserName,
		X:        move.X,
		Y:        move.Y,
	})
	r.relayToBoard(move.BoardID, conn, EventCursorUpdate, cursorUpdatePayload{
		UserID:   move.UserID,
		UserName: move.UserName,
		X:        move.X,
		Y:        move.Y,
	})
}

// HandleCursorLeave drops the cursor entry and notifies the other members.
func (r *Relay) HandleCursorLeave(conn Conn, leave CursorLeave) {
	if leave.BoardID == "" {
		return
	}
	r.cursors.Remove(leave.BoardID, leave.UserID)
	r.relayToBoard(leave.BoardID, conn, EventCursorRemove, cursorRemovePayload{UserID: leave.UserID})
	r.logger.Info("cursor left board",
		zap.String("boardId", leave.BoardID),
		zap.String("userId", leave.UserID))
}

// HandleDisconnect unwinds every table the connection appears in. It is safe
// for connections that never registered or joined a board, and calling it a
// second time for the same connection is a no-op.
func (r *Relay) HandleDisconnect(conn Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()

	userID, registered := r.registry.UnregisterConn(conn)
	if registered {
		r.logger.Info("user disconnected", zap.String("userId", userID))
	}

	for _, boardID := range r.rooms.Boards(conn) {
		emptied := r.rooms.Leave(conn, boardID)
		if registered {
			r.cursors.Remove(boardID, userID)
			for _, member := range r.rooms.Members(boardID) {
				member.Send(EventCursorRemove, cursorRemovePayload{UserID: userID})
			}
		}
		if emptied {
			r.cursors.Drop(boardID)
			r.logger.Info("board emptied, presence state dropped", zap.String("boardId", boardID))
		}
	}
}

func (r *Relay) relayToBoard(boardID string, sender Conn, event string, data interface{}) {
	for _, member := range r.rooms.Members(boardID) {
		if member == sender {
			continue
		}
		member.Send(event, data)
	}
}

func (r *Relay) emitToUser(userID, event string, data interface{}) {
	conn, ok := r.registry.Lookup(userID)
	if !ok {
		r.logger.Warn("no live connection for user", zap.String("userId", userID))
		return
	}
	conn.Send(event, data)
}

func (r *Relay) broadcast(event string, data interface{}) {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()
	for _, conn := range conns {
		conn.Send(event, data)
	}
}

func (r *Relay) currentCursors(boardID string) map[string]Cursor {
	return r.cursors.Snapshot(boardID)
}
