package presence

import "sync"

// RoomTable tracks which connections are viewing which board. A board's
// presence entry exists only while at least one connection is a member: it is
// created on first join and discarded when the last member leaves. A reverse
// index (connection to boards) keeps disconnect cleanup proportional to the
// number of boards the connection joined rather than all live boards.
type RoomTable struct {
	mu      sync.Mutex
	members map[string]map[Conn]struct{}
	boards  map[Conn]map[string]struct{}
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		members: make(map[string]map[Conn]struct{}),
		boards:  make(map[Conn]map[string]struct{}),
	}
}

// Join adds the connection to the board's member set. Joining twice is a
// no-op.
func (t *RoomTable) Join(boardID string, conn Conn) {
	if boardID == "" || conn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.members[boardID]; !ok {
		t.members[boardID] = make(map[Conn]struct{})
	}
	t.members[boardID][conn] = struct{}{}
	if _, ok := t.boards[conn]; !ok {
		t.boards[conn] = make(map[string]struct{})
	}
	t.boards[conn][boardID] = struct{}{}
}

// Leave removes the connection from the board's member set and reports
// whether the board emptied as a result. An empty board's entry is deleted
// here; this is the sole garbage collection point for room state.
func (t *RoomTable) Leave(conn Conn, boardID string) (emptied bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.members[boardID]
	if !ok {
		return false
	}
	if _, member := set[conn]; !member {
		return false
	}
	delete(set, conn)
	if joined, ok := t.boards[conn]; ok {
		delete(joined, boardID)
		if len(joined) == 0 {
			delete(t.boards, conn)
		}
	}
	if len(set) == 0 {
		delete(t.members, boardID)
		return true
	}
	return false
}

// Members returns a copy of the board's member set.
func (t *RoomTable) Members(boardID string) []Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.members[boardID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Boards returns every board the connection is currently a member of.
func (t *RoomTable) Boards(conn Conn) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	joined := t.boards[conn]
	if len(joined) == 0 {
		return nil
	}
	boardIDs := make([]string, 0, len(joined))
	for boardID := range joined {
		boardIDs = append(boardIDs, boardID)
	}
	return boardIDs
}
