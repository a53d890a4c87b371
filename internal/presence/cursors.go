package presence

import "sync"

// Cursor is the last reported pointer position and display name for one user
// on one board. Cursor state is ephemeral: it is never persisted and is fully
// reconstructable from the live event stream.
type Cursor struct {
	UserName string  `json:"userName"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// CursorTable holds per-board cursor positions keyed by user identity.
// Boards are tracked when a connection joins them; upserts for untracked
// boards are dropped so cursor state can only exist for boards with live
// membership.
type CursorTable struct {
	mu      sync.RWMutex
	byBoard map[string]map[string]Cursor
}

func NewCursorTable() *CursorTable {
	return &CursorTable{byBoard: make(map[string]map[string]Cursor)}
}

// Track ensures the board has a cursor map. Called on room join.
func (t *CursorTable) Track(boardID string) {
	if boardID == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.byBoard[boardID]; !ok {
		t.byBoard[boardID] = make(map[string]Cursor)
	}
	t.mu.Unlock()
}

// Upsert replaces the user's cursor entry on a tracked board. Last write
// wins; no cross-user ordering is enforced.
func (t *CursorTable) Upsert(boardID, userID string, cursor Cursor) {
	t.mu.Lock()
	if cursors, ok := t.byBoard[boardID]; ok && userID != "" {
		cursors[userID] = cursor
	}
	t.mu.Unlock()
}

// Remove deletes the user's entry if present.
func (t *CursorTable) Remove(boardID, userID string) {
	t.mu.Lock()
	if cursors, ok := t.byBoard[boardID]; ok {
		delete(cursors, userID)
	}
	t.mu.Unlock()
}

// Snapshot returns a copy of the board's cursors for catch-up reads.
func (t *CursorTable) Snapshot(boardID string) map[string]Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := make(map[string]Cursor, len(t.byBoard[boardID]))
	for userID, cursor := range t.byBoard[boardID] {
		snapshot[userID] = cursor
	}
	return snapshot
}

// Drop discards all cursor state for a board. Called when its room empties.
func (t *CursorTable) Drop(boardID string) {
	t.mu.Lock()
	delete(t.byBoard, boardID)
	t.mu.Unlock()
}
