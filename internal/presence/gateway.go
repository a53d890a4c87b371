package presence

import (
	"errors"
	"sync"
)

// ErrNotStarted indicates the presence gateway was used before the realtime
// transport wired a relay in. Callers should treat this as a programming
// error, not a transient condition.
var ErrNotStarted = errors.New("presence: relay not started")

// Gateway is the addressing surface the rest of the system holds: direct
// sends to one user, process-wide broadcasts, and synchronous cursor
// snapshots. Every method fails fast with ErrNotStarted until Start is
// called.
type Gateway struct {
	mu    sync.RWMutex
	relay *Relay
}

func NewGateway() *Gateway {
	return &Gateway{}
}

// Start wires the relay in and makes the gateway operational.
func (g *Gateway) Start(relay *Relay) {
	g.mu.Lock()
	g.relay = relay
	g.mu.Unlock()
}

func (g *Gateway) current() (*Relay, error) {
	g.mu.RLock()
	relay := g.relay
	g.mu.RUnlock()
	if relay == nil {
		return nil, ErrNotStarted
	}
	return relay, nil
}

// EmitToUser sends an event to the single connection registered for the
// identity. A user with no live connection is logged and dropped.
func (g *Gateway) EmitToUser(userID, event string, data interface{}) error {
	relay, err := g.current()
	if err != nil {
		return err
	}
	relay.emitToUser(userID, event, data)
	return nil
}

// Broadcast sends an event to every live connection regardless of room.
func (g *Gateway) Broadcast(event string, data interface{}) error {
	relay, err := g.current()
	if err != nil {
		return err
	}
	relay.broadcast(event, data)
	return nil
}

// CurrentCursors returns a snapshot of a board's cursors for catch-up reads.
func (g *Gateway) CurrentCursors(boardID string) (map[string]Cursor, error) {
	relay, err := g.current()
	if err != nil {
		return nil, err
	}
	return relay.currentCursors(boardID), nil
}
