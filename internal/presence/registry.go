package presence

import "sync"

// Conn is one live bidirectional channel to a client. Sends are
// fire-and-forget: implementations must never block the caller.
type Conn interface {
	Send(event string, data interface{})
}

// Registry maps an application-supplied user identity to its live connection.
// Identities are opaque strings chosen by the connecting client; the relay
// layer performs no verification (that trust decision belongs to the
// integrating deployment, see the auth middleware on the HTTP side).
type Registry struct {
	mu     sync.Mutex
	byUser map[string]Conn
	byConn map[Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[Conn]string),
	}
}

// Register maps the identity to the connection, silently replacing any prior
// mapping. A duplicate registration is expected (reconnect, second tab); the
// replaced connection is neither closed nor notified.
func (r *Registry) Register(userID string, conn Conn) {
	if userID == "" || conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.byConn[conn]; ok && previous != userID && r.byUser[previous] == conn {
		delete(r.byUser, previous)
	}
	r.byUser[userID] = conn
	r.byConn[conn] = userID
}

// Lookup returns the live connection for the identity, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.Lock()
	conn, ok := r.byUser[userID]
	r.mu.Unlock()
	return conn, ok
}

// UnregisterConn removes the entry whose value is the given connection and
// returns the identity it was registered under. When the identity has since
// been re-registered with a newer connection the mapping is left untouched,
// so a belated disconnect of the old connection cannot evict the new one.
func (r *Registry) UnregisterConn(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	if r.byUser[userID] != conn {
		return "", false
	}
	delete(r.byUser, userID)
	return userID, true
}
