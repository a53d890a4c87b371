package presence

import "testing"

func newTestRelay() (*Relay, *Registry, *RoomTable, *CursorTable) {
	registry := NewRegistry()
	rooms := NewRoomTable()
	cursors := NewCursorTable()
	relay := NewRelay(RelayConfig{Registry: registry, Rooms: rooms, Cursors: cursors})
	return relay, registry, rooms, cursors
}

func attach(relay *Relay, name string) *fakeConn {
	conn := newFakeConn(name)
	relay.Attach(conn)
	return conn
}

func TestRelayDrawReachesOtherRoomMembersOnly(t *testing.T) {
	relay, _, _, _ := newTestRelay()
	alice := attach(relay, "alice")
	bob := attach(relay, "bob")
	carol := attach(relay, "carol")

	relay.HandleJoinBoard(alice, "B1")
	relay.HandleJoinBoard(bob, "B1")
	relay.HandleJoinBoard(carol, "B2")

	relay.HandleDraw(alice, map[string]interface{}{
		"boardId": "B1",
		"shape":   "line",
		"points":  []interface{}{0.0, 0.0, 10.0, 10.0},
	})

	if got := alice.sent(); len(got) != 0 {
		t.Fatalf("expected no echo to the sender, got %d events", len(got))
	}
	if got := carol.sent(); len(got) != 0 {
		t.Fatalf("expected no delivery outside the room, got %d events", len(got))
	}

	got := bob.sent()
	if len(got) != 1 || got[0].event != EventDraw {
		t.Fatalf("expected one draw event for bob, got %+v", got)
	}
	stroke, ok := got[0].data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a stroke map, got %T", got[0].data)
	}
	if _, present := stroke["boardId"]; present {
		t.Fatal("expected boardId to be stripped from the relayed stroke")
	}
	if stroke["shape"] != "line" {
		t.Fatalf("expected the stroke payload to be forwarded verbatim, got %+v", stroke)
	}
}

func TestRelayDrawWithoutBoardIDIsDropped(t *testing.T) {
	relay, _, _, _ := newTestRelay()
	alice := attach(relay, "alice")
	bob := attach(relay, "bob")
	relay.HandleJoinBoard(alice, "B1")
	relay.HandleJoinBoard(bob, "B1")

	relay.HandleDraw(alice, map[string]interface{}{"shape": "line"})

	if got := bob.sent(); len(got) != 0 {
		t.Fatalf("expected no delivery for a draw without boardId, got %d events", len(got))
	}
}

func TestRelayCursorMoveThenLeaveLeavesNoEntry(t *testing.T) {
	relay, _, _, cursors := newTestRelay()
	alice := attach(relay, "alice")
	bob := attach(relay, "bob")
	relay.HandleJoinBoard(alice, "B1")
	relay.HandleJoinBoard(bob, "B1")

	relay.HandleCursorMove(alice, CursorMove{BoardID: "B1", UserID: "user-a", UserName: "Alice", X: 5, Y: 5})
	relay.HandleCursorLeave(alice, CursorLeave{BoardID: "B1", UserID: "user-a"})

	if snapshot := cursors.Snapshot("B1"); len(snapshot) != 0 {
		t.Fatalf("expected no cursor entries after leave, got %+v", snapshot)
	}

	got := bob.sent()
	if len(got) != 2 {
		t.Fatalf("expected cursor-update then cursor-remove, got %+v", got)
	}
	if got[0].event != EventCursorUpdate {
		t.Fatalf("expected cursor-update first, got %s", got[0].event)
	}
	update, ok := got[0].data.(cursorUpdatePayload)
	if !ok {
		t.Fatalf("unexpected cursor-update payload type %T", got[0].data)
	}
	if update.UserID != "user-a" || update.UserName != "Alice" || update.X != 5 || update.Y != 5 {
		t.Fatalf("unexpected cursor-update payload: %+v", update)
	}
	if got[1].event != EventCursorRemove {
		t.Fatalf("expected cursor-remove second, got %s", got[1].event)
	}
}

func TestRelayDisconnectReconcilesAllTables(t *testing.T) {
	relay, registry, rooms, cursors := newTestRelay()
	alice := attach(relay, "alice")
	bob := attach(relay, "bob")

	relay.HandleRegister(alice, "user-a")
	relay.HandleRegister(bob, "user-b")
	relay.HandleJoinBoard(alice, "B1")
	relay.HandleJoinBoard(bob, "B1")
	relay.HandleCursorMove(alice, CursorMove{BoardID: "B1", UserID: "user-a", UserName: "Alice", X: 5, Y: 5})

	relay.HandleDisconnect(alice)

	if _, ok := registry.Lookup("user-a"); ok {
		t.Fatal("expected user-a unregistered after disconnect")
	}
	members := rooms.Members("B1")
	if len(members) != 1 || members[0] != Conn(bob) {
		t.Fatalf("expected bob to be the only remaining member, got %d members", len(members))
	}
	if _, ok := cursors.Snapshot("B1")["user-a"]; ok {
		t.Fatal("expected user-a cursor entry removed on disconnect")
	}

	got := bob.sent()
	last := got[len(got)-1]
	if last.event != EventCursorRemove {
		t.Fatalf("expected bob to receive cursor-remove, got %s", last.event)
	}
	remove, ok := last.data.(cursorRemovePayload)
	if !ok || remove.UserID != "user-a" {
		t.Fatalf("unexpected cursor-remove payload: %+v", last.data)
	}
}

func TestRelayDisconnectOfUnregisteredConnection(t *testing.T) {
	relay, _, _, _ := newTestRelay()
	ghost := attach(relay, "ghost")

	// Never registered, never joined. Must reconcile silently.
	relay.HandleDisconnect(ghost)
	relay.HandleDisconnect(ghost)

	if got := ghost.sent(); len(got) != 0 {
		t.Fatalf("expected no events for a silent disconnect, got %d", len(got))
	}
}

func TestRelayDisconnectOfLastMemberDropsCursorState(t *testing.T) {
	relay, _, rooms, cursors := newTestRelay()
	alice := attach(relay, "alice")

	relay.HandleRegister(alice, "user-a")
	relay.HandleJoinBoard(alice, "B1")
	relay.HandleCursorMove(alice, CursorMove{BoardID: "B1", UserID: "user-a", UserName: "Alice", X: 1, Y: 1})

	relay.HandleDisconnect(alice)

	if members := rooms.Members("B1"); members != nil {
		t.Fatalf("expected empty room after last member disconnect, got %d members", len(members))
	}
	if snapshot := cursors.Snapshot("B1"); len(snapshot) != 0 {
		t.Fatalf("expected cursor state dropped with the room, got %+v", snapshot)
	}
	// Board presence is implicit: a later upsert without a join must not
	// resurrect state for the emptied board.
	cursors.Upsert("B1", "user-a", Cursor{UserName: "Alice"})
	if snapshot := cursors.Snapshot("B1"); len(snapshot) != 0 {
		t.Fatal("expected emptied board to stay untracked")
	}
}

func TestRelayDisconnectDoesNotTouchNewerRegistration(t *testing.T) {
	relay, registry, _, _ := newTestRelay()
	oldConn := attach(relay, "old")
	newConn := attach(relay, "new")

	relay.HandleRegister(oldConn, "user-a")
	relay.HandleRegister(newConn, "user-a")
	relay.HandleDisconnect(oldConn)

	conn, ok := registry.Lookup("user-a")
	if !ok || conn != Conn(newConn) {
		t.Fatal("expected the newer registration to survive the old connection's disconnect")
	}
}
