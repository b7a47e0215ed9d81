package live

import (
	"sync"
)

type set map[string]struct{}

// RoomTracker tracks which connections have joined which rooms. This matters
// for correctness, not just routing: only connections joined to a room may
// receive broadcasts addressed to it, so a connection that leaves a group
// must stop receiving that group's messages even while other members remain.
type RoomTracker struct {
	// map of room key to joined conn IDs.
	roomToConns map[string]set
	connToRooms map[string]set
	mu          *sync.RWMutex
}

func NewRoomTracker() *RoomTracker {
	return &RoomTracker{
		roomToConns: make(map[string]set),
		connToRooms: make(map[string]set),
		mu:          &sync.RWMutex{},
	}
}

// JoinRoom marks the connection as joined to the room. Returns true if the
// connection was not already joined.
func (t *RoomTracker) JoinRoom(connID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.roomToConns[roomID]
	if conns == nil {
		conns = make(set)
		t.roomToConns[roomID] = conns
	}
	_, wasJoined := conns[connID]
	conns[connID] = struct{}{}

	rooms := t.connToRooms[connID]
	if rooms == nil {
		rooms = make(set)
		t.connToRooms[connID] = rooms
	}
	rooms[roomID] = struct{}{}
	return !wasJoined
}

// LeaveRoom removes the connection from the room.
func (t *RoomTracker) LeaveRoom(connID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(connID, roomID)
}

// RemoveConn removes the connection from every room it joined, returning the
// rooms it left. Called on disconnect.
func (t *RoomTracker) RemoveConn(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms := t.connToRooms[connID]
	if len(rooms) == 0 {
		delete(t.connToRooms, connID)
		return nil
	}
	left := make([]string, 0, len(rooms))
	for roomID := range rooms {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		t.removeLocked(connID, roomID)
	}
	return left
}

func (t *RoomTracker) removeLocked(connID, roomID string) {
	conns := t.roomToConns[roomID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.roomToConns, roomID)
	}
	rooms := t.connToRooms[connID]
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(t.connToRooms, connID)
	}
}

// ConnsForRoom returns the conn IDs joined to the room, filtered by the
// filter function if provided. If one is not provided, all are returned.
func (t *RoomTracker) ConnsForRoom(roomID string, filter func(connID string) bool) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := t.roomToConns[roomID]
	if len(conns) == 0 {
		return nil
	}
	if filter == nil {
		filter = func(connID string) bool { return true }
	}
	var matched []string
	for connID := range conns {
		if filter(connID) {
			matched = append(matched, connID)
		}
	}
	return matched
}

// RoomsForConn returns the rooms the connection has joined.
func (t *RoomTracker) RoomsForConn(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms := t.connToRooms[connID]
	if len(rooms) == 0 {
		return nil
	}
	result := make([]string, 0, len(rooms))
	for roomID := range rooms {
		result = append(result, roomID)
	}
	return result
}

// IsJoined reports whether the connection is currently in the room.
func (t *RoomTracker) IsJoined(connID, roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.roomToConns[roomID][connID]
	return ok
}
