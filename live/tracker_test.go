package live

import (
	"sort"
	"testing"
)

func TestRoomTrackerJoinLeave(t *testing.T) {
	rt := NewRoomTracker()
	if !rt.JoinRoom("c1", "group:g1") {
		t.Fatalf("fresh join: want true")
	}
	if rt.JoinRoom("c1", "group:g1") {
		t.Fatalf("repeat join: want false")
	}
	rt.JoinRoom("c2", "group:g1")
	rt.JoinRoom("c1", "post:p1")

	if !rt.IsJoined("c1", "group:g1") {
		t.Fatalf("c1 should be in group:g1")
	}
	conns := rt.ConnsForRoom("group:g1", nil)
	sort.Strings(conns)
	if len(conns) != 2 || conns[0] != "c1" || conns[1] != "c2" {
		t.Fatalf("ConnsForRoom: got %v", conns)
	}

	rt.LeaveRoom("c1", "group:g1")
	if rt.IsJoined("c1", "group:g1") {
		t.Fatalf("c1 left group:g1 but is still joined")
	}
	if !rt.IsJoined("c1", "post:p1") {
		t.Fatalf("leaving one room evicted another")
	}
	if !rt.IsJoined("c2", "group:g1") {
		t.Fatalf("leaving evicted another connection")
	}
}

func TestRoomTrackerConnsForRoomFilter(t *testing.T) {
	rt := NewRoomTracker()
	rt.JoinRoom("c1", "post:p1")
	rt.JoinRoom("c2", "post:p1")
	conns := rt.ConnsForRoom("post:p1", func(connID string) bool {
		return connID != "c1"
	})
	if len(conns) != 1 || conns[0] != "c2" {
		t.Fatalf("filtered ConnsForRoom: got %v", conns)
	}
	if got := rt.ConnsForRoom("post:nope", nil); got != nil {
		t.Fatalf("unknown room: got %v", got)
	}
}

func TestRoomTrackerRemoveConn(t *testing.T) {
	rt := NewRoomTracker()
	rt.JoinRoom("c1", "group:g1")
	rt.JoinRoom("c1", "post:p1")
	rt.JoinRoom("c2", "group:g1")

	left := rt.RemoveConn("c1")
	sort.Strings(left)
	if len(left) != 2 || left[0] != "group:g1" || left[1] != "post:p1" {
		t.Fatalf("RemoveConn: got %v", left)
	}
	if rt.RoomsForConn("c1") != nil {
		t.Fatalf("c1 still tracked after RemoveConn")
	}
	if !rt.IsJoined("c2", "group:g1") {
		t.Fatalf("RemoveConn evicted another connection")
	}
	if got := rt.RemoveConn("c1"); got != nil {
		t.Fatalf("RemoveConn twice: got %v", got)
	}
}
