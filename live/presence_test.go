package live

import (
	"sort"
	"testing"
)

func TestPresenceEdges(t *testing.T) {
	p := NewPresence()
	if p.IsOnline("u1") {
		t.Fatalf("fresh registry: u1 online")
	}

	if first := p.Register("u1", "c1"); !first {
		t.Fatalf("first connection: want online edge")
	}
	if first := p.Register("u1", "c2"); first {
		t.Fatalf("second connection: got online edge")
	}
	if !p.IsOnline("u1") {
		t.Fatalf("u1 should be online")
	}

	if last := p.Unregister("u1", "c1"); last {
		t.Fatalf("one connection remains: got offline edge")
	}
	if !p.IsOnline("u1") {
		t.Fatalf("u1 should still be online")
	}
	if last := p.Unregister("u1", "c2"); !last {
		t.Fatalf("last connection gone: want offline edge")
	}
	if p.IsOnline("u1") {
		t.Fatalf("u1 should be offline")
	}
}

func TestPresenceUnregisterUnknown(t *testing.T) {
	p := NewPresence()
	if last := p.Unregister("ghost", "c1"); last {
		t.Fatalf("unknown identity: got offline edge")
	}
}

func TestPresenceListOnline(t *testing.T) {
	p := NewPresence()
	if got := p.ListOnline(); got != nil {
		t.Fatalf("ListOnline on empty registry: got %v", got)
	}
	p.Register("u1", "c1")
	p.Register("u2", "c2")
	p.Register("u2", "c3")
	got := p.ListOnline()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Fatalf("ListOnline: got %v", got)
	}
}
