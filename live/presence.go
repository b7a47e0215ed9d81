package live

import (
	"sync"
)

// Presence tracks which identities currently own live connections. An
// identity is online iff it owns at least one connection; the online/offline
// transitions are edge-triggered so the hub broadcasts each exactly once.
// State is process-local and lost on restart.
type Presence struct {
	mu    sync.Mutex
	conns map[string]set // user_id -> conn IDs
}

func NewPresence() *Presence {
	return &Presence{
		conns: make(map[string]set),
	}
}

// Register adds the connection to the identity's set. Returns true iff this
// is the identity's first live connection (the "online" edge).
func (p *Presence) Register(userID, connID string) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.conns[userID]
	if conns == nil {
		conns = make(set)
		p.conns[userID] = conns
	}
	first = len(conns) == 0
	conns[connID] = struct{}{}
	return first
}

// Unregister removes the connection. Returns true iff this was the identity's
// last live connection (the "offline" edge); the identity's entry is deleted.
func (p *Presence) Unregister(userID, connID string) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.conns[userID]
	if conns == nil {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(p.conns, userID)
		return true
	}
	return false
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns[userID]) > 0
}

func (p *Presence) ListOnline() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	userIDs := make([]string, 0, len(p.conns))
	for userID := range p.conns {
		userIDs = append(userIDs, userID)
	}
	return userIDs
}
