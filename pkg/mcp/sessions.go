package mcp

import (
	"sync"
	"time"
)

// SessionRegistry remembers which MCP session each agent last called from, so
// run completions can be pushed back to it.
type SessionRegistry struct {
	mu      sync.RWMutex
	byAgent map[string]agentSession
}

type agentSession struct {
	sessionID string
	lastSeen  time.Time
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byAgent: make(map[string]agentSession)}
}

// Register binds agentID to sessionID. A reconnecting agent moves to its new
// session.
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	r.byAgent[agentID] = agentSession{sessionID: sessionID, lastSeen: time.Now()}
	r.mu.Unlock()
}

// SessionFor returns the agent's current session.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	as, ok := r.byAgent[agentID]
	return as.sessionID, ok
}

// Remove forgets every agent bound to sessionID and reports how many there were.
func (r *SessionRegistry) Remove(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for agentID, as := range r.byAgent {
		if as.sessionID == sessionID {
			delete(r.byAgent, agentID)
			n++
		}
	}
	return n
}

// Prune drops bindings not refreshed since cutoff.
func (r *SessionRegistry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for agentID, as := range r.byAgent {
		if as.lastSeen.Before(cutoff) {
			delete(r.byAgent, agentID)
			n++
		}
	}
	return n
}

// Len returns the number of bound agents.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAgent)
}
