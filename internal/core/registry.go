package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the active agents keyed by entry id. It is created by the
// application and passed to whatever dispatches requests.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Set activates agent for entryID, replacing any agent already set.
func (r *Registry) Set(entryID string, agent Agent) error {
	if entryID == "" {
		return errors.New("entry id required")
	}
	if agent == nil {
		return fmt.Errorf("entry %s: nil agent", entryID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[entryID] = agent
	return nil
}

// Unset removes the agent for entryID and reports whether one was set.
func (r *Registry) Unset(entryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[entryID]
	delete(r.agents, entryID)
	return ok
}

func (r *Registry) Get(entryID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[entryID]
	return a, ok
}

// Entries returns the active entry ids, sorted.
func (r *Registry) Entries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for k := range r.agents {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
