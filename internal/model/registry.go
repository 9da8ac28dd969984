package model

import (
	"log/slog"
	"sort"
	"sync"
)

// PlayerRegistry maps usernames to their Player. Entries are created on
// first login and live for the rest of the process.
type PlayerRegistry struct {
	mu      sync.Mutex
	players map[string]*Player
}

// NewPlayerRegistry returns an empty registry.
func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{players: make(map[string]*Player)}
}

// Register returns the player named name, creating it with the initial
// rating if this is the first login under that name.
func (r *PlayerRegistry) Register(name string) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[name]; ok {
		return p
	}
	p := NewPlayer(name)
	r.players[name] = p
	return p
}

// Len returns the number of registered players.
func (r *PlayerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Finalize logs the final rating of every registered player. Called
// once at shutdown, after all sessions have drained.
func (r *PlayerRegistry) Finalize(log *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.players))
	for name := range r.players {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Info("final rating", "player", name, "rating", r.players[name].Rating())
	}
}
