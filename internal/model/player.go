// Package model holds the rated player identity shared by every
// connection a user makes during the life of the process.
package model

import (
	"math"
	"sync"
)

// InitialRating is the rating assigned to a player on first login.
const InitialRating = 1500

// eloK is the K-factor applied to every rating update.
const eloK = 32

// Player is a named, rated identity. The same Player is reused when a
// user logs in again, so the rating survives reconnects.
type Player struct {
	name string

	mu     sync.Mutex
	rating int
}

// NewPlayer returns a player with the initial rating.
func NewPlayer(name string) *Player {
	return &Player{name: name, rating: InitialRating}
}

// Name returns the player's username. Immutable after creation.
func (p *Player) Name() string {
	return p.name
}

// Rating returns the current Elo rating.
func (p *Player) Rating() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rating
}

// Outcome is a game result from p1's point of view.
type Outcome int

const (
	OutcomeDraw Outcome = iota
	OutcomeP1Wins
	OutcomeP2Wins
)

// PostResult applies one game result to both ratings atomically. Both
// player locks are held for the update, acquired in name order so
// concurrent posts for overlapping pairs cannot deadlock.
func PostResult(p1, p2 *Player, outcome Outcome) {
	first, second := p1, p2
	if second.name < first.name {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	var s1 float64
	switch outcome {
	case OutcomeP1Wins:
		s1 = 1
	case OutcomeP2Wins:
		s1 = 0
	default:
		s1 = 0.5
	}

	r1, r2 := float64(p1.rating), float64(p2.rating)
	e1 := 1 / (1 + math.Pow(10, (r2-r1)/400))
	e2 := 1 / (1 + math.Pow(10, (r1-r2)/400))

	p1.rating = int(math.Round(r1 + eloK*(s1-e1)))
	p2.rating = int(math.Round(r2 + eloK*((1-s1)-e2)))
}
