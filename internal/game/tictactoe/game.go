// Package tictactoe implements the 3x3 board state machine played over
// the jeux protocol. A Game is safe for concurrent use.
package tictactoe

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role identifies a side of the game. RoleFirst plays X and moves first.
type Role uint8

const (
	RoleNone Role = iota
	RoleFirst
	RoleSecond
)

func (r Role) String() string {
	switch r {
	case RoleFirst:
		return "FIRST"
	case RoleSecond:
		return "SECOND"
	default:
		return "NONE"
	}
}

// Other returns the opposing role. Other(RoleNone) is RoleNone.
func (r Role) Other() Role {
	switch r {
	case RoleFirst:
		return RoleSecond
	case RoleSecond:
		return RoleFirst
	default:
		return RoleNone
	}
}

func (r Role) piece() byte {
	if r == RoleFirst {
		return 'X'
	}
	return 'O'
}

var (
	ErrInvalidMove = errors.New("invalid move text")
	ErrIllegalMove = errors.New("illegal move")
)

// Move is a parsed move: a piece and a cell in 1..9, numbered
// left-to-right, top-to-bottom.
type Move struct {
	Piece Role
	Cell  int
}

// String renders the move so that ParseMove recovers it.
func (m Move) String() string {
	return fmt.Sprintf("%d->%c", m.Cell, m.Piece.piece())
}

// Game holds the board, whose turn it is, and the outcome once over.
type Game struct {
	mu     sync.Mutex
	cells  [9]Role
	turn   Role
	over   bool
	winner Role
}

// New returns an empty board with RoleFirst to move.
func New() *Game {
	return &Game{turn: RoleFirst}
}

// ParseMove interprets text as a move made by role. The form is a cell
// digit 1..9, optionally followed by a separator and an X or O piece
// letter in either case. A bare digit means the mover's own piece.
// When role is not RoleNone the piece must agree with it.
func (g *Game) ParseMove(role Role, text string) (Move, error) {
	if len(text) == 0 {
		return Move{}, fmt.Errorf("%w: empty", ErrInvalidMove)
	}
	cell := int(text[0] - '0')
	if cell < 1 || cell > 9 {
		return Move{}, fmt.Errorf("%w: bad cell in %q", ErrInvalidMove, text)
	}

	piece := RoleNone
	for i := 1; i < len(text); i++ {
		switch text[i] {
		case 'x', 'X':
			piece = RoleFirst
		case 'o', 'O':
			piece = RoleSecond
		default:
			continue
		}
		break
	}
	if piece == RoleNone {
		if role == RoleNone {
			return Move{}, fmt.Errorf("%w: no piece in %q", ErrInvalidMove, text)
		}
		piece = role
	}
	if role != RoleNone && piece != role {
		return Move{}, fmt.Errorf("%w: %s cannot move %c", ErrInvalidMove, role, piece.piece())
	}
	return Move{Piece: piece, Cell: cell}, nil
}

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// ApplyMove places the move on the board, flips the turn and settles
// the outcome when a line completes or the board fills.
func (g *Game) ApplyMove(m Move) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.over:
		return fmt.Errorf("%w: game is over", ErrIllegalMove)
	case g.cells[m.Cell-1] != RoleNone:
		return fmt.Errorf("%w: cell %d occupied", ErrIllegalMove, m.Cell)
	case m.Piece != g.turn:
		return fmt.Errorf("%w: %s is to move", ErrIllegalMove, g.turn)
	}

	g.cells[m.Cell-1] = m.Piece
	g.turn = g.turn.Other()

	for _, ln := range lines {
		p := g.cells[ln[0]]
		if p != RoleNone && p == g.cells[ln[1]] && p == g.cells[ln[2]] {
			g.over = true
			g.winner = p
			return nil
		}
	}
	full := true
	for _, c := range g.cells {
		if c == RoleNone {
			full = false
			break
		}
	}
	if full {
		g.over = true
		g.winner = RoleNone
	}
	return nil
}

// Resign ends the game with the other role as winner. It is an error
// if the game has already terminated.
func (g *Game) Resign(role Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.over {
		return fmt.Errorf("%w: game is over", ErrIllegalMove)
	}
	g.over = true
	g.winner = role.Other()
	return nil
}

// Over reports whether the game has terminated.
func (g *Game) Over() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.over
}

// Winner returns the winning role, or RoleNone while the game runs or
// on a draw.
func (g *Game) Winner() Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner
}

// Turn returns the role whose move is expected.
func (g *Game) Turn() Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turn
}

// UnparseState renders the board as five lines: cell rows with pieces
// separated by '|' and a '-----' rule between them, 29 characters, no
// trailing newline.
func (g *Game) UnparseState() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.Grow(29)
	for row := 0; row < 3; row++ {
		if row > 0 {
			b.WriteString("\n-----\n")
		}
		for col := 0; col < 3; col++ {
			if col > 0 {
				b.WriteByte('|')
			}
			switch g.cells[row*3+col] {
			case RoleFirst:
				b.WriteByte('X')
			case RoleSecond:
				b.WriteByte('O')
			default:
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}
