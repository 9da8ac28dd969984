package gameserver

import (
	"fmt"
	"sync"

	"github.com/jeux-go/jeux/internal/game/tictactoe"
)

// InvitationState is the lifecycle of an invitation.
type InvitationState int

const (
	StateOpen InvitationState = iota
	StateAccepted
	StateClosed
)

func (s InvitationState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateAccepted:
		return "ACCEPTED"
	default:
		return "CLOSED"
	}
}

// Invitation binds two clients to a prospective game. Endpoints and
// roles are fixed at creation; only state and the game pointer change,
// guarded by the invitation's own lock. Transitions never touch client
// invitation lists, the Client operations compose the two.
type Invitation struct {
	source     *Client
	target     *Client
	sourceRole tictactoe.Role
	targetRole tictactoe.Role

	mu    sync.Mutex
	state InvitationState
	game  *tictactoe.Game
}

// NewInvitation creates an OPEN invitation. The target plays
// targetRole, the source the opposing role.
func NewInvitation(source, target *Client, targetRole tictactoe.Role) *Invitation {
	return &Invitation{
		source:     source,
		target:     target,
		sourceRole: targetRole.Other(),
		targetRole: targetRole,
		state:      StateOpen,
	}
}

func (inv *Invitation) Source() *Client { return inv.source }
func (inv *Invitation) Target() *Client { return inv.target }

// Other returns the opposite endpoint of c.
func (inv *Invitation) Other(c *Client) *Client {
	if c == inv.source {
		return inv.target
	}
	return inv.source
}

// RoleOf returns the role c plays in this invitation.
func (inv *Invitation) RoleOf(c *Client) tictactoe.Role {
	if c == inv.source {
		return inv.sourceRole
	}
	return inv.targetRole
}

func (inv *Invitation) State() InvitationState {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// Game returns the game created on accept, or nil while OPEN.
func (inv *Invitation) Game() *tictactoe.Game {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.game
}

// Accept moves OPEN to ACCEPTED and creates the game.
func (inv *Invitation) Accept() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.state != StateOpen {
		return fmt.Errorf("%w: accept in %s", ErrBadState, inv.state)
	}
	inv.state = StateAccepted
	inv.game = tictactoe.New()
	return nil
}

// Close moves the invitation to CLOSED. From OPEN any role closes it.
// From ACCEPTED: if the game is already over no resignation is needed
// and role may be RoleNone; otherwise role names the resigning player
// and the game is resigned on their behalf.
func (inv *Invitation) Close(role tictactoe.Role) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	switch inv.state {
	case StateOpen:
		inv.state = StateClosed
		return nil
	case StateAccepted:
		if inv.game.Over() {
			inv.state = StateClosed
			return nil
		}
		if role == tictactoe.RoleNone {
			return fmt.Errorf("%w: live game needs a resigning role", ErrBadState)
		}
		if err := inv.game.Resign(role); err != nil {
			return err
		}
		inv.state = StateClosed
		return nil
	default:
		return fmt.Errorf("%w: close in %s", ErrBadState, inv.state)
	}
}
