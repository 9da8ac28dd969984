package gameserver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeux-go/jeux/internal/game/tictactoe"
	"github.com/jeux-go/jeux/internal/model"
	"github.com/jeux-go/jeux/internal/protocol"
)

// invEntry is one client's view of an invitation. Local IDs are
// assigned monotonically per client and never reused; source and
// target IDs for the same invitation are independent.
type invEntry struct {
	id  uint8
	inv *Invitation
}

// Client is the server-side state of one connection: an optional
// logged-in player and an ordered list of invitation entries. One
// mutex guards the login field, the list, and every write to the
// socket, so packets never interleave.
//
// Operations that span two clients lock both, ordered by the creation
// sequence number, and re-check the local entry once the locks are
// held.
type Client struct {
	conn Conn
	seq  uint64
	log  *slog.Logger

	writeTimeout time.Duration

	mu          sync.Mutex
	player      *model.Player
	invitations []invEntry
	nextInvID   uint8
}

func newClient(conn Conn, seq uint64, writeTimeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		conn:         conn,
		seq:          seq,
		log:          log.With("client", seq),
		writeTimeout: writeTimeout,
	}
}

// Player returns the logged-in player, or nil.
func (c *Client) Player() *model.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// Name returns the logged-in username, or "".
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player == nil {
		return ""
	}
	return c.player.Name()
}

// Login binds the player to this client. Fails if already logged in.
func (c *Client) Login(p *model.Player) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player != nil {
		return fmt.Errorf("%w: already logged in as %s", ErrDuplicate, c.player.Name())
	}
	c.player = p
	return nil
}

// Logout winds down every invitation this client holds and releases
// the player. Games in progress are resigned, open invitations are
// revoked when this client is the source and declined otherwise.
func (c *Client) Logout() error {
	c.mu.Lock()
	if c.player == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: not logged in", ErrBadState)
	}
	entries := make([]invEntry, len(c.invitations))
	copy(entries, c.invitations)
	c.mu.Unlock()

	for _, e := range entries {
		var err error
		switch {
		case e.inv.State() == StateAccepted:
			err = c.ResignGame(e.id)
		case e.inv.Source() == c:
			err = c.RevokeInvitation(e.id)
		default:
			err = c.DeclineInvitation(e.id)
		}
		if errors.Is(err, ErrBadState) {
			// Accepted between the snapshot and the operation.
			err = c.ResignGame(e.id)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.log.Warn("logout cleanup failed", "invitation", e.id, "error", err)
		}
	}

	c.mu.Lock()
	c.player = nil
	c.mu.Unlock()
	return nil
}

// MakeInvitation creates an OPEN invitation to target, adds it to both
// lists and notifies the target. Returns the source's local ID.
func (c *Client) MakeInvitation(target *Client, targetRole tictactoe.Role) (uint8, error) {
	if target == c {
		return 0, fmt.Errorf("%w: cannot invite self", ErrBadState)
	}
	inv := NewInvitation(c, target, targetRole)

	lockPair(c, target)
	defer unlockPair(c, target)

	if c.player == nil {
		return 0, fmt.Errorf("%w: not logged in", ErrBadState)
	}
	if target.player == nil {
		return 0, fmt.Errorf("%w: target logged out", ErrNotFound)
	}

	srcID := c.addInvitationLocked(inv)
	tgtID := target.addInvitationLocked(inv)

	target.notifyLocked(protocol.TypeInvited, tgtID, uint8(targetRole), []byte(c.player.Name()))
	return srcID, nil
}

// RevokeInvitation withdraws an OPEN invitation this client made.
func (c *Client) RevokeInvitation(id uint8) error {
	inv, err := c.lookupInvitation(id)
	if err != nil {
		return err
	}
	if inv.Source() != c {
		return fmt.Errorf("%w: not the inviter", ErrBadState)
	}
	peer := inv.Other(c)

	lockPair(c, peer)
	defer unlockPair(c, peer)

	if !c.hasEntryLocked(id) {
		return fmt.Errorf("%w: invitation %d", ErrNotFound, id)
	}
	if inv.State() != StateOpen {
		return fmt.Errorf("%w: revoke in %s", ErrBadState, inv.State())
	}
	if err := inv.Close(tictactoe.RoleNone); err != nil {
		return err
	}
	c.removeInvitationLocked(inv)
	peerID, ok := peer.removeInvitationLocked(inv)
	if ok {
		peer.notifyLocked(protocol.TypeRevoked, peerID, 0, nil)
	}
	return nil
}

// DeclineInvitation refuses an OPEN invitation made to this client.
func (c *Client) DeclineInvitation(id uint8) error {
	inv, err := c.lookupInvitation(id)
	if err != nil {
		return err
	}
	if inv.Target() != c {
		return fmt.Errorf("%w: not the invitee", ErrBadState)
	}
	peer := inv.Other(c)

	lockPair(c, peer)
	defer unlockPair(c, peer)

	if !c.hasEntryLocked(id) {
		return fmt.Errorf("%w: invitation %d", ErrNotFound, id)
	}
	if inv.State() != StateOpen {
		return fmt.Errorf("%w: decline in %s", ErrBadState, inv.State())
	}
	if err := inv.Close(tictactoe.RoleNone); err != nil {
		return err
	}
	c.removeInvitationLocked(inv)
	peerID, ok := peer.removeInvitationLocked(inv)
	if ok {
		peer.notifyLocked(protocol.TypeDeclined, peerID, 0, nil)
	}
	return nil
}

// AcceptInvitation accepts an OPEN invitation made to this client,
// creating the game. The source is notified; whichever party plays
// FIRST gets the initial board, so either the ACCEPTED payload carries
// it or it is returned here for inclusion in the accepter's ACK.
func (c *Client) AcceptInvitation(id uint8) ([]byte, error) {
	inv, err := c.lookupInvitation(id)
	if err != nil {
		return nil, err
	}
	if inv.Target() != c {
		return nil, fmt.Errorf("%w: not the invitee", ErrBadState)
	}
	peer := inv.Other(c)

	lockPair(c, peer)
	defer unlockPair(c, peer)

	if !c.hasEntryLocked(id) {
		return nil, fmt.Errorf("%w: invitation %d", ErrNotFound, id)
	}
	if err := inv.Accept(); err != nil {
		return nil, err
	}

	board := []byte(inv.Game().UnparseState())
	peerID, ok := peer.entryIDLocked(inv)
	if ok {
		if inv.RoleOf(peer) == tictactoe.RoleFirst {
			peer.notifyLocked(protocol.TypeAccepted, peerID, 0, board)
			return nil, nil
		}
		peer.notifyLocked(protocol.TypeAccepted, peerID, 0, nil)
	}
	return board, nil
}

// MakeMove parses and applies a move in the game behind invitation id.
// The opponent receives MOVED with the new board; when the move ends
// the game, ratings are posted and both parties receive ENDED.
func (c *Client) MakeMove(id uint8, text string) error {
	inv, err := c.lookupInvitation(id)
	if err != nil {
		return err
	}
	peer := inv.Other(c)

	lockPair(c, peer)
	defer unlockPair(c, peer)

	if !c.hasEntryLocked(id) {
		return fmt.Errorf("%w: invitation %d", ErrNotFound, id)
	}
	if inv.State() != StateAccepted {
		return fmt.Errorf("%w: move in %s", ErrBadState, inv.State())
	}
	g := inv.Game()

	move, err := g.ParseMove(inv.RoleOf(c), text)
	if err != nil {
		return err
	}
	if err := g.ApplyMove(move); err != nil {
		return err
	}

	payload := "\n" + g.UnparseState()
	if !g.Over() {
		if g.Turn() == tictactoe.RoleFirst {
			payload += "\nX to move\n"
		} else {
			payload += "\nO to move\n"
		}
	}
	if peerID, ok := peer.entryIDLocked(inv); ok {
		peer.notifyLocked(protocol.TypeMoved, peerID, 0, []byte(payload))
	}

	if g.Over() {
		c.finishGameLocked(inv, peer, g.Winner())
	}
	return nil
}

// ResignGame resigns the game behind invitation id on this client's
// behalf. The opponent wins; ratings are posted and both parties
// receive RESIGNED/ENDED notifications.
func (c *Client) ResignGame(id uint8) error {
	inv, err := c.lookupInvitation(id)
	if err != nil {
		return err
	}
	peer := inv.Other(c)

	lockPair(c, peer)
	defer unlockPair(c, peer)

	if !c.hasEntryLocked(id) {
		return fmt.Errorf("%w: invitation %d", ErrNotFound, id)
	}
	if inv.State() != StateAccepted {
		return fmt.Errorf("%w: resign in %s", ErrBadState, inv.State())
	}
	role := inv.RoleOf(c)
	if err := inv.Close(role); err != nil {
		return err
	}

	if peerID, ok := peer.entryIDLocked(inv); ok {
		peer.notifyLocked(protocol.TypeResigned, peerID, 0, nil)
	}
	c.finishGameLocked(inv, peer, role.Other())
	return nil
}

// finishGameLocked settles a finished game: posts the result to both
// ratings, removes the invitation from both lists and sends ENDED to
// both parties. Both client locks must be held.
func (c *Client) finishGameLocked(inv *Invitation, peer *Client, winner tictactoe.Role) {
	src, tgt := inv.Source().player, inv.Target().player
	if src != nil && tgt != nil {
		var outcome model.Outcome
		switch winner {
		case inv.RoleOf(inv.Source()):
			outcome = model.OutcomeP1Wins
		case inv.RoleOf(inv.Target()):
			outcome = model.OutcomeP2Wins
		default:
			outcome = model.OutcomeDraw
		}
		model.PostResult(src, tgt, outcome)
	}

	myID, myOK := c.removeInvitationLocked(inv)
	peerID, peerOK := peer.removeInvitationLocked(inv)

	if myOK {
		c.notifyLocked(protocol.TypeEnded, myID, uint8(winner), nil)
	}
	if peerOK {
		peer.notifyLocked(protocol.TypeEnded, peerID, uint8(winner), nil)
	}
}

// lookupInvitation resolves a local ID under a brief self-lock. The
// caller must re-check the entry after taking the pair lock, as the
// peer may close it in between. IDs are never reused, so a re-check by
// ID cannot alias a different invitation.
func (c *Client) lookupInvitation(id uint8) (*Invitation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.invitations {
		if e.id == id {
			return e.inv, nil
		}
	}
	return nil, fmt.Errorf("%w: invitation %d", ErrNotFound, id)
}

func (c *Client) hasEntryLocked(id uint8) bool {
	for _, e := range c.invitations {
		if e.id == id {
			return true
		}
	}
	return false
}

func (c *Client) entryIDLocked(inv *Invitation) (uint8, bool) {
	for _, e := range c.invitations {
		if e.inv == inv {
			return e.id, true
		}
	}
	return 0, false
}

func (c *Client) addInvitationLocked(inv *Invitation) uint8 {
	id := c.nextInvID
	c.nextInvID++
	c.invitations = append(c.invitations, invEntry{id: id, inv: inv})
	return id
}

func (c *Client) removeInvitationLocked(inv *Invitation) (uint8, bool) {
	for i, e := range c.invitations {
		if e.inv == inv {
			c.invitations = append(c.invitations[:i], c.invitations[i+1:]...)
			return e.id, true
		}
	}
	return 0, false
}

// lockPair acquires both client locks in creation order, the stable
// total order that keeps invitation operations deadlock-free.
func lockPair(a, b *Client) {
	if a.seq < b.seq {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *Client) {
	a.mu.Unlock()
	b.mu.Unlock()
}

// Send writes one packet, serialized by the client lock.
func (c *Client) Send(typ protocol.Type, id, role uint8, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(typ, id, role, payload)
}

// SendAck acknowledges the current request.
func (c *Client) SendAck(id uint8, payload []byte) error {
	return c.Send(protocol.TypeAck, id, 0, payload)
}

// SendNack rejects the current request.
func (c *Client) SendNack() error {
	return c.Send(protocol.TypeNack, 0, 0, nil)
}

func (c *Client) sendLocked(typ protocol.Type, id, role uint8, payload []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	hdr := protocol.Header{Type: typ, ID: id, Role: role}
	if err := protocol.Send(c.conn, &hdr, payload); err != nil {
		return fmt.Errorf("sending %s: %w", typ, err)
	}
	return nil
}

// notifyLocked sends a peer notification. Failures are logged and do
// not roll back the state change that triggered them.
func (c *Client) notifyLocked(typ protocol.Type, id, role uint8, payload []byte) {
	if err := c.sendLocked(typ, id, role, payload); err != nil {
		c.log.Warn("notification failed", "type", typ.String(), "error", err)
	}
}
