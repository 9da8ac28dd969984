package gameserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/jeux-go/jeux/internal/game/tictactoe"
	"github.com/jeux-go/jeux/internal/model"
	"github.com/jeux-go/jeux/internal/protocol"
)

// Session runs the per-connection read/dispatch loop. Every request is
// answered with exactly one ACK or NACK; peer notifications are sent
// from within the client operations.
type Session struct {
	client  *Client
	clients *ClientRegistry
	players *model.PlayerRegistry
	log     *slog.Logger
}

func NewSession(client *Client, clients *ClientRegistry, players *model.PlayerRegistry, log *slog.Logger) *Session {
	return &Session{
		client:  client,
		clients: clients,
		players: players,
		log:     log.With("client", client.seq),
	}
}

// Run reads packets until EOF or a transport error, then logs the
// client out, unregisters it and closes the connection.
func (s *Session) Run() {
	defer func() {
		if s.client.Player() != nil {
			if err := s.client.Logout(); err != nil {
				s.log.Warn("logout on disconnect failed", "error", err)
			}
		}
		s.clients.Unregister(s.client)
		s.client.conn.Close()
		s.log.Info("session closed")
	}()

	for {
		hdr, payload, err := protocol.Recv(s.client.conn, protocol.DefaultMaxPayload)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("peer closed connection")
			} else {
				s.log.Warn("receive failed", "error", err)
			}
			return
		}
		if err := s.dispatch(hdr, payload); err != nil {
			s.log.Warn("reply failed", "type", hdr.Type.String(), "error", err)
			return
		}
	}
}

// dispatch handles one request and answers it. The returned error is a
// transport failure on the reply; state errors turn into a NACK here.
func (s *Session) dispatch(hdr protocol.Header, payload []byte) error {
	ackID := hdr.ID
	var ackPayload []byte

	var err error
	switch hdr.Type {
	case protocol.TypeLogin:
		err = s.handleLogin(string(payload))
	case protocol.TypeUsers:
		ackPayload, err = s.handleUsers()
	case protocol.TypeInvite:
		ackID, err = s.handleInvite(string(payload), hdr.Role)
	case protocol.TypeRevoke:
		err = s.require(func() error { return s.client.RevokeInvitation(hdr.ID) })
	case protocol.TypeDecline:
		err = s.require(func() error { return s.client.DeclineInvitation(hdr.ID) })
	case protocol.TypeAccept:
		err = s.require(func() error {
			var aerr error
			ackPayload, aerr = s.client.AcceptInvitation(hdr.ID)
			return aerr
		})
	case protocol.TypeMove:
		err = s.require(func() error { return s.client.MakeMove(hdr.ID, string(payload)) })
	case protocol.TypeResign:
		err = s.require(func() error { return s.client.ResignGame(hdr.ID) })
	default:
		err = fmt.Errorf("%w: unexpected type %s", ErrProtocol, hdr.Type)
	}

	if err != nil {
		s.log.Debug("request rejected", "type", hdr.Type.String(), "error", err)
		return s.client.SendNack()
	}
	return s.client.SendAck(ackID, ackPayload)
}

// require gates an operation on the session being logged in.
func (s *Session) require(op func() error) error {
	if s.client.Player() == nil {
		return fmt.Errorf("%w: not logged in", ErrBadState)
	}
	return op()
}

func (s *Session) handleLogin(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty username", ErrProtocol)
	}
	if s.client.Player() != nil {
		return fmt.Errorf("%w: already logged in", ErrDuplicate)
	}
	player := s.players.Register(name)
	if err := s.clients.Login(s.client, player); err != nil {
		return err
	}
	s.log.Info("logged in", "player", name)
	return nil
}

// handleUsers renders the roster as one "name<TAB>rating" line per
// logged-in player.
func (s *Session) handleUsers() ([]byte, error) {
	if s.client.Player() == nil {
		return nil, fmt.Errorf("%w: not logged in", ErrBadState)
	}
	players := s.clients.SnapshotPlayers()
	sort.Slice(players, func(i, j int) bool { return players[i].Name() < players[j].Name() })

	var b strings.Builder
	for _, p := range players {
		fmt.Fprintf(&b, "%s\t%d\n", p.Name(), p.Rating())
	}
	return []byte(b.String()), nil
}

func (s *Session) handleInvite(name string, role uint8) (uint8, error) {
	if s.client.Player() == nil {
		return 0, fmt.Errorf("%w: not logged in", ErrBadState)
	}
	var targetRole tictactoe.Role
	switch role {
	case protocol.RoleFirst:
		targetRole = tictactoe.RoleFirst
	case protocol.RoleSecond:
		targetRole = tictactoe.RoleSecond
	default:
		return 0, fmt.Errorf("%w: invite role %d", ErrProtocol, role)
	}
	target, err := s.clients.Lookup(name)
	if err != nil {
		return 0, err
	}
	id, err := s.client.MakeInvitation(target, targetRole)
	if err != nil {
		return 0, err
	}
	s.log.Info("invitation made", "target", name, "target_role", targetRole.String(), "id", id)
	return id, nil
}
