package gameserver

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeux-go/jeux/internal/model"
	"github.com/jeux-go/jeux/internal/protocol"
)

type testServer struct {
	addr    string
	cancel  context.CancelFunc
	done    chan struct{}
	clients *ClientRegistry
	players *model.PlayerRegistry
}

func startServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	players := model.NewPlayerRegistry()
	clients := NewClientRegistry(capacity, 2*time.Second, slog.Default())
	srv := NewServer(clients, players, slog.Default())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx, ln); err != nil {
			t.Error("serve:", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return &testServer{
		addr:    ln.Addr().String(),
		cancel:  cancel,
		done:    done,
		clients: clients,
		players: players,
	}
}

// tclient drives the wire protocol the way a real client binary would.
type tclient struct {
	t    *testing.T
	conn net.Conn
}

func dialClient(t *testing.T, addr string) *tclient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &tclient{t: t, conn: conn}
}

func (c *tclient) send(typ protocol.Type, id, role uint8, payload string) {
	c.t.Helper()
	hdr := protocol.Header{Type: typ, ID: id, Role: role}
	require.NoError(c.t, protocol.Send(c.conn, &hdr, []byte(payload)))
}

func (c *tclient) recv() (protocol.Header, []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	hdr, payload, err := protocol.Recv(c.conn, 0)
	require.NoError(c.t, err)
	return hdr, payload
}

func (c *tclient) expect(typ protocol.Type) (protocol.Header, []byte) {
	c.t.Helper()
	hdr, payload := c.recv()
	require.Equal(c.t, typ, hdr.Type, "payload %q", payload)
	return hdr, payload
}

func (c *tclient) login(name string) {
	c.t.Helper()
	c.send(protocol.TypeLogin, 0, 0, name)
	c.expect(protocol.TypeAck)
}

func (c *tclient) expectEOF() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := protocol.Recv(c.conn, 0)
	require.ErrorIs(c.t, err, io.EOF)
}

func TestLoginUniqueness(t *testing.T) {
	srv := startServer(t, 8)

	c1 := dialClient(t, srv.addr)
	c1.login("alice")

	c2 := dialClient(t, srv.addr)
	c2.send(protocol.TypeLogin, 0, 0, "alice")
	c2.expect(protocol.TypeNack)

	c2.send(protocol.TypeLogin, 0, 0, "bob")
	c2.expect(protocol.TypeAck)

	c1.send(protocol.TypeLogin, 0, 0, "carol")
	c1.expect(protocol.TypeNack)
}

func TestRequestsBeforeLoginRejected(t *testing.T) {
	srv := startServer(t, 8)
	c := dialClient(t, srv.addr)

	c.send(protocol.TypeUsers, 0, 0, "")
	c.expect(protocol.TypeNack)
	c.send(protocol.TypeMove, 0, 0, "5X")
	c.expect(protocol.TypeNack)
}

func TestUnknownTypeRejected(t *testing.T) {
	srv := startServer(t, 8)
	c := dialClient(t, srv.addr)
	c.login("alice")

	c.send(protocol.Type(0xEE), 0, 0, "")
	c.expect(protocol.TypeNack)
}

func TestInviteBadRoleRejected(t *testing.T) {
	srv := startServer(t, 8)
	a := dialClient(t, srv.addr)
	a.login("alice")
	b := dialClient(t, srv.addr)
	b.login("bob")

	a.send(protocol.TypeInvite, 0, 0, "bob")
	a.expect(protocol.TypeNack)
	a.send(protocol.TypeInvite, 0, 3, "bob")
	a.expect(protocol.TypeNack)
}

func TestInviteUnknownUser(t *testing.T) {
	srv := startServer(t, 8)
	a := dialClient(t, srv.addr)
	a.login("alice")

	a.send(protocol.TypeInvite, 0, protocol.RoleFirst, "nobody")
	a.expect(protocol.TypeNack)
}

func TestInviteAcceptMoveWin(t *testing.T) {
	srv := startServer(t, 8)
	alice := dialClient(t, srv.addr)
	alice.login("alice")
	bob := dialClient(t, srv.addr)
	bob.login("bob")

	// alice invites bob to play FIRST.
	alice.send(protocol.TypeInvite, 0, protocol.RoleFirst, "bob")
	ack, _ := alice.expect(protocol.TypeAck)
	assert.Equal(t, uint8(0), ack.ID, "alice's local id")

	invited, payload := bob.expect(protocol.TypeInvited)
	assert.Equal(t, uint8(0), invited.ID)
	assert.Equal(t, protocol.RoleFirst, invited.Role)
	assert.Equal(t, "alice", string(payload))

	// bob accepts and, playing FIRST, gets the board in his ACK.
	bob.send(protocol.TypeAccept, invited.ID, 0, "")
	_, board := bob.expect(protocol.TypeAck)
	assert.Equal(t, " | | \n-----\n | | \n-----\n | | ", string(board))

	accepted, payload := alice.expect(protocol.TypeAccepted)
	assert.Equal(t, uint8(0), accepted.ID)
	assert.Empty(t, payload, "alice plays SECOND")

	// bob opens with the center.
	bob.send(protocol.TypeMove, 0, 0, "5X")
	bob.expect(protocol.TypeAck)
	_, payload = alice.expect(protocol.TypeMoved)
	assert.Equal(t, "\n | | \n-----\n |X| \n-----\n | | \nO to move\n", string(payload))

	alice.send(protocol.TypeMove, 0, 0, "1O")
	alice.expect(protocol.TypeAck)
	bob.expect(protocol.TypeMoved)

	bob.send(protocol.TypeMove, 0, 0, "4X")
	bob.expect(protocol.TypeAck)
	alice.expect(protocol.TypeMoved)

	alice.send(protocol.TypeMove, 0, 0, "2O")
	alice.expect(protocol.TypeAck)
	bob.expect(protocol.TypeMoved)

	// bob completes the middle row.
	bob.send(protocol.TypeMove, 0, 0, "6X")
	ended, _ := bob.expect(protocol.TypeEnded)
	assert.Equal(t, protocol.RoleFirst, ended.Role)
	bob.expect(protocol.TypeAck)

	_, payload = alice.expect(protocol.TypeMoved)
	assert.NotContains(t, string(payload), "to move")
	ended, _ = alice.expect(protocol.TypeEnded)
	assert.Equal(t, protocol.RoleFirst, ended.Role)

	// Ratings reflect the result.
	alice.send(protocol.TypeUsers, 0, 0, "")
	_, roster := alice.expect(protocol.TypeAck)
	assert.Equal(t, "alice\t1484\nbob\t1516\n", string(roster))
}

func TestRevokeScenario(t *testing.T) {
	srv := startServer(t, 8)
	alice := dialClient(t, srv.addr)
	alice.login("alice")
	bob := dialClient(t, srv.addr)
	bob.login("bob")

	alice.send(protocol.TypeInvite, 0, protocol.RoleFirst, "bob")
	ack, _ := alice.expect(protocol.TypeAck)
	require.Equal(t, uint8(0), ack.ID)
	invited, _ := bob.expect(protocol.TypeInvited)

	alice.send(protocol.TypeRevoke, 0, 0, "")
	alice.expect(protocol.TypeAck)

	revoked, _ := bob.expect(protocol.TypeRevoked)
	assert.Equal(t, invited.ID, revoked.ID)

	alice.send(protocol.TypeRevoke, 0, 0, "")
	alice.expect(protocol.TypeNack)
}

func TestDeclineScenario(t *testing.T) {
	srv := startServer(t, 8)
	alice := dialClient(t, srv.addr)
	alice.login("alice")
	bob := dialClient(t, srv.addr)
	bob.login("bob")

	alice.send(protocol.TypeInvite, 0, protocol.RoleFirst, "bob")
	alice.expect(protocol.TypeAck)
	invited, _ := bob.expect(protocol.TypeInvited)

	bob.send(protocol.TypeDecline, invited.ID, 0, "")
	bob.expect(protocol.TypeAck)

	declined, _ := alice.expect(protocol.TypeDeclined)
	assert.Equal(t, uint8(0), declined.ID)

	bob.send(protocol.TypeAccept, invited.ID, 0, "")
	bob.expect(protocol.TypeNack)
}

func TestResignScenario(t *testing.T) {
	srv := startServer(t, 8)
	alice := dialClient(t, srv.addr)
	alice.login("alice")
	bob := dialClient(t, srv.addr)
	bob.login("bob")

	alice.send(protocol.TypeInvite, 0, protocol.RoleFirst, "bob")
	alice.expect(protocol.TypeAck)
	invited, _ := bob.expect(protocol.TypeInvited)
	bob.send(protocol.TypeAccept, invited.ID, 0, "")
	bob.expect(protocol.TypeAck)
	alice.expect(protocol.TypeAccepted)

	bob.send(protocol.TypeMove, 0, 0, "5X")
	bob.expect(protocol.TypeAck)
	alice.expect(protocol.TypeMoved)

	alice.send(protocol.TypeResign, 0, 0, "")
	ended, _ := alice.expect(protocol.TypeEnded)
	assert.Equal(t, protocol.RoleFirst, ended.Role, "bob wins by resignation")
	alice.expect(protocol.TypeAck)

	bob.expect(protocol.TypeResigned)
	ended, _ = bob.expect(protocol.TypeEnded)
	assert.Equal(t, protocol.RoleFirst, ended.Role)

	bob.send(protocol.TypeUsers, 0, 0, "")
	_, roster := bob.expect(protocol.TypeAck)
	assert.Equal(t, "alice\t1484\nbob\t1516\n", string(roster))
}

func TestCapacityRejectsConnection(t *testing.T) {
	srv := startServer(t, 1)

	c1 := dialClient(t, srv.addr)
	c1.login("alice")

	c2 := dialClient(t, srv.addr)
	require.NoError(t, c2.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := protocol.Recv(c2.conn, 0)
	assert.Error(t, err, "over-capacity connection is closed immediately")
}

func TestOversizePayloadClosesSession(t *testing.T) {
	srv := startServer(t, 8)
	c := dialClient(t, srv.addr)
	c.login("alice")

	raw := make([]byte, protocol.HeaderSize)
	raw[0] = uint8(protocol.TypeLogin)
	binary.BigEndian.PutUint16(raw[4:6], protocol.DefaultMaxPayload+1)
	_, err := c.conn.Write(raw)
	require.NoError(t, err)

	c.expectEOF()
}

func TestGracefulShutdownWithActiveGame(t *testing.T) {
	srv := startServer(t, 8)
	alice := dialClient(t, srv.addr)
	alice.login("alice")
	bob := dialClient(t, srv.addr)
	bob.login("bob")
	carol := dialClient(t, srv.addr)
	carol.login("carol")

	alice.send(protocol.TypeInvite, 0, protocol.RoleFirst, "bob")
	alice.expect(protocol.TypeAck)
	invited, _ := bob.expect(protocol.TypeInvited)
	bob.send(protocol.TypeAccept, invited.ID, 0, "")
	bob.expect(protocol.TypeAck)
	alice.expect(protocol.TypeAccepted)
	bob.send(protocol.TypeMove, 0, 0, "5X")
	bob.expect(protocol.TypeAck)
	alice.expect(protocol.TypeMoved)

	srv.cancel()

	// Every socket is half-closed; each client drains whatever
	// notifications the teardown produced and then sees EOF.
	for _, c := range []*tclient{alice, bob, carol} {
		require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			_, _, err := protocol.Recv(c.conn, 0)
			if err != nil {
				require.ErrorIs(t, err, io.EOF)
				break
			}
		}
		c.conn.Close()
	}

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not quiesce")
	}
	assert.Equal(t, 0, srv.clients.Len())
}
