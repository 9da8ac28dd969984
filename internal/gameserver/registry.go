package gameserver

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeux-go/jeux/internal/model"
)

// ClientRegistry tracks every live connection up to a fixed capacity.
// The registry lock is always taken before any client lock and is
// never reentered from one; Name() on a client is safe because it only
// takes that client's own lock.
type ClientRegistry struct {
	capacity     int
	writeTimeout time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	clients map[*Client]struct{}
	nextSeq uint64
}

// NewClientRegistry returns an empty registry holding at most capacity
// clients.
func NewClientRegistry(capacity int, writeTimeout time.Duration, log *slog.Logger) *ClientRegistry {
	r := &ClientRegistry{
		capacity:     capacity,
		writeTimeout: writeTimeout,
		log:          log,
		clients:      make(map[*Client]struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Register creates a client for conn. Fails with ErrFull at capacity;
// the caller closes the connection in that case.
func (r *ClientRegistry) Register(conn Conn) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= r.capacity {
		return nil, fmt.Errorf("%w: %d clients", ErrFull, r.capacity)
	}
	c := newClient(conn, r.nextSeq, r.writeTimeout, r.log)
	r.nextSeq++
	r.clients[c] = struct{}{}
	return c, nil
}

// Unregister drops the client, waking WaitForEmpty callers when the
// set drains.
func (r *ClientRegistry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
	if len(r.clients) == 0 {
		r.cond.Broadcast()
	}
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Lookup finds the client logged in under exactly name.
func (r *ClientRegistry) Lookup(name string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: user %q", ErrNotFound, name)
}

// Login binds player to c after checking no other live client holds
// the same name. The check and the bind happen under the registry
// lock, so two racing logins cannot both win.
func (r *ClientRegistry) Login(c *Client, player *model.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for other := range r.clients {
		if other != c && other.Name() == player.Name() {
			return fmt.Errorf("%w: name %q in use", ErrDuplicate, player.Name())
		}
	}
	return c.Login(player)
}

// SnapshotPlayers returns the players of all logged-in clients.
func (r *ClientRegistry) SnapshotPlayers() []*model.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	players := make([]*model.Player, 0, len(r.clients))
	for c := range r.clients {
		if p := c.Player(); p != nil {
			players = append(players, p)
		}
	}
	return players
}

// ShutdownAll half-closes every client socket in the write direction
// so each session's next read sees EOF and the loop drains itself.
func (r *ClientRegistry) ShutdownAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if err := c.conn.CloseWrite(); err != nil {
			r.log.Debug("half-close failed", "client", c.seq, "error", err)
		}
	}
}

// WaitForEmpty blocks until no clients remain. Safe for concurrent
// callers.
func (r *ClientRegistry) WaitForEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.clients) > 0 {
		r.cond.Wait()
	}
}
