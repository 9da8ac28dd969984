package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/jeux-go/jeux/internal/model"
)

// Server accepts connections and runs one session per client. Shutdown
// follows the context: the listener closes, every client socket is
// half-closed, and Serve returns once the registry drains.
type Server struct {
	clients *ClientRegistry
	players *model.PlayerRegistry
	log     *slog.Logger
}

func NewServer(clients *ClientRegistry, players *model.PlayerRegistry, log *slog.Logger) *Server {
	return &Server{clients: clients, players: players, log: log}
}

// Run listens on addr and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then fans out
// the half-close and waits for all sessions to drain.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		go s.HandleConn(AsConn(conn))
	}

	s.log.Info("shutting down, draining sessions", "clients", s.clients.Len())
	s.clients.ShutdownAll()
	s.clients.WaitForEmpty()
	s.log.Info("all sessions drained")
	return nil
}

// HandleConn registers the connection and runs its session to
// completion. At capacity the connection is closed immediately.
func (s *Server) HandleConn(conn Conn) {
	client, err := s.clients.Register(conn)
	if err != nil {
		s.log.Warn("connection rejected", "error", err)
		conn.Close()
		return
	}
	NewSession(client, s.clients, s.players, s.log).Run()
}
