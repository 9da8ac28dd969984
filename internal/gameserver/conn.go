package gameserver

import (
	"io"
	"net"
	"time"
)

// Conn is the transport a session runs over. CloseWrite half-closes the
// write direction so the peer's reader sees a clean EOF; graceful
// shutdown relies on it.
type Conn interface {
	io.ReadWriteCloser
	CloseWrite() error
	SetWriteDeadline(t time.Time) error
}

type closeWriter interface {
	CloseWrite() error
}

// netConn adapts a net.Conn without half-close support, falling back to
// a full Close.
type netConn struct {
	net.Conn
}

func (c netConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}

// AsConn wraps a net.Conn as a Conn, using the connection's own
// CloseWrite when it has one (TCP does).
func AsConn(c net.Conn) Conn {
	if conn, ok := c.(Conn); ok {
		return conn
	}
	return netConn{Conn: c}
}
