package session

import "time"

// Transport is the write side of one client connection. Implementations must
// not block: the websocket transport enqueues to a buffered per-connection
// channel and reports a full buffer as an error, which drops the connection.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Conn is one attached client: a seated player or a spectator (seat 0).
// Fields are owned by the session and read under its lane.
type Conn struct {
	transport Transport
	playerID  string
	seat      int
	lastSeen  time.Time
}

// Seat returns the connection's seat; 0 for spectators.
func (c *Conn) Seat() int { return c.seat }

// PlayerID returns the client-supplied identity, possibly empty for
// spectators.
func (c *Conn) PlayerID() string { return c.playerID }

// Spectator reports whether the connection is unseated.
func (c *Conn) Spectator() bool { return c.seat == 0 }
