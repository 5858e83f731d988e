// Package websocket adapts a gorilla websocket connection to the session
// layer's Transport: writes go through a buffered channel drained by a
// single write pump, so broadcasts never block the session's mutation lane,
// and a client that stops draining is dropped instead of stalling the game.
package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
	// Outbound queue depth per client.
	sendBuffer = 64
)

// ErrClientGone is returned by Send after the client closed.
var ErrClientGone = errors.New("websocket client closed")

// ErrSlowConsumer is returned by Send when the outbound queue is full.
var ErrSlowConsumer = errors.New("websocket send queue full")

// Client is one websocket peer. It satisfies the session layer's Transport.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

// NewClient wraps an upgraded connection. The caller must run WritePump and
// ReadPump, each on its own goroutine.
func NewClient(conn *websocket.Conn, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send enqueues one outbound message without blocking.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientGone
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close shuts the client down. Idempotent and non-blocking.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// WritePump drains the send queue onto the wire and keeps the connection
// alive with pings. It owns all writes to the underlying connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ReadPump reads inbound messages and hands them to handle until the peer
// goes away, then calls onClose exactly once.
func (c *Client) ReadPump(handle func(data []byte), onClose func()) {
	defer func() {
		c.Close()
		onClose()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		handle(data)
	}
}
