package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsgate/jitterm/internal/session"
	"github.com/opsgate/jitterm/internal/shared/id"
)

const (
	sendBufSize   = 256
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

// endpoint adapts one WebSocket connection to the session.Endpoint
// contract. Send never performs network I/O on the caller's goroutine; it
// enqueues onto a buffered channel drained by the write pump, which owns
// every write on the connection including the final close frame.
type endpoint struct {
	id   id.EndpointID
	conn *websocket.Conn

	send   chan session.Message
	done   chan struct{}
	reason chan string

	closeOnce sync.Once
}

func newEndpoint(conn *websocket.Conn) *endpoint {
	return &endpoint{
		id:     id.NewEndpointID(),
		conn:   conn,
		send:   make(chan session.Message, sendBufSize),
		done:   make(chan struct{}),
		reason: make(chan string, 1),
	}
}

func (e *endpoint) ID() id.EndpointID {
	return e.id
}

// Send enqueues an outbound message. A full buffer counts as a transport
// failure so the manager detaches slow consumers instead of blocking the
// output fan-out.
func (e *endpoint) Send(msg session.Message) error {
	select {
	case <-e.done:
		return fmt.Errorf("endpoint closed")
	default:
	}

	select {
	case e.send <- msg:
		return nil
	default:
		return fmt.Errorf("endpoint send buffer full")
	}
}

// Close asks the write pump to flush pending messages, send a close frame
// with the given reason, and tear the connection down. Safe to call more
// than once.
func (e *endpoint) Close(reason string) error {
	e.closeOnce.Do(func() {
		e.reason <- reason
		close(e.done)
	})
	return nil
}

// writePump serializes all writes onto one goroutine and keeps the
// connection alive with pings. On shutdown it drains messages enqueued
// before Close, so terminal notifications reach the client.
func (e *endpoint) writePump() {
	defer e.conn.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			e.flush()
			return
		case msg := <-e.send:
			e.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := e.conn.WriteJSON(msg); err != nil {
				e.Close("Write failed")
				return
			}
		case <-ticker.C:
			if err := e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				e.Close("Ping failed")
				return
			}
		}
	}
}

// flush writes messages enqueued before shutdown, then the close frame.
func (e *endpoint) flush() {
	for {
		select {
		case msg := <-e.send:
			e.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := e.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			var reason string
			select {
			case reason = <-e.reason:
			default:
			}
			message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			e.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeDeadline))
			return
		}
	}
}
