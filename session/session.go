// Package session implements the per-connection state machine of the
// gateway. Each device connection is one session: a read loop that
// dispatches typed frames through the router, and a write pump that owns
// the outbound side of the socket.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the session's position in the connect -> register ->
// authenticate progression. States are ordered: a frame gated on a state is
// accepted in that state and every later one.
type State int

const (
	StateConnected State = iota
	StateRegistered
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Socket timing and bounds. Payloads carry at most 30 accelerometer triples
// plus small scalars, so 8 KiB bounds every legal frame.
const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 8 * 1024
	sendBufferSize = 16
)

// Session is one device connection. The read loop is the only writer of
// state and deviceID; the write pump is the only writer of the socket.
type Session struct {
	ID     string
	Remote string

	conn   *websocket.Conn
	logger log.Logger

	state    State
	deviceID string
	lastPing time.Time

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, logger log.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:     id,
		Remote: conn.RemoteAddr().String(),
		conn:   conn,
		logger: logger.With("session", id),
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// State returns the current session state. Only the read loop mutates it,
// so handlers (which run on the read loop) read it without synchronization.
func (s *Session) State() State { return s.state }

// DeviceID returns the authenticated device id, or "" before authenticate.
func (s *Session) DeviceID() string { return s.deviceID }

// advance moves the state forward; it never moves backward (a re-register
// on an authenticated session stays authenticated).
func (s *Session) advance(to State) {
	if to > s.state {
		s.state = to
	}
}

// Send enqueues a frame for the write pump. The outbound channel is small
// and back-pressured: a device that cannot drain its responses loses the
// session rather than growing an unbounded queue.
func (s *Session) Send(frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("encode outbound frame", "err", err)
		return
	}
	select {
	case s.send <- raw:
	case <-s.done:
	default:
		s.logger.Warn("outbound channel full, dropping session", "device", s.deviceID)
		s.Close()
	}
}

// Close tears the session down. Safe to call from any goroutine and more
// than once; in-flight outbound frames are abandoned.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump serializes all socket writes: queued frames and keep-alive
// pings. It exits when the session closes or a write fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case raw := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
