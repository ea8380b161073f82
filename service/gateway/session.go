package gateway

import (
	"MeshHub/service/protocol"
	"sync"
	"sync/atomic"
	"time"

	"MeshHub/logger"
	"MeshHub/service/model"

	"github.com/gorilla/websocket"
)

// Session is one websocket connection. It enters the registry only
// after a successful auth handshake; before that it is tracked by the
// auth-deadline timer alone.
type Session struct {
	ConnID string

	authenticated atomic.Bool
	alive         atomic.Bool

	mu   sync.Mutex
	user model.ChatUser

	conn      *websocket.Conn
	send      chan []byte
	authTimer *time.Timer

	closeOnce sync.Once
	done      chan struct{}

	writeWait time.Duration
}

func newSession(connID string, conn *websocket.Conn, sendBuffer int, writeWait time.Duration) *Session {
	s := &Session{
		ConnID:    connID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		writeWait: writeWait,
	}
	s.alive.Store(true)
	return s
}

func (s *Session) Authenticated() bool { return s.authenticated.Load() }

func (s *Session) User() model.ChatUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Grant marks the session authenticated as u and cancels the
// auth-deadline timer.
func (s *Session) Grant(u model.ChatUser) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
	s.authenticated.Store(true)
	s.stopAuthTimer()
}

// Reply encodes a frame and puts it on this session's send queue.
func (s *Session) Reply(f protocol.Frame) error {
	payload, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	s.enqueue(payload)
	return nil
}

// CloseWith is the exported form of closeWith for frame handlers.
func (s *Session) CloseWith(code int, reason string) { s.closeWith(code, reason) }

// enqueue puts a payload on the session's send queue without
// blocking. A slow client with a full queue loses the frame; only
// that client is affected.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		logger.Warnf("[session] send queue full, drop frame conn=%s user=%s", s.ConnID, s.User().ID)
		return false
	}
}

// writePump is the sole writer of data frames on the connection.
// Control frames (ping, close) go through WriteControl, which gorilla
// allows concurrently with a writer goroutine.
func (s *Session) writePump() {
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[session] write err conn=%s user=%s err=%v", s.ConnID, s.User().ID, err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.writeWait))
}

// closeWith sends a close frame with the given code and tears the
// connection down. Safe to call more than once and from any
// goroutine.
func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			deadline := time.Now().Add(s.writeWait)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), deadline)
			_ = s.conn.Close()
		}
	})
}

func (s *Session) stopAuthTimer() {
	s.mu.Lock()
	t := s.authTimer
	s.authTimer = nil
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (s *Session) setAuthTimer(t *time.Timer) {
	s.mu.Lock()
	s.authTimer = t
	s.mu.Unlock()
}
