package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avaropoint/camlink/internal/protocol"
)

// Role is a session's standing with respect to the camera.
type Role uint8

const (
	RoleObserver Role = iota
	RoleController
)

func (r Role) String() string {
	if r == RoleController {
		return "controller"
	}
	return "observer"
}

// outbound is one queued frame. ack runs after the frame reaches the
// socket and is used to time preview delivery.
type outbound struct {
	data []byte
	ack  func()
}

// Session is one connected TCP client. Frames are written by a dedicated
// writer goroutine draining two bounded queues. Replies and notices go
// through Send and are never dropped; preview frames and status reports go
// through Stream, whose queue drops its oldest frame when full. The writer
// always drains replies first.
type Session struct {
	ID          string
	Remote      string
	ConnectedAt time.Time

	conn    net.Conn
	decoder *protocol.Decoder
	queue   chan outbound
	replies chan []byte
	closed  chan struct{}
	once    sync.Once

	mu            sync.Mutex
	role          Role
	wasController bool
	lastHeartbeat time.Time
	reason        string
	dropped       uint64
}

func newSession(conn net.Conn, queueSize int, now time.Time) *Session {
	return &Session{
		ID:            uuid.NewString(),
		Remote:        conn.RemoteAddr().String(),
		ConnectedAt:   now,
		conn:          conn,
		decoder:       protocol.NewDecoder(),
		queue:         make(chan outbound, queueSize),
		replies:       make(chan []byte, queueSize),
		closed:        make(chan struct{}),
		lastHeartbeat: now,
	}
}

// Send queues a reply or notice. It reports false when the session is
// closed. A peer that lets the reply queue fill up is disconnected rather
// than losing a reply.
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.replies <- data:
		return true
	default:
		s.Close("reply queue full")
		return false
	}
}

// Stream queues a lossy frame. It reports false when an older frame had
// to be dropped to make room or the session is closed.
func (s *Session) Stream(data []byte) bool {
	return s.enqueue(outbound{data: data})
}

func (s *Session) enqueue(m outbound) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	for {
		select {
		case s.queue <- m:
			return true
		default:
		}
		// Full: discard the oldest and retry.
		select {
		case <-s.queue:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			select {
			case s.queue <- m:
			default:
			}
			return false
		default:
		}
	}
}

// QueueLen is the number of lossy frames waiting for the writer.
func (s *Session) QueueLen() int { return len(s.queue) }

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) setRole(r Role) {
	s.mu.Lock()
	s.role = r
	if r == RoleController {
		s.wasController = true
	}
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()
}

// LastHeartbeat is the time of the last valid frame from the peer.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Dropped counts frames discarded because the queue was full.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close shuts the connection. The first reason given wins.
func (s *Session) Close(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.closed)
		s.conn.Close() //nolint:errcheck
	})
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// writeLoop drains both queues until the session closes, replies first.
// A failed write closes the session.
func (s *Session) writeLoop(timeout time.Duration) {
	for {
		var m outbound
		select {
		case <-s.closed:
			return
		case data := <-s.replies:
			m.data = data
		default:
			select {
			case <-s.closed:
				return
			case data := <-s.replies:
				m.data = data
			case m = <-s.queue:
			}
		}
		if timeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(timeout)) //nolint:errcheck
		}
		if _, err := s.conn.Write(m.data); err != nil {
			s.Close("write failed: " + err.Error())
			return
		}
		if m.ack != nil {
			m.ack()
		}
	}
}

// SessionInfo is the admin view of a session.
type SessionInfo struct {
	ID            string    `json:"id"`
	Remote        string    `json:"remote"`
	Role          string    `json:"role"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	QueueLen      int       `json:"queue_len"`
	Replies       int       `json:"replies_pending"`
	Dropped       uint64    `json:"dropped"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:            s.ID,
		Remote:        s.Remote,
		Role:          s.role.String(),
		ConnectedAt:   s.ConnectedAt,
		LastHeartbeat: s.lastHeartbeat,
		QueueLen:      len(s.queue),
		Replies:       len(s.replies),
		Dropped:       s.dropped,
	}
}
