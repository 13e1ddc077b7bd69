package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/telemetry"
)

// FrameWriter is the transport half of a client session. The WebSocket
// endpoint wraps its connection in one; tests supply fakes.
type FrameWriter interface {
	WriteFrame(f message.Frame) error
	Close() error
}

// frameQueue is the bounded per-session send queue. Overflow sheds the
// oldest ordinary chat frame; control frames (backlog markers, heartbeats,
// error notices) are never shed and may briefly push the queue past
// capacity when nothing else is evictable.
type frameQueue struct {
	mu      sync.Mutex
	frames  []message.Frame
	cap     int
	dropped uint64
	ready   chan struct{}
}

func newFrameQueue(capacity int) *frameQueue {
	if capacity < 1 {
		capacity = DefaultQueueCap
	}
	return &frameQueue{cap: capacity, ready: make(chan struct{}, 1)}
}

func (q *frameQueue) push(f message.Frame) {
	q.mu.Lock()
	if len(q.frames) >= q.cap {
		evicted := false
		for i := range q.frames {
			if !q.frames[i].Critical() {
				q.frames = append(q.frames[:i], q.frames[i+1:]...)
				q.dropped++
				evicted = true
				break
			}
		}
		if !evicted && !f.Critical() {
			// Queue holds only control frames; shed the incoming chat frame.
			q.dropped++
			q.mu.Unlock()
			telemetry.CountFrameDrop()
			return
		}
		if evicted {
			telemetry.CountFrameDrop()
		}
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *frameQueue) pop() (message.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return message.Frame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *frameQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// SessionStatus is the per-client view on the status surface.
type SessionStatus struct {
	ID             string    `json:"id"`
	QueueDepth     int       `json:"queue_depth"`
	Dropped        uint64    `json:"dropped_messages"`
	ConnectedSince time.Time `json:"connected_since"`
}

// Session is one attached display client: a bounded queue, a write pump,
// and heartbeat staleness detection. Queued frames belong exclusively to
// the session until written.
type Session struct {
	id          string
	hub         *Hub
	w           FrameWriter
	q           *frameQueue
	connectedAt time.Time

	heartbeat time.Duration
	grace     time.Duration

	// snapshotSeq is the highest backlog sequence replayed on attach; live
	// publishes at or below it are skipped to avoid replay duplication.
	snapshotSeq uint64
	hasSnapshot bool

	acks    chan uint64
	closing chan struct{}
	once    sync.Once
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the session's backpressure counters.
func (s *Session) Status() SessionStatus {
	return SessionStatus{
		ID:             s.id,
		QueueDepth:     s.q.depth(),
		Dropped:        s.q.droppedCount(),
		ConnectedSince: s.connectedAt,
	}
}

// Ack reports a heartbeat echo from the client.
func (s *Session) Ack(seq uint64) {
	select {
	case s.acks <- seq:
	case <-s.closing:
	}
}

// enqueue queues any frame for transmission.
func (s *Session) enqueue(f message.Frame) { s.q.push(f) }

// enqueueLive queues a published chat message unless it was already part of
// this session's backlog replay.
func (s *Session) enqueueLive(seq uint64, f message.Frame) {
	if s.hasSnapshot && seq <= s.snapshotSeq {
		return
	}
	s.q.push(f)
}

// close releases the session exactly once. reason, when non-empty, is sent
// as a final best-effort error frame before the transport closes.
func (s *Session) close(reason string) {
	s.once.Do(func() {
		if reason != "" {
			if err := s.w.WriteFrame(message.ErrorFrame("disconnect", reason, "")); err != nil {
				slog.Debug("final frame write", slog.String("session", s.id), slog.Any("err", err))
			}
		}
		close(s.closing)
		if err := s.w.Close(); err != nil {
			slog.Debug("session transport close", slog.String("session", s.id), slog.Any("err", err))
		}
	})
}

// run is the write pump. It drains the queue to the transport, issues
// heartbeats on the configured interval, and detaches the session when a
// heartbeat goes unanswered past the grace period or a write fails.
func (s *Session) run(ctx context.Context) {
	defer s.hub.remove(s.id)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	var (
		seq     uint64
		pending uint64 // outstanding heartbeat seq, 0 = none
		graceC  <-chan time.Time
		graceT  *time.Timer
	)
	stopGrace := func() {
		if graceT != nil {
			graceT.Stop()
			graceT = nil
			graceC = nil
		}
	}
	defer stopGrace()

	for {
		select {
		case <-ctx.Done():
			s.close("")
			return
		case <-s.closing:
			return
		case <-s.q.ready:
			for {
				f, ok := s.q.pop()
				if !ok {
					break
				}
				if err := s.w.WriteFrame(f); err != nil {
					slog.Info("client write failed, detaching",
						slog.String("session", s.id), slog.Any("err", err))
					s.close("")
					return
				}
			}
		case <-ticker.C:
			if pending != 0 {
				// Previous ping still unanswered a full interval later.
				s.close("heartbeat timeout")
				return
			}
			seq++
			pending = seq
			s.enqueue(message.HeartbeatFrame(seq))
			graceT = time.NewTimer(s.grace)
			graceC = graceT.C
		case ack := <-s.acks:
			if ack == pending {
				pending = 0
				stopGrace()
			}
		case <-graceC:
			slog.Info("heartbeat unanswered, detaching",
				slog.String("session", s.id), slog.Uint64("seq", pending))
			s.close("heartbeat timeout")
			return
		}
	}
}
