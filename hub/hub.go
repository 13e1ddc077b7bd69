// Package hub fans normalized messages out to attached display clients. The
// hub exclusively owns the live client-session set and the backlog buffer;
// everything else goes through Publish/Attach/Detach. A slow or hostile
// client only ever costs itself: publishes never block on a session's
// drain, and per-client faults end in that session's detachment.
package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatmux/backend/backlog"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/telemetry"
)

const (
	// DefaultQueueCap is the per-session frame queue capacity.
	DefaultQueueCap = 1000
	// DefaultHeartbeatInterval is how often sessions are pinged.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultPongGrace is how long a ping may go unanswered.
	DefaultPongGrace = 10 * time.Second
)

// Options configures a Hub.
type Options struct {
	Backlog           *backlog.Buffer
	QueueCap          int
	HeartbeatInterval time.Duration
	PongGrace         time.Duration
}

// Hub is the broadcast coordination point between platform connectors and
// display clients.
type Hub struct {
	opts    Options
	backlog *backlog.Buffer
	stages  []*stage

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// New builds a hub. A nil Backlog gets a default-capacity buffer.
func New(opts Options) *Hub {
	if opts.Backlog == nil {
		opts.Backlog = backlog.New(50)
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = DefaultQueueCap
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.PongGrace <= 0 {
		opts.PongGrace = DefaultPongGrace
	}
	return &Hub{
		opts:     opts,
		backlog:  opts.Backlog,
		sessions: make(map[string]*Session),
	}
}

// Publish appends msg to the backlog and enqueues it to every attached
// session. Fire-and-forget: a full queue on one session never blocks or
// fails publish for others. Messages from one connector arrive here in
// receive order, so per-platform ordering is preserved end to end.
func (h *Hub) Publish(msg message.NormalizedMessage) {
	out, keep := h.applyStages(msg)
	if !keep {
		telemetry.CountFiltered()
		return
	}
	seq := h.backlog.Append(out)
	telemetry.CountPublish()
	telemetry.SetBacklogSize(h.backlog.Len())
	frame := message.MessageFrame(out)
	h.mu.RLock()
	for _, s := range h.sessions {
		s.enqueueLive(seq, frame)
	}
	h.mu.RUnlock()
}

// Broadcast enqueues a system frame (error notice) to every session. It
// bypasses the backlog and the transform pipeline.
func (h *Hub) Broadcast(f message.Frame) {
	h.mu.RLock()
	for _, s := range h.sessions {
		s.enqueue(f)
	}
	h.mu.RUnlock()
}

// Attach registers a display client. The session's queue is primed with a
// backlog_start marker, the full backlog snapshot in order, and a
// backlog_end marker before any live message published after the attach.
// Returns nil once the hub is closed.
func (h *Hub) Attach(ctx context.Context, w FrameWriter) *Session {
	s := &Session{
		id:          uuid.New().String(),
		hub:         h,
		w:           w,
		q:           newFrameQueue(h.opts.QueueCap),
		connectedAt: time.Now().UTC(),
		heartbeat:   h.opts.HeartbeatInterval,
		grace:       h.opts.PongGrace,
		acks:        make(chan uint64, 4),
		closing:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	snap := h.backlog.Snapshot()
	s.enqueue(message.BacklogStartFrame(len(snap), snapshotPlatforms(snap)))
	for _, e := range snap {
		s.enqueue(message.MessageFrame(e.Msg))
	}
	if n := len(snap); n > 0 {
		s.snapshotSeq = snap[n-1].Seq
		s.hasSnapshot = true
	}
	s.enqueue(message.BacklogEndFrame())
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()

	telemetry.SetClients(n)
	slog.Info("client attached", slog.String("session", s.id), slog.Int("backlog", len(snap)))
	go s.run(ctx)
	return s
}

// Detach removes a session, optionally sending reason as a final error
// frame.
func (h *Hub) Detach(id, reason string) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	s.close(reason)
	h.remove(id)
}

// remove drops the session from the set; called by the session pump on its
// way out, so it is idempotent.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		telemetry.SetClients(n)
		slog.Info("client detached", slog.String("session", id))
	}
}

// Sessions returns per-client status sorted by connect time.
func (h *Hub) Sessions() []SessionStatus {
	h.mu.RLock()
	out := make([]SessionStatus, 0, len(h.sessions))
	depth := 0
	for _, s := range h.sessions {
		st := s.Status()
		depth += st.QueueDepth
		out = append(out, st)
	}
	h.mu.RUnlock()
	telemetry.SetQueueDepth(depth)
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedSince.Before(out[j].ConnectedSince) })
	return out
}

// Close detaches every session with a final shutdown notice and refuses new
// attaches. Part of ordered engine shutdown: callers stop connectors first.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()
	for _, s := range sessions {
		s.close("server shutting down")
	}
	telemetry.SetClients(0)
}

func snapshotPlatforms(entries []backlog.Entry) []message.Platform {
	seen := make(map[message.Platform]bool)
	var out []message.Platform
	for _, e := range entries {
		if !seen[e.Msg.Platform] {
			seen[e.Msg.Platform] = true
			out = append(out, e.Msg.Platform)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
