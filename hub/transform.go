package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatmux/backend/message"
)

const (
	// stageTimeout bounds one transform invocation.
	stageTimeout = 250 * time.Millisecond
	// stageFaultLimit is how many consecutive faults disable a stage.
	stageFaultLimit = 3
)

// Transform is one message-pipeline stage. Transform returns the possibly
// modified message and whether it should continue downstream; returning
// false filters the message out before backlog and fan-out.
type Transform interface {
	Name() string
	Transform(msg message.NormalizedMessage) (message.NormalizedMessage, bool)
}

// stage wraps a Transform with fault isolation. A stage that panics or
// exceeds the per-call deadline passes the message through unmodified, and
// after stageFaultLimit consecutive faults it is disabled until restart.
type stage struct {
	t Transform

	mu       sync.Mutex
	faults   int
	disabled bool
}

// Use appends a transform stage. Stages run in registration order on every
// published message. Not safe to call concurrently with Publish; register
// stages before connectors start.
func (h *Hub) Use(t Transform) {
	h.stages = append(h.stages, &stage{t: t})
}

func (h *Hub) applyStages(msg message.NormalizedMessage) (message.NormalizedMessage, bool) {
	for _, st := range h.stages {
		out, keep, ok := st.apply(msg)
		if !ok {
			continue // faulted stage, message passes through unmodified
		}
		if !keep {
			return msg, false
		}
		msg = out
	}
	return msg, true
}

type stageResult struct {
	msg      message.NormalizedMessage
	keep     bool
	panicked bool
}

// apply runs the transform with panic recovery and a deadline. The third
// return reports whether the result is usable.
func (st *stage) apply(msg message.NormalizedMessage) (message.NormalizedMessage, bool, bool) {
	st.mu.Lock()
	if st.disabled {
		st.mu.Unlock()
		return msg, true, false
	}
	st.mu.Unlock()

	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("transform stage panicked",
					slog.String("stage", st.t.Name()),
					slog.String("panic", fmt.Sprintf("%v", r)))
				select {
				case done <- stageResult{msg: msg, keep: true, panicked: true}:
				default:
				}
			}
		}()
		out, keep := st.t.Transform(msg)
		done <- stageResult{msg: out, keep: keep}
	}()

	timer := time.NewTimer(stageTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.panicked {
			st.recordFault("panic")
			return msg, true, false
		}
		st.recordSuccess()
		return res.msg, res.keep, true
	case <-timer.C:
		st.recordFault("deadline exceeded")
		return msg, true, false
	}
}

func (st *stage) recordSuccess() {
	st.mu.Lock()
	st.faults = 0
	st.mu.Unlock()
}

func (st *stage) recordFault(why string) {
	st.mu.Lock()
	st.faults++
	disabled := st.faults >= stageFaultLimit
	st.disabled = disabled
	faults := st.faults
	st.mu.Unlock()
	if disabled {
		slog.Error("transform stage disabled after repeated faults",
			slog.String("stage", st.t.Name()), slog.Int("faults", faults))
	} else {
		slog.Warn("transform stage fault",
			slog.String("stage", st.t.Name()), slog.String("why", why), slog.Int("faults", faults))
	}
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc struct {
	StageName string
	Fn        func(message.NormalizedMessage) (message.NormalizedMessage, bool)
}

func (f TransformFunc) Name() string { return f.StageName }

func (f TransformFunc) Transform(msg message.NormalizedMessage) (message.NormalizedMessage, bool) {
	return f.Fn(msg)
}
