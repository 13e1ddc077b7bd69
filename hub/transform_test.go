package hub

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatmux/backend/backlog"
	"github.com/onnwee/chatmux/backend/message"
)

func TestTransformModifiesMessage(t *testing.T) {
	h := newTestHub(10)
	h.Use(TransformFunc{
		StageName: "uppercase-author",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			m.Author = strings.ToUpper(m.Author)
			return m, true
		},
	})

	w := &captureWriter{}
	sess := h.Attach(context.Background(), w)
	defer h.Detach(sess.ID(), "")
	w.waitFrames(t, 2)

	h.Publish(chatMsg(message.PlatformTwitch, "alice", "hi"))
	frames := w.waitFrames(t, 3)
	last := frames[len(frames)-1]
	if last.Message.Author != "ALICE" {
		t.Errorf("author = %q, want ALICE", last.Message.Author)
	}
	// The transformed message is what lands in the backlog too.
	snap := h.backlog.Snapshot()
	if len(snap) != 1 || snap[0].Msg.Author != "ALICE" {
		t.Errorf("backlog author = %+v, want ALICE", snap)
	}
}

func TestTransformFiltersMessage(t *testing.T) {
	h := newTestHub(10)
	h.Use(TransformFunc{
		StageName: "drop-spam",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			return m, m.Author != "spammer"
		},
	})

	w := &captureWriter{}
	sess := h.Attach(context.Background(), w)
	defer h.Detach(sess.ID(), "")
	w.waitFrames(t, 2)

	h.Publish(chatMsg(message.PlatformTwitch, "spammer", "buy now"))
	h.Publish(chatMsg(message.PlatformTwitch, "alice", "hi"))

	frames := w.waitFrames(t, 3)
	for _, f := range frames {
		if f.Type == message.FrameMessage && f.Message.Author == "spammer" {
			t.Error("filtered message was delivered")
		}
	}
	if h.backlog.Len() != 1 {
		t.Errorf("backlog len = %d, want 1", h.backlog.Len())
	}
}

func TestTransformStagesRunInOrder(t *testing.T) {
	h := newTestHub(10)
	h.Use(TransformFunc{
		StageName: "first",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			m.Channel = m.Channel + "-a"
			return m, true
		},
	})
	h.Use(TransformFunc{
		StageName: "second",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			m.Channel = m.Channel + "-b"
			return m, true
		},
	})

	out, keep := h.applyStages(chatMsg(message.PlatformTwitch, "u", "x"))
	if !keep {
		t.Fatal("message unexpectedly filtered")
	}
	if out.Channel != "-a-b" {
		t.Errorf("channel = %q, want -a-b", out.Channel)
	}
}

func TestTransformPanicPassesMessageThrough(t *testing.T) {
	h := newTestHub(10)
	h.Use(TransformFunc{
		StageName: "bomb",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			panic("boom")
		},
	})

	out, keep := h.applyStages(chatMsg(message.PlatformTwitch, "alice", "hi"))
	if !keep {
		t.Fatal("panicking stage must not filter the message")
	}
	if out.Author != "alice" {
		t.Errorf("author = %q, want alice unmodified", out.Author)
	}
}

func TestTransformDisabledAfterConsecutiveFaults(t *testing.T) {
	h := newTestHub(10)
	h.Use(TransformFunc{
		StageName: "bomb",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			panic("boom")
		},
	})
	st := h.stages[0]

	for i := 0; i < stageFaultLimit; i++ {
		if _, keep := h.applyStages(chatMsg(message.PlatformTwitch, "u", "x")); !keep {
			t.Fatal("faulting stage filtered a message")
		}
	}
	st.mu.Lock()
	disabled := st.disabled
	st.mu.Unlock()
	if !disabled {
		t.Fatal("stage not disabled after repeated panics")
	}

	// Disabled stage is skipped; messages still flow.
	out, keep := h.applyStages(chatMsg(message.PlatformTwitch, "bob", "still here"))
	if !keep || out.Author != "bob" {
		t.Errorf("message blocked by disabled stage: keep=%v author=%q", keep, out.Author)
	}
}

func TestTransformSuccessResetsFaultCount(t *testing.T) {
	h := newTestHub(10)
	fail := true
	h.Use(TransformFunc{
		StageName: "flaky",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			if fail {
				panic("boom")
			}
			return m, true
		},
	})
	st := h.stages[0]

	h.applyStages(chatMsg(message.PlatformTwitch, "u", "x"))
	h.applyStages(chatMsg(message.PlatformTwitch, "u", "x"))
	fail = false
	h.applyStages(chatMsg(message.PlatformTwitch, "u", "x"))

	st.mu.Lock()
	faults, disabled := st.faults, st.disabled
	st.mu.Unlock()
	if faults != 0 || disabled {
		t.Errorf("faults=%d disabled=%v after success, want 0/false", faults, disabled)
	}
}

func TestTransformDeadlinePassesMessageThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the stage deadline")
	}
	h := New(Options{Backlog: backlog.New(10)})
	block := make(chan struct{})
	defer close(block)
	h.Use(TransformFunc{
		StageName: "stuck",
		Fn: func(m message.NormalizedMessage) (message.NormalizedMessage, bool) {
			<-block
			return m, true
		},
	})

	start := time.Now()
	out, keep := h.applyStages(chatMsg(message.PlatformTwitch, "alice", "hi"))
	if elapsed := time.Since(start); elapsed < stageTimeout {
		t.Errorf("returned after %s, before the %s deadline", elapsed, stageTimeout)
	}
	if !keep || out.Author != "alice" {
		t.Errorf("stuck stage should pass message through: keep=%v author=%q", keep, out.Author)
	}
}
