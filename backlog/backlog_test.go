package backlog

import (
	"testing"

	"github.com/onnwee/chatmux/backend/message"
)

func msg(author string) message.NormalizedMessage {
	return message.NormalizedMessage{ID: message.NewID(), Author: author}
}

func authors(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Msg.Author
	}
	return out
}

func TestAppendEvictsOldest(t *testing.T) {
	b := New(3)
	for _, a := range []string{"A", "B", "C", "D"} {
		b.Append(msg(a))
	}
	got := authors(b.Snapshot())
	want := []string{"B", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("snapshot has %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
}

func TestSequenceStrictlyIncreasing(t *testing.T) {
	b := New(2)
	var last uint64
	for i := 0; i < 5; i++ {
		seq := b.Append(msg("x"))
		if i > 0 && seq <= last {
			t.Fatalf("seq %d not greater than previous %d", seq, last)
		}
		last = seq
	}
	snap := b.Snapshot()
	if snap[0].Seq >= snap[1].Seq {
		t.Errorf("snapshot out of order: %d then %d", snap[0].Seq, snap[1].Seq)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	b := New(2)
	b.Append(msg("A"))
	snap := b.Snapshot()
	b.Append(msg("B"))
	b.Append(msg("C"))
	if snap[0].Msg.Author != "A" {
		t.Error("snapshot mutated by later appends")
	}
}

func TestCapacityFloor(t *testing.T) {
	b := New(0)
	if b.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", b.Cap())
	}
	b.Append(msg("A"))
	b.Append(msg("B"))
	if got := authors(b.Snapshot()); len(got) != 1 || got[0] != "B" {
		t.Errorf("snapshot = %v, want [B]", got)
	}
}
