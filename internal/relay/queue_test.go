package relay

import (
	"bytes"
	"fmt"
	"testing"
)

func TestFrameQueue_FIFO(t *testing.T) {
	q := NewFrameQueue(100)

	for i := 0; i < 50; i++ {
		if evicted := q.Push([]byte(fmt.Sprintf("frame-%d", i))); evicted {
			t.Errorf("frame %d: unexpected eviction", i)
		}
	}
	if q.Len() != 50 {
		t.Errorf("expected 50 queued frames, got %d", q.Len())
	}

	frames := q.Drain()
	if len(frames) != 50 {
		t.Fatalf("expected 50 drained frames, got %d", len(frames))
	}
	for i, frame := range frames {
		expected := []byte(fmt.Sprintf("frame-%d", i))
		if !bytes.Equal(frame, expected) {
			t.Errorf("frame %d: expected %q, got %q", i, expected, frame)
		}
	}

	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestFrameQueue_DrainEmpty(t *testing.T) {
	q := NewFrameQueue(10)

	if frames := q.Drain(); len(frames) != 0 {
		t.Errorf("expected no frames, got %d", len(frames))
	}
}

func TestFrameQueue_OverflowEvictsOldest(t *testing.T) {
	q := NewFrameQueue(4)

	for i := 0; i < 4; i++ {
		if evicted := q.Push([]byte(fmt.Sprintf("frame-%d", i))); evicted {
			t.Errorf("frame %d: unexpected eviction below cap", i)
		}
	}

	// Pushing past the cap evicts from the front
	if evicted := q.Push([]byte("frame-4")); !evicted {
		t.Error("expected eviction at cap")
	}
	if evicted := q.Push([]byte("frame-5")); !evicted {
		t.Error("expected eviction at cap")
	}

	if q.Dropped() != 2 {
		t.Errorf("expected 2 dropped frames, got %d", q.Dropped())
	}

	frames := q.Drain()
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	// Survivors are the newest four, still in arrival order
	for i, frame := range frames {
		expected := []byte(fmt.Sprintf("frame-%d", i+2))
		if !bytes.Equal(frame, expected) {
			t.Errorf("frame %d: expected %q, got %q", i, expected, frame)
		}
	}
}

func TestFrameQueue_UnboundedWhenCapNonPositive(t *testing.T) {
	q := NewFrameQueue(0)

	for i := 0; i < 1000; i++ {
		if evicted := q.Push([]byte{byte(i)}); evicted {
			t.Fatalf("frame %d: unexpected eviction on unbounded queue", i)
		}
	}
	if q.Len() != 1000 {
		t.Errorf("expected 1000 frames, got %d", q.Len())
	}
	if q.Dropped() != 0 {
		t.Errorf("expected 0 dropped frames, got %d", q.Dropped())
	}
}
