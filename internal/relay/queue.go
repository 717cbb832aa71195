package relay

import "sync"

// FrameQueue is a bounded FIFO of raw audio frames, used to hold inbound
// audio until the upstream transcription connection is ready. Frames come
// back out in strict arrival order. When the cap is reached the oldest frame
// is evicted, so a provider that is slow to connect costs the start of the
// call, not the end of it.
type FrameQueue struct {
	mu        sync.Mutex
	frames    [][]byte
	maxFrames int
	dropped   int
}

// NewFrameQueue creates a queue holding at most maxFrames frames. A
// non-positive cap means unbounded.
func NewFrameQueue(maxFrames int) *FrameQueue {
	return &FrameQueue{
		maxFrames: maxFrames,
	}
}

// Push appends a frame, evicting the oldest frame if the queue is full.
// Returns true if a frame was evicted.
func (q *FrameQueue) Push(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.maxFrames > 0 && len(q.frames) >= q.maxFrames {
		q.frames = q.frames[1:]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, frame)
	return evicted
}

// Drain returns all queued frames in arrival order and empties the queue
func (q *FrameQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	frames := q.frames
	q.frames = nil
	return frames
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns the number of frames evicted due to overflow
func (q *FrameQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
