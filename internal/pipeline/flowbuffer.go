package pipeline

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrFlowBufferClosed is returned by Push once the buffer has been closed.
var ErrFlowBufferClosed = errors.New("pipeline: flow buffer closed")

// FlowBuffer decouples a direction's reader from its writer with an
// explicit byte-size watermark, rather than relying on the kernel socket
// buffer to propagate backpressure implicitly. Push blocks the reader once
// buffered bytes reach the high watermark; Pop draining the queue wakes
// any blocked Push once buffered bytes fall back below the low watermark.
// The hysteresis band between the two watermarks avoids thrashing a reader
// on and off at a single threshold.
type queuedItem struct {
	data    []byte
	release func()
}

type FlowBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []queuedItem
	buffered int
	high     int
	low      int
	closed   bool
}

// NewFlowBuffer returns a FlowBuffer that suspends pushes once buffered
// bytes reach high, and resumes them once a drain brings buffered bytes
// below low.
func NewFlowBuffer(high, low int) *FlowBuffer {
	fb := &FlowBuffer{high: high, low: low}
	fb.cond = sync.NewCond(&fb.mu)
	return fb
}

// Push enqueues b, blocking the caller while the buffer is at or above its
// high watermark. release, if non-nil, is handed back by Pop alongside b;
// FlowBuffer never calls it itself. It is the hook a pooled-buffer encoder
// uses to return the buffer once the Pop caller has actually written it.
// Returns ErrFlowBufferClosed if the buffer
// is closed either before or while waiting.
func (fb *FlowBuffer) Push(b []byte, release func()) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for fb.buffered >= fb.high && !fb.closed {
		fb.cond.Wait()
	}
	if fb.closed {
		return ErrFlowBufferClosed
	}
	fb.queue = append(fb.queue, queuedItem{data: b, release: release})
	fb.buffered += len(b)
	// Wake a Pop waiting on an empty queue.
	fb.cond.Broadcast()
	return nil
}

// Pop removes and returns the oldest queued item's bytes and release hook.
// It blocks until an item is available or the buffer is closed and
// drained, in which case ok is false.
func (fb *FlowBuffer) Pop() (b []byte, release func(), ok bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for len(fb.queue) == 0 && !fb.closed {
		fb.cond.Wait()
	}
	if len(fb.queue) == 0 {
		return nil, nil, false
	}
	item := fb.queue[0]
	fb.queue = fb.queue[1:]
	fb.buffered -= len(item.data)
	if fb.buffered < fb.low {
		fb.cond.Broadcast()
	}
	return item.data, item.release, true
}

// Buffered reports the current number of buffered-but-unflushed bytes.
func (fb *FlowBuffer) Buffered() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.buffered
}

// Suspended reports whether the buffer is currently at or above its high
// watermark, i.e. whether a Push would block. Exposed for tests; the
// pipeline itself only needs the blocking behavior.
func (fb *FlowBuffer) Suspended() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.buffered >= fb.high
}

// Close unblocks any waiting Push or Pop and makes every later Push fail
// with ErrFlowBufferClosed. Items already queued are kept: Pop keeps
// returning them after Close, and reports ok=false only once the queue is
// empty, so a writer can flush everything queued before the close.
func (fb *FlowBuffer) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.closed = true
	fb.cond.Broadcast()
}
