package sink

import "sync"

// replayEntry holds a single broadcast envelope for replay.
type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// replayBuffer is a fixed-size circular buffer of recent envelopes. A client
// reconnecting with ?since=<seq> is sent everything newer that is still held.
//
// Thread-safe for concurrent writes and reads.
type replayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int // next write position
	full bool
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &replayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// push appends an envelope. Overwrites the oldest entry when full.
func (rb *replayBuffer) push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: data}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 && !rb.full {
		rb.full = true
	}
}

// since returns entries with Seq > seq, oldest first.
func (rb *replayBuffer) since(seq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []replayEntry
	count := rb.len()
	for i := 0; i < count; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq > seq {
			result = append(result, e)
		}
	}
	return result
}

func (rb *replayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *replayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
