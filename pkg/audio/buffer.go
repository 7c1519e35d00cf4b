package audio

import "sync"

// DefaultBufferLimit is the ingest cap used when none is configured: 1 MiB
// of PCM, roughly 11 seconds of 48 kHz stereo audio.
const DefaultBufferLimit = 1 << 20

// FrameBuffer accumulates raw PCM chunks between transcriptions.
//
// The total buffered size never exceeds the limit unless a single chunk is
// larger than the limit on its own; in that case the chunk is kept and every
// older chunk is evicted. Eviction is FIFO. FrameBuffer is safe for
// concurrent use.
type FrameBuffer struct {
	mu     sync.Mutex
	limit  int
	chunks [][]byte
	size   int
}

// NewFrameBuffer returns a buffer capped at limit bytes. A non-positive limit
// selects [DefaultBufferLimit].
func NewFrameBuffer(limit int) *FrameBuffer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &FrameBuffer{limit: limit}
}

// Push appends a copy of chunk and evicts the oldest chunks until the buffer
// fits its limit again. Empty chunks are ignored.
func (b *FrameBuffer) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.evictLocked()
}

// Requeue puts previously drained audio back in front of anything buffered
// since, so that a failed transcription does not lose it. The limit applies
// as for Push, which means the requeued audio is the first to go.
func (b *FrameBuffer) Requeue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	c := make([]byte, len(pcm))
	copy(c, pcm)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append([][]byte{c}, b.chunks...)
	b.size += len(c)
	b.evictLocked()
}

// Drain returns the concatenation of every buffered chunk in arrival order
// and empties the buffer. It returns an empty, non-nil slice when nothing is
// buffered.
func (b *FrameBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	b.size = 0
	return out
}

// Reset discards all buffered audio.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
}

// Size returns the number of buffered bytes.
func (b *FrameBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Len returns the number of buffered chunks.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Limit returns the configured cap in bytes.
func (b *FrameBuffer) Limit() int {
	return b.limit
}

func (b *FrameBuffer) evictLocked() {
	for b.size > b.limit && len(b.chunks) > 1 {
		b.size -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}
