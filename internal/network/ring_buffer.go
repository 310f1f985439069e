package network

import (
	"fmt"
)

const lengthPrefix = 2

// RingBuffer queues variable-length frames for the local modem. Each frame
// is stored behind a two byte big-endian length, so the byte count and
// the frame count can be read back independently.
type RingBuffer struct {
	buffer   []byte
	head     int
	tail     int
	size     int
	capacity int
	frames   int
	dropped  int
	name     string
}

// NewRingBuffer creates a buffer holding capacity bytes, prefixes included.
func NewRingBuffer(capacity int, name string) *RingBuffer {
	return &RingBuffer{
		buffer:   make([]byte, capacity),
		capacity: capacity,
		name:     name,
	}
}

func (rb *RingBuffer) put(data []byte) {
	for _, b := range data {
		rb.buffer[rb.head] = b
		rb.head = (rb.head + 1) % rb.capacity
	}
	rb.size += len(data)
}

func (rb *RingBuffer) peek(data []byte, from int) {
	for i := range data {
		data[i] = rb.buffer[(from+i)%rb.capacity]
	}
}

// AddFrame queues one frame. A frame that does not fit is dropped and
// counted; the queue is left untouched.
func (rb *RingBuffer) AddFrame(data []byte) bool {
	need := lengthPrefix + len(data)
	if len(data) > 0xFFFF || !rb.HasSpace(need) {
		rb.dropped++
		return false
	}
	rb.put([]byte{byte(len(data) >> 8), byte(len(data))})
	rb.put(data)
	rb.frames++
	return true
}

// PeekFrame returns the oldest frame without removing it.
func (rb *RingBuffer) PeekFrame() ([]byte, bool) {
	if rb.frames == 0 {
		return nil, false
	}
	var prefix [lengthPrefix]byte
	rb.peek(prefix[:], rb.tail)
	n := int(prefix[0])<<8 | int(prefix[1])
	out := make([]byte, n)
	rb.peek(out, rb.tail+lengthPrefix)
	return out, true
}

// GetFrame removes and returns the oldest frame.
func (rb *RingBuffer) GetFrame() ([]byte, bool) {
	out, ok := rb.PeekFrame()
	if !ok {
		return nil, false
	}
	used := lengthPrefix + len(out)
	rb.tail = (rb.tail + used) % rb.capacity
	rb.size -= used
	rb.frames--
	return out, true
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.head = 0
	rb.tail = 0
	rb.size = 0
	rb.frames = 0
}

func (rb *RingBuffer) FreeSpace() int {
	return rb.capacity - rb.size
}

func (rb *RingBuffer) DataSize() int {
	return rb.size
}

func (rb *RingBuffer) HasSpace(n int) bool {
	return rb.FreeSpace() >= n
}

// Frames is the number of queued frames.
func (rb *RingBuffer) Frames() int {
	return rb.frames
}

func (rb *RingBuffer) IsEmpty() bool {
	return rb.frames == 0
}

// Dropped counts frames refused for lack of space.
func (rb *RingBuffer) Dropped() int {
	return rb.dropped
}

func (rb *RingBuffer) Name() string {
	return rb.name
}

func (rb *RingBuffer) String() string {
	return fmt.Sprintf("RingBuffer[%s]: frames=%d bytes=%d/%d dropped=%d",
		rb.name, rb.frames, rb.size, rb.capacity, rb.dropped)
}
