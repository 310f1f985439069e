package codec

// RingBuffer is a bounded byte FIFO sitting between the session and the
// vocoder. Writes that do not fit are dropped and the buffer is flushed,
// so a stalled consumer costs audio but never blocks the network path.
type RingBuffer struct {
	name    string
	buffer  []uint8
	length  uint32
	iPtr    uint32
	oPtr    uint32
	dropped uint64
}

// NewRingBuffer creates a buffer holding up to length-1 bytes. A zero
// length is raised to one.
func NewRingBuffer(length uint32, name string) *RingBuffer {
	if length == 0 {
		length = 1
	}
	return &RingBuffer{
		name:   name,
		buffer: make([]uint8, length),
		length: length,
	}
}

// AddData appends data. It returns false, clearing the buffer, when data
// does not fit.
func (rb *RingBuffer) AddData(data []uint8) bool {
	n := uint32(len(data))
	if n >= rb.FreeSpace() {
		rb.dropped += uint64(n)
		rb.Clear()
		return false
	}
	for _, b := range data {
		rb.buffer[rb.iPtr] = b
		rb.iPtr++
		if rb.iPtr == rb.length {
			rb.iPtr = 0
		}
	}
	return true
}

// GetData removes and returns n bytes, or false when fewer are queued.
func (rb *RingBuffer) GetData(n uint32) ([]uint8, bool) {
	out, ok := rb.Peek(n)
	if !ok {
		return nil, false
	}
	rb.oPtr = (rb.oPtr + n) % rb.length
	return out, true
}

// Peek returns n bytes without consuming them.
func (rb *RingBuffer) Peek(n uint32) ([]uint8, bool) {
	if rb.DataSize() < n {
		return nil, false
	}
	out := make([]uint8, n)
	ptr := rb.oPtr
	for i := range out {
		out[i] = rb.buffer[ptr]
		ptr++
		if ptr == rb.length {
			ptr = 0
		}
	}
	return out, true
}

// Clear discards all queued bytes.
func (rb *RingBuffer) Clear() {
	rb.iPtr = 0
	rb.oPtr = 0
}

// FreeSpace returns the number of bytes that can still be written plus one.
func (rb *RingBuffer) FreeSpace() uint32 {
	switch {
	case rb.oPtr > rb.iPtr:
		return rb.oPtr - rb.iPtr
	case rb.iPtr > rb.oPtr:
		return rb.length - (rb.iPtr - rb.oPtr)
	default:
		return rb.length
	}
}

// DataSize returns the number of queued bytes.
func (rb *RingBuffer) DataSize() uint32 {
	return rb.length - rb.FreeSpace()
}

// HasSpace reports whether n more bytes fit.
func (rb *RingBuffer) HasSpace(n uint32) bool {
	return rb.FreeSpace() > n
}

// IsEmpty reports whether nothing is queued.
func (rb *RingBuffer) IsEmpty() bool {
	return rb.oPtr == rb.iPtr
}

// Dropped returns the number of bytes lost to overflow.
func (rb *RingBuffer) Dropped() uint64 {
	return rb.dropped
}

// Name identifies the buffer in log output.
func (rb *RingBuffer) Name() string {
	return rb.name
}
