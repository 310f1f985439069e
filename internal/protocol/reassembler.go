package protocol

// Reassembler collects the fragments of an embedded signalling message.
// A message is released only once every index has arrived and decode
// accepts it. A Reassembler is owned by a single session goroutine.
type Reassembler struct {
	fragments int
	size      int
	buf       []byte
	have      []bool
	decode    func([]byte) ([]byte, error)
}

// NewReassembler returns a reassembler for fragments pieces of size bytes.
// decode validates the joined buffer and returns the message or an error
// wrapping ErrCRCMismatch.
func NewReassembler(fragments, size int, decode func([]byte) ([]byte, error)) *Reassembler {
	return &Reassembler{
		fragments: fragments,
		size:      size,
		buf:       make([]byte, fragments*size),
		have:      make([]bool, fragments),
		decode:    decode,
	}
}

// Add stores fragment index. It returns (nil, nil) while the set is
// incomplete and the decoded message once it is complete and valid, after
// which the reassembler starts over. A complete set that fails decode
// keeps its fragments so that a repeated fragment can repair it.
func (r *Reassembler) Add(index int, frag []byte) ([]byte, error) {
	if index < 0 || index >= r.fragments || len(frag) < r.size {
		return nil, ErrFraming
	}
	copy(r.buf[index*r.size:], frag[:r.size])
	r.have[index] = true

	for _, ok := range r.have {
		if !ok {
			return nil, nil
		}
	}

	msg, err := r.decode(r.buf)
	if err != nil {
		return nil, err
	}
	r.Reset()
	return msg, nil
}

// Complete reports whether every fragment is present.
func (r *Reassembler) Complete() bool {
	for _, ok := range r.have {
		if !ok {
			return false
		}
	}
	return true
}

// Reset discards all collected fragments.
func (r *Reassembler) Reset() {
	clear(r.buf)
	clear(r.have)
}
