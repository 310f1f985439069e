package codec

// hammingCode describes a systematic Hamming code by its parity equations.
// Parity bit k sits at position dataBits+k and covers the data positions
// listed in checks[k].
type hammingCode struct {
	dataBits int
	checks   [][]int
	// syndrome to erroneous bit position, -1 when the syndrome is not a
	// single-bit pattern
	position []int
}

func newHammingCode(dataBits int, checks ...[]int) *hammingCode {
	h := &hammingCode{
		dataBits: dataBits,
		checks:   checks,
		position: make([]int, 1<<len(checks)),
	}
	for i := range h.position {
		h.position[i] = -1
	}
	for bit := 0; bit < dataBits; bit++ {
		var s int
		for k, eq := range checks {
			for _, p := range eq {
				if p == bit {
					s |= 1 << k
				}
			}
		}
		h.position[s] = bit
	}
	for k := range checks {
		h.position[1<<k] = dataBits + k
	}
	return h
}

func (h *hammingCode) width() int {
	return h.dataBits + len(h.checks)
}

func (h *hammingCode) parity(d []bool, k int) bool {
	p := false
	for _, i := range h.checks[k] {
		p = p != d[i]
	}
	return p
}

func (h *hammingCode) encode(d []bool) {
	if len(d) < h.width() {
		return
	}
	for k := range h.checks {
		d[h.dataBits+k] = h.parity(d, k)
	}
}

// decode corrects a single bit error in place. corrected reports that a bit
// was flipped; ok is false when the syndrome matches no single-bit error.
func (h *hammingCode) decode(d []bool) (corrected, ok bool) {
	if len(d) < h.width() {
		return false, false
	}
	var s int
	for k := range h.checks {
		if h.parity(d, k) != d[h.dataBits+k] {
			s |= 1 << k
		}
	}
	if s == 0 {
		return false, true
	}
	pos := h.position[s]
	if pos < 0 {
		return false, false
	}
	d[pos] = !d[pos]
	return true, true
}

var (
	hamming15113v1 = newHammingCode(11,
		[]int{0, 1, 2, 3, 4, 5, 6},
		[]int{0, 1, 2, 3, 7, 8, 9},
		[]int{0, 1, 4, 5, 7, 8, 10},
		[]int{0, 2, 4, 6, 7, 9, 10},
	)
	hamming15113v2 = newHammingCode(11,
		[]int{0, 1, 2, 3, 5, 7, 8},
		[]int{1, 2, 3, 4, 6, 8, 9},
		[]int{2, 3, 4, 5, 7, 9, 10},
		[]int{0, 1, 2, 4, 6, 7, 10},
	)
	hamming1393 = newHammingCode(9,
		[]int{0, 1, 3, 5, 6},
		[]int{0, 1, 2, 4, 6, 7},
		[]int{0, 1, 2, 3, 5, 7, 8},
		[]int{0, 2, 4, 5, 8},
	)
	// Extended (16,11,4): the variant 2 equations plus a fifth check whose
	// syndromes keep every single-bit pattern at odd weight, so double
	// errors never alias onto a correctable position.
	hamming16114 = newHammingCode(11,
		[]int{0, 1, 2, 3, 5, 7, 8},
		[]int{1, 2, 3, 4, 6, 8, 9},
		[]int{2, 3, 4, 5, 7, 9, 10},
		[]int{0, 1, 2, 4, 6, 7, 10},
		[]int{0, 2, 5, 6, 8, 9, 10},
	)
)

// EncodeHamming15113 sets bits 11-14 of d from data bits 0-10 using the
// given equation variant (1 or 2).
func EncodeHamming15113(d []bool, variant int) {
	hamming15113(variant).encode(d)
}

// DecodeHamming15113 corrects a single bit error in d and reports whether a
// bit was changed.
func DecodeHamming15113(d []bool, variant int) bool {
	corrected, _ := hamming15113(variant).decode(d)
	return corrected
}

func hamming15113(variant int) *hammingCode {
	if variant == 1 {
		return hamming15113v1
	}
	return hamming15113v2
}

// EncodeHamming1393 sets bits 9-12 of d. Used for the BPTC columns.
func EncodeHamming1393(d []bool) {
	hamming1393.encode(d)
}

// DecodeHamming1393 corrects a single bit error in d and reports whether a
// bit was changed.
func DecodeHamming1393(d []bool) bool {
	corrected, _ := hamming1393.decode(d)
	return corrected
}

// EncodeHamming16114 sets bits 11-15 of d. Used for the DMR embedded LC rows.
func EncodeHamming16114(d []bool) {
	hamming16114.encode(d)
}

// DecodeHamming16114 corrects one error and detects two. It returns false
// when the row is uncorrectable.
func DecodeHamming16114(d []bool) bool {
	_, ok := hamming16114.decode(d)
	return ok
}
