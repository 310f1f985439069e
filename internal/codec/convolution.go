package codec

// Rate 1/2, K=5 convolutional code shared by YSF, NXDN and M17:
// G1 = 1 + D^3 + D^4, G2 = 1 + D + D^2 + D^4, output G1 then G2. Every
// frame is flushed with a four bit zero tail, so a frame of n payload bits
// occupies 2*(n+CONV_TAIL_BITS) coded bits.
const (
	CONV_K          = 5
	CONV_TAIL_BITS  = CONV_K - 1
	CONV_NUM_STATES = 1 << CONV_TAIL_BITS
	CONV_MAX_STEPS  = 300

	convStatesD2 = CONV_NUM_STATES / 2
	// Largest branch metric: both symbols at full distance.
	convMaxMetric = 4
)

// Symbol values for the soft decoder. Hard bits map to 0 and 2; punctured
// positions are fed as SYMBOL_ERASURE, equidistant from both.
const (
	SYMBOL_ZERO    uint8 = 0
	SYMBOL_ERASURE uint8 = 1
	SYMBOL_ONE     uint8 = 2
)

var (
	convBranch1 = [convStatesD2]uint8{0, 0, 0, 0, 1, 1, 1, 1}
	convBranch2 = [convStatesD2]uint8{0, 1, 1, 0, 0, 1, 1, 0}
)

// ConvEncode encodes nBits payload bits plus the zero tail and returns the
// packed 2*(nBits+4) output bits.
func ConvEncode(in []byte, nBits int) []byte {
	src := BitVector(in)
	steps := nBits + CONV_TAIL_BITS
	out := NewBitVector(2 * steps)

	var d1, d2, d3, d4 bool
	for i := 0; i < steps; i++ {
		d := i < nBits && src.Bit(i)
		g1 := d != d3 != d4
		g2 := d != d1 != d2 != d4
		d4, d3, d2, d1 = d3, d2, d1, d

		out.SetBit(2*i, g1)
		out.SetBit(2*i+1, g2)
	}
	return out
}

// Viterbi is a 16-state trellis decoder. Feed it one symbol pair per step
// with Decode, then recover the payload with Chainback. A Viterbi value is
// not safe for concurrent use.
type Viterbi struct {
	metrics1  [CONV_NUM_STATES]uint16
	metrics2  [CONV_NUM_STATES]uint16
	old       *[CONV_NUM_STATES]uint16
	new       *[CONV_NUM_STATES]uint16
	decisions [CONV_MAX_STEPS]uint16
	dp        int
}

// NewViterbi returns a decoder ready for Decode.
func NewViterbi() *Viterbi {
	v := &Viterbi{}
	v.Start()
	return v
}

// Start resets the path metrics for a new frame.
func (v *Viterbi) Start() {
	v.metrics1 = [CONV_NUM_STATES]uint16{}
	v.metrics2 = [CONV_NUM_STATES]uint16{}
	v.old = &v.metrics1
	v.new = &v.metrics2
	v.dp = 0
}

// Decode advances the trellis by one step. s0 and s1 are soft symbols in
// the range SYMBOL_ZERO..SYMBOL_ONE. Steps past CONV_MAX_STEPS are ignored.
func (v *Viterbi) Decode(s0, s1 uint8) {
	if v.dp >= CONV_MAX_STEPS {
		return
	}
	var decision uint16
	for i := 0; i < convStatesD2; i++ {
		j := i * 2
		metric := symbolCost(convBranch1[i], s0) + symbolCost(convBranch2[i], s1)

		m0 := v.old[i] + metric
		m1 := v.old[i+convStatesD2] + (convMaxMetric - metric)
		if m0 >= m1 {
			v.new[j] = m1
			decision |= 1 << uint(j)
		} else {
			v.new[j] = m0
		}

		m0 = v.old[i] + (convMaxMetric - metric)
		m1 = v.old[i+convStatesD2] + metric
		if m0 >= m1 {
			v.new[j+1] = m1
			decision |= 1 << uint(j+1)
		} else {
			v.new[j+1] = m0
		}
	}
	v.decisions[v.dp] = decision
	v.dp++
	v.old, v.new = v.new, v.old
}

// Chainback walks the decisions from the zero end state and writes nBits
// recovered payload bits into out. It returns the final best path metric,
// which approximates the number of symbol errors times two.
func (v *Viterbi) Chainback(out []byte, nBits int) uint16 {
	bits := BitVector(out)
	dp := v.dp
	state := uint32(0)
	for n := nBits; n > 0 && dp > 0; {
		n--
		dp--
		i := state >> (9 - CONV_K)
		bit := uint32(v.decisions[dp]>>i) & 1
		state = bit<<7 | state>>1
		bits.SetBit(n, bit != 0)
	}
	return v.old[0]
}

func symbolCost(expected, s uint8) uint16 {
	e := 2 * expected
	if e > s {
		return uint16(e - s)
	}
	return uint16(s - e)
}

// ConvDecode runs a hard-decision decode over 2*(nBits+4) packed bits and
// returns the nBits payload bits together with the path metric.
func ConvDecode(in []byte, nBits int) ([]byte, uint16) {
	src := BitVector(in)
	v := NewViterbi()
	for i := 0; i < nBits+CONV_TAIL_BITS; i++ {
		v.Decode(hardSymbol(src.Bit(2*i)), hardSymbol(src.Bit(2*i+1)))
	}
	out := NewBitVector(nBits)
	metric := v.Chainback(out, nBits)
	return out, metric
}

// ConvDecodeSoft decodes an unpacked symbol stream, one symbol per coded
// bit, as produced by Depuncture.
func ConvDecodeSoft(symbols []uint8, nBits int) ([]byte, uint16) {
	v := NewViterbi()
	for i := 0; i+1 < len(symbols) && i/2 < nBits+CONV_TAIL_BITS; i += 2 {
		v.Decode(symbols[i], symbols[i+1])
	}
	out := NewBitVector(nBits)
	metric := v.Chainback(out, nBits)
	return out, metric
}

func hardSymbol(b bool) uint8 {
	if b {
		return SYMBOL_ONE
	}
	return SYMBOL_ZERO
}
