// Package modulo provides wrap-aware arithmetic over a configurable modular
// integer space. It is used to compare and combine TCP sequence and
// acknowledgement numbers, which wrap around after 2^32 (here widened to a
// 33-bit space to give callers headroom when accumulating next-sequence
// values).
package modulo

// Invalid is the sentinel for an absent value. Add, Diff and Sub return
// Invalid when either operand is Invalid; Max treats Invalid as absent and
// returns the other operand. Wrap, Cmp, RangeOverlap and MapIntoSameTimeline
// do not check for Invalid and treat it as the ordinary integer -1.
const Invalid int64 = -1

// TCPSeqMax is the modulus used for 33-bit TCP sequence arithmetic
// (2^33 - 1), matching the headroom the original implementation reserves
// above the 32-bit wire field so that nxtseq computations never alias.
const TCPSeqMax int64 = (1 << 33) - 1

// Arith performs wrap-aware comparisons and arithmetic over [0, Max].
type Arith struct {
	max     int64
	halfMax int64
}

// New returns an Arith operating over the closed interval [0, max].
func New(max int64) Arith {
	return Arith{max: max, halfMax: (max + 1) >> 1}
}

// Modulus returns the configured maximum value, i.e. the modulus minus one.
func (a Arith) Modulus() int64 {
	return a.max
}

// Wrap returns x folded into the canonical range [0, a.max].
func (a Arith) Wrap(x int64) int64 {
	m := a.max + 1
	return ((x % m) + m) % m
}

// Add returns wrap(x + y), or Invalid if either operand is Invalid.
func (a Arith) Add(x, y int64) int64 {
	if x == Invalid || y == Invalid {
		return Invalid
	}
	return a.Wrap(x + y)
}

// Diff returns the non-negative wrap of (x - y), in [0, a.max]. Callers that
// know x is the later value in modular order use this to recover the number
// of bytes (or ticks) between y and x.
func (a Arith) Diff(x, y int64) int64 {
	if x == Invalid || y == Invalid {
		return Invalid
	}
	return a.Wrap(x - y)
}

// Sub returns the signed distance (x - y) in [-(max+1)/2, (max+1)/2 - 1].
func (a Arith) Sub(x, y int64) int64 {
	if x == Invalid || y == Invalid {
		return Invalid
	}
	d := a.Wrap(x - y)
	if d >= (a.max+1)>>1 {
		return d - (a.max + 1)
	}
	return d
}

// Cmp compares x and y using the short-arc rule: values within half the
// modulus of each other are ordered normally; farther apart, the
// presumption is that x wrapped past y. Exactly half the modulus apart is
// defined as x < y. Returns -1, 0, or +1.
func (a Arith) Cmp(x, y int64) int {
	d := a.Wrap(y - x)
	switch {
	case d == 0:
		return 0
	case d > (a.max+1)>>1:
		return 1
	default:
		return -1
	}
}

// Max returns the greater of x and y per Cmp. An Invalid operand is treated
// as absent: the other operand wins rather than propagating Invalid.
func (a Arith) Max(x, y int64) int64 {
	if x == Invalid {
		return y
	}
	if y == Invalid {
		return x
	}
	if a.Cmp(x, y) < 0 {
		return y
	}
	return x
}

// RangeOverlap reports whether the closed ranges [x1,x2] and [y1,y2]
// overlap at all under Cmp.
func (a Arith) RangeOverlap(x1, x2, y1, y2 int64) bool {
	if a.Cmp(y2, x1) < 0 || a.Cmp(y1, x2) > 0 {
		return false
	}
	return true
}

// MapIntoSameTimeline maps x onto the same run (0..max, without wrapping)
// as ref, so that the two can be compared or subtracted with ordinary
// arithmetic. Only valid when x and ref are within half the modulus of one
// another; farther apart, the mapping aliases.
func (a Arith) MapIntoSameTimeline(x, ref int64) int64 {
	if x > ref+a.halfMax {
		return x - (a.max + 1)
	}
	if ref > x+a.halfMax {
		return x + (a.max + 1)
	}
	return x
}
