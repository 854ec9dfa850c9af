// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package calc provides the checked fixed-point arithmetic used by the fill
// engine and the tip accounting. Balance arithmetic never wraps silently: the
// checked helpers report overflow to the caller, and the widened helpers do
// their intermediate work in a 128-bit domain.
package calc

import "math/bits"

// MaxBps is the number of basis points in the whole: 1 bps = 0.01%.
const MaxBps = 10_000

// CheckedAdd returns a + b, with ok = false on overflow.
func CheckedAdd(a, b uint64) (sum uint64, ok bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// CheckedSub returns a - b, with ok = false when b > a.
func CheckedSub(a, b uint64) (diff uint64, ok bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// MulDivCeil computes ceil(a * b / d) with a 128-bit intermediate product. ok
// is false when d is zero or the quotient does not fit in a uint64.
func MulDivCeil(a, b, d uint64) (q uint64, ok bool) {
	hi, lo := bits.Mul64(a, b)
	if d == 0 || hi >= d {
		return 0, false
	}
	q, r := bits.Div64(hi, lo, d)
	if r != 0 {
		if q == ^uint64(0) {
			return 0, false
		}
		q++
	}
	return q, true
}

// BasisPointsCeil returns ceil(amt * bps / 10000). The result never exceeds
// amt for bps in [0, 10000], so the ceiling division cannot overflow.
func BasisPointsCeil(amt uint64, bps uint16) uint64 {
	q, _ := MulDivCeil(amt, uint64(bps), MaxBps)
	return q
}
