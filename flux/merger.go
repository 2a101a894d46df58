// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// merger.go is the Bit Merger (spec.md §4.7): it reconciles several
// independently-decoded revolutions of the same track, bit by bit, into
// one majority-vote bit stream plus a confidence and weak-bit mask.
package flux

import "github.com/zellyn/uft/errors"

// Merged is a Merged Revolution: the bit-count-B result of combining
// rev_count decoded revolutions into one confidence-weighted stream.
type Merged struct {
	Bits       []byte // length ceil(B/8)
	Confidence []byte // per-byte confidence, 0-100, same length as Bits; each byte holds its last merged bit's confidence
	WeakMask   []byte // bit set => that bit position was weak
	WeakCount  int
}

func byteLen(bitCount int) int {
	return (bitCount + 7) / 8
}

func getBit(rev []byte, p int) (bit int, present bool) {
	if rev == nil {
		return 0, false
	}
	byteIdx, bitIdx := p/8, 7-p%8
	if byteIdx >= len(rev) {
		return 0, false
	}
	return int(rev[byteIdx]>>uint(bitIdx)) & 1, true
}

func setBit(buf []byte, p int, v int) {
	byteIdx, bitIdx := p/8, uint(7-p%8)
	if v != 0 {
		buf[byteIdx] |= 1 << bitIdx
	} else {
		buf[byteIdx] &^= 1 << bitIdx
	}
}

// Merge implements the per-bit majority vote described in spec.md
// §4.7: each of revs' non-nil entries must be byteLen(bitCount) bytes
// long. Ties output 0 with confidence 50 and are marked weak, as are
// contested bits where the winning side holds less than 75% of
// len(revs), nil revolutions included.
func Merge(revs [][]byte, bitCount int) (Merged, error) {
	revCount := len(revs)
	if revCount < 2 {
		return Merged{}, errors.InvalidArgumentf("Bit Merger requires at least 2 revolutions; got %d", revCount)
	}
	n := byteLen(bitCount)
	for _, rev := range revs {
		if rev != nil && len(rev) != n {
			return Merged{}, errors.InvalidArgumentf("revolution length %d does not match expected %d bytes for %d bits", len(rev), n, bitCount)
		}
	}

	m := Merged{
		Bits:       make([]byte, n),
		Confidence: make([]byte, n),
		WeakMask:   make([]byte, n),
	}

	for p := 0; p < bitCount; p++ {
		var ones, zeros int
		for _, rev := range revs {
			bit, present := getBit(rev, p)
			if !present {
				continue
			}
			if bit == 1 {
				ones++
			} else {
				zeros++
			}
		}

		var outBit, confidence int
		weak := false
		switch {
		case ones == zeros:
			outBit = 0
			confidence = 50
			weak = true
		case ones > zeros:
			outBit = 1
			confidence = 100 * ones / revCount
		default:
			outBit = 0
			confidence = 100 * zeros / revCount
		}
		if ones > 0 && zeros > 0 {
			maxVotes := ones
			if zeros > maxVotes {
				maxVotes = zeros
			}
			if float64(maxVotes)/float64(revCount) < 0.75 {
				weak = true
			}
		}

		setBit(m.Bits, p, outBit)
		byteIdx := p / 8
		m.Confidence[byteIdx] = byte(confidence)
		if weak {
			setBit(m.WeakMask, p, 1)
			m.WeakCount++
		}
	}
	return m, nil
}

// DetectWeak is the separate cross-check pass described in spec.md
// §4.7: for every bit position, if any two non-null revolutions
// disagree, the position is marked weak in the returned mask. It is a
// no-op (mask stays at 0) on bits where every present revolution
// agrees.
func DetectWeak(revs [][]byte, bitCount int) []byte {
	n := byteLen(bitCount)
	mask := make([]byte, n)
	for p := 0; p < bitCount; p++ {
		var sawBit bool
		var first int
		disagree := false
		for _, rev := range revs {
			bit, present := getBit(rev, p)
			if !present {
				continue
			}
			if !sawBit {
				first = bit
				sawBit = true
				continue
			}
			if bit != first {
				disagree = true
				break
			}
		}
		if disagree {
			setBit(mask, p, 1)
		}
	}
	return mask
}
