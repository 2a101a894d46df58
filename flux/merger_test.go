package flux

import (
	"testing"

	"github.com/zellyn/uft/errors"
)

func TestMergeMajorityVote(t *testing.T) {
	// 3 revolutions, 8 bits each. Bit 0: all agree on 1. Bit 1: 2-1 split
	// toward 0. Bits 2-7: all agree on 0.
	a := []byte{0b11000000}
	b := []byte{0b10000000}
	c := []byte{0b10000000}
	revs := [][]byte{a, b, c}

	merged, err := Merge(revs, 8)
	if err != nil {
		t.Fatal(err)
	}
	if getOut(merged.Bits, 0) != 1 {
		t.Error("want bit 0 = 1 (unanimous)")
	}
	if getOut(merged.Bits, 1) != 0 {
		t.Error("want bit 1 = 0 (2-1 majority)")
	}
	if merged.Confidence[0] != 100 {
		t.Errorf("want 100%% confidence for byte 0, whose last bit is unanimous; got %d", merged.Confidence[0])
	}
}

func getOut(bits []byte, p int) int {
	bit, _ := getBit(bits, p)
	return bit
}

func TestMergeTieIsWeak(t *testing.T) {
	a := []byte{0b10000000}
	b := []byte{0b00000000}
	revs := [][]byte{a, b}
	merged, err := Merge(revs, 8)
	if err != nil {
		t.Fatal(err)
	}
	if getOut(merged.Bits, 0) != 0 {
		t.Error("want tie to resolve to bit 0")
	}
	if merged.Confidence[0] != 50 {
		t.Errorf("want 50%% confidence on a tie; got %d", merged.Confidence[0])
	}
	weakBit, _ := getBit(merged.WeakMask, 0)
	if weakBit != 1 {
		t.Error("want tie marked weak")
	}
	if merged.WeakCount != 1 {
		t.Errorf("want weak_count=1; got %d", merged.WeakCount)
	}
}

func TestMergeLowMarginIsWeak(t *testing.T) {
	// 4 revolutions: 3 say 1, 1 says 0. 3/4 = 0.75, not < 0.75, so NOT weak.
	revs := [][]byte{{0x80}, {0x80}, {0x80}, {0x00}}
	merged, err := Merge(revs, 8)
	if err != nil {
		t.Fatal(err)
	}
	if weak, _ := getBit(merged.WeakMask, 0); weak != 0 {
		t.Error("want 3/4 majority to not be marked weak")
	}

	// 5 revolutions, 3-2 split: 3/5 = 0.6 < 0.75, so weak despite a clear winner.
	revs = [][]byte{{0x80}, {0x80}, {0x80}, {0x00}, {0x00}}
	merged, err = Merge(revs, 8)
	if err != nil {
		t.Fatal(err)
	}
	if weak, _ := getBit(merged.WeakMask, 0); weak != 1 {
		t.Error("want 3/5 majority to be marked weak")
	}
}

func TestMergeRejectsTooFewRevolutions(t *testing.T) {
	if _, err := Merge([][]byte{{0x00}}, 8); !errors.IsInvalidArgument(err) {
		t.Errorf("expected errors.InvalidArgument for a single revolution; got %v", err)
	}
}

func TestDetectWeakCrossCheck(t *testing.T) {
	agree := [][]byte{{0x80}, {0x80}, {0x80}}
	if mask := DetectWeak(agree, 8); mask[0] != 0 {
		t.Errorf("want no-op on unanimous bits; got mask %08b", mask[0])
	}

	disagree := [][]byte{{0x80}, {0x00}, {0x80}}
	mask := DetectWeak(disagree, 8)
	if bit, _ := getBit(mask, 0); bit != 1 {
		t.Error("want bit 0 marked weak on disagreement")
	}
}
