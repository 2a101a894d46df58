package flux

import (
	"testing"

	"github.com/zellyn/uft/errors"
)

func defaultOptions() Options {
	return Options{
		NominalRPM:        300,
		Tolerance:         0.1,
		UseIndexPulse:     false,
		AllowMissingIndex: true,
		MinRevolutions:    2,
		MaxRevolutions:    16,
	}
}

// syntheticFlux builds a flux stream of n whole revolutions at exactly
// the nominal rate for sampleRateHz, each made of evenly-sized
// intervals, so index inference should land boundaries exactly on
// revolution edges.
func syntheticFlux(sampleRateHz, nominalRPM float64, revCount, intervalsPerRev int) []uint32 {
	expected := sampleRateHz * 60 / nominalRPM
	perInterval := uint32(expected / float64(intervalsPerRev))
	flux := make([]uint32, 0, revCount*intervalsPerRev)
	for r := 0; r < revCount; r++ {
		for i := 0; i < intervalsPerRev; i++ {
			flux = append(flux, perInterval)
		}
	}
	return flux
}

func TestSolveInfersBoundariesAtNominalRate(t *testing.T) {
	const sampleRateHz = 24_000_000.0
	flux := syntheticFlux(sampleRateHz, 300, 4, 2000)
	res, err := Solve(flux, sampleRateHz, nil, defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Revolutions) != 4 {
		t.Fatalf("want 4 revolutions; got %d", len(res.Revolutions))
	}
	for _, rev := range res.Revolutions {
		if rev.Quality < 90 {
			t.Errorf("revolution %d: want quality >= 90; got %d (rpm=%.2f)", rev.Number, rev.Quality, rev.RPM)
		}
	}
	if !res.TimingStable {
		t.Error("expected a perfectly regular stream to report timing stable")
	}
	if !res.IndexConsistent {
		t.Error("expected index_consistent for inferred boundaries")
	}
}

func TestSolveFallsBackToPartitioning(t *testing.T) {
	const sampleRateHz = 24_000_000.0
	// A single giant interval defeats index inference entirely, so the
	// strict-equal-partitioning fallback must kick in.
	flux := []uint32{uint32(sampleRateHz * 60 / 300 * 4)}
	opts := defaultOptions()
	opts.MinRevolutions = 2
	res, err := Solve(flux, sampleRateHz, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Revolutions) < opts.MinRevolutions {
		t.Fatalf("want at least %d revolutions from partitioning; got %d", opts.MinRevolutions, len(res.Revolutions))
	}
}

func TestSolveRejectsBadOptions(t *testing.T) {
	if _, err := Solve([]uint32{1}, 0, nil, defaultOptions()); !errors.IsInvalidArgument(err) {
		t.Errorf("expected errors.InvalidArgument for zero sample rate; got %v", err)
	}
	opts := defaultOptions()
	opts.MinRevolutions = 1
	if _, err := Solve([]uint32{1}, 1000, nil, opts); !errors.IsInvalidArgument(err) {
		t.Errorf("expected errors.InvalidArgument for MinRevolutions < 2; got %v", err)
	}
}

func TestExtractRoundtrip(t *testing.T) {
	const sampleRateHz = 24_000_000.0
	flux := syntheticFlux(sampleRateHz, 300, 3, 1000)
	res, err := Solve(flux, sampleRateHz, nil, defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint32, len(flux))
	written, err := Extract(flux, res.Revolutions, 1, out)
	if err != nil {
		t.Fatal(err)
	}
	if written != 1000 {
		t.Errorf("want 1000 intervals for revolution 1; got %d", written)
	}

	if _, err := Extract(flux, res.Revolutions, 99, out); !errors.IsOutOfRange(err) {
		t.Errorf("expected errors.OutOfRange for bad index; got %v", err)
	}

	tooSmall := make([]uint32, 10)
	written, err = Extract(flux, res.Revolutions, 0, tooSmall)
	if !errors.IsBufferTooSmall(err) {
		t.Errorf("expected errors.BufferTooSmall; got %v", err)
	}
	if written != 1000 {
		t.Errorf("want required size 1000 reported; got %d", written)
	}
}
