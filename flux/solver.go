// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// Package flux is the Revolution Solver and Bit Merger: it turns a raw
// flux interval stream (and optional index-pulse positions) into a
// segmented, quality-scored sequence of disk revolutions, and it
// reconciles several independently-decoded revolutions of the same
// track into one confidence-weighted bit stream.
package flux

import (
	"math"
	"sort"

	"github.com/zellyn/uft/errors"
)

// Options configures the Revolution Solver.
type Options struct {
	NominalRPM        float64 // 300 or 360
	Tolerance         float64 // (0, 1]
	UseIndexPulse     bool
	AllowMissingIndex bool
	MinRevolutions    int // >= 2
	MaxRevolutions    int // <= 16
}

// Revolution is one Revolution Record: a single disk rotation located
// within a flux sample stream, with its derived timing and quality.
type Revolution struct {
	Number        int
	IndexPosition uint64
	StartSample   uint64
	EndSample     uint64
	SampleCount   uint64
	DurationUs    float64
	RPM           float64
	DriftUs       float64
	Quality       int
	IndexValid    bool
}

// Result is the Revolution Result: the segmented revolutions plus
// aggregate statistics across them.
type Result struct {
	Revolutions      []Revolution
	AvgRPM           float64
	RPMVariance      float64
	MinRPM           float64
	MaxRPM           float64
	AvgDurationUs    float64
	DurationVariance float64
	IndexConsistent  bool
	TimingStable     bool
	OverallQuality   float64
	BestRevolution   int
}

const maxRevolutionCap = 16

// cumulativePositions returns the absolute sample position of the
// start of each flux interval, plus one trailing entry for the total
// sample span (len(flux)+1 entries).
func cumulativePositions(flux []uint32) []uint64 {
	positions := make([]uint64, len(flux)+1)
	var total uint64
	for i, interval := range flux {
		positions[i] = total
		total += uint64(interval)
	}
	positions[len(flux)] = total
	return positions
}

// inferBoundaries implements §4.6's index inference: a ±10% tolerance
// band around the expected samples-per-revolution, measured as
// cumulative flux since the last accepted boundary.
func inferBoundaries(positions []uint64, expected float64) []uint64 {
	boundaries := []uint64{0}
	lastBoundary := uint64(0)
	lo, hi := expected*0.9, expected*1.1
	for _, pos := range positions[1:] {
		cum := float64(pos - lastBoundary)
		if cum >= lo && cum <= hi {
			boundaries = append(boundaries, pos)
			lastBoundary = pos
		}
	}
	return boundaries
}

// partitionBoundaries implements the strict-equal-partitioning
// fallback: boundaries placed every `expected` samples across the
// total span.
func partitionBoundaries(total uint64, expected float64) []uint64 {
	var boundaries []uint64
	for b := 0.0; b <= float64(total)+expected/2; b += expected {
		pos := uint64(math.Round(b))
		if pos > total {
			pos = total
		}
		boundaries = append(boundaries, pos)
		if pos == total {
			break
		}
	}
	return boundaries
}

// Solve runs the Revolution Solver (spec.md §4.6) over a flux sample
// stream at sampleRateHz, using indexPositions as explicit index-pulse
// boundaries when opts.UseIndexPulse is set and indexPositions is
// non-empty, otherwise inferring boundaries from the flux itself.
func Solve(flux []uint32, sampleRateHz float64, indexPositions []uint64, opts Options) (Result, error) {
	if sampleRateHz <= 0 {
		return Result{}, errors.InvalidArgumentf("sampleRateHz must be positive")
	}
	if opts.NominalRPM <= 0 {
		return Result{}, errors.InvalidArgumentf("NominalRPM must be positive")
	}
	if opts.Tolerance <= 0 || opts.Tolerance > 1 {
		return Result{}, errors.InvalidArgumentf("Tolerance must be in (0, 1]")
	}
	if opts.MinRevolutions < 2 {
		return Result{}, errors.InvalidArgumentf("MinRevolutions must be >= 2")
	}
	if opts.MaxRevolutions > maxRevolutionCap || opts.MaxRevolutions <= 0 {
		return Result{}, errors.InvalidArgumentf("MaxRevolutions must be in (0, %d]", maxRevolutionCap)
	}
	if len(flux) == 0 {
		return Result{}, errors.NoDataf("flux stream is empty")
	}

	positions := cumulativePositions(flux)
	total := positions[len(positions)-1]
	expected := sampleRateHz * 60 / opts.NominalRPM

	var boundaries []uint64
	usingSuppliedIndex := opts.UseIndexPulse && len(indexPositions) > 0
	if usingSuppliedIndex {
		boundaries = append([]uint64{0}, indexPositions...)
		if boundaries[len(boundaries)-1] != total {
			boundaries = append(boundaries, total)
		}
	} else {
		boundaries = inferBoundaries(positions, expected)
		if opts.AllowMissingIndex && len(boundaries) < opts.MinRevolutions+1 {
			boundaries = partitionBoundaries(total, expected)
		}
	}
	if len(boundaries) < 2 {
		return Result{}, errors.InsufficientDataf("could not locate any revolution boundaries")
	}

	nominalDurationUs := 60e6 / opts.NominalRPM
	var revs []Revolution
	for i := 0; i < len(boundaries)-1 && len(revs) < opts.MaxRevolutions; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end <= start {
			continue
		}
		count := end - start
		durationUs := float64(count) * 1e6 / sampleRateHz
		rpm := 60e6 / durationUs
		drift := durationUs - nominalDurationUs

		quality := 0
		lo, hi := opts.NominalRPM*(1-opts.Tolerance), opts.NominalRPM*(1+opts.Tolerance)
		if rpm >= lo && rpm <= hi {
			q := 100 * (1 - math.Abs(rpm-opts.NominalRPM)/(opts.NominalRPM*opts.Tolerance))
			quality = clampInt(int(math.Round(q)), 0, 100)
		}

		revs = append(revs, Revolution{
			Number:        i,
			IndexPosition: start,
			StartSample:   start,
			EndSample:     end,
			SampleCount:   count,
			DurationUs:    durationUs,
			RPM:           rpm,
			DriftUs:       drift,
			Quality:       quality,
			IndexValid:    true,
		})
	}
	if len(revs) == 0 {
		return Result{}, errors.InsufficientDataf("no revolutions survived boundary construction")
	}

	return Result{
		Revolutions:    revs,
		BestRevolution: 0,
	}.withStatistics(nominalDurationUs), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// withStatistics fills in the aggregate fields of a Result from its
// already-populated Revolutions slice.
func (r Result) withStatistics(nominalDurationUs float64) Result {
	n := len(r.Revolutions)
	var sumRPM, sumDur, sumQuality float64
	r.MinRPM, r.MaxRPM = math.Inf(1), math.Inf(-1)
	r.IndexConsistent = true
	best, bestQuality := 0, -1
	for i, rev := range r.Revolutions {
		sumRPM += rev.RPM
		sumDur += rev.DurationUs
		sumQuality += float64(rev.Quality)
		if rev.RPM < r.MinRPM {
			r.MinRPM = rev.RPM
		}
		if rev.RPM > r.MaxRPM {
			r.MaxRPM = rev.RPM
		}
		if !rev.IndexValid {
			r.IndexConsistent = false
		}
		if rev.Quality > bestQuality {
			bestQuality = rev.Quality
			best = i
		}
	}
	r.AvgRPM = sumRPM / float64(n)
	r.AvgDurationUs = sumDur / float64(n)
	r.OverallQuality = sumQuality / float64(n)
	r.BestRevolution = best

	if n > 1 {
		var varRPM, varDur float64
		for _, rev := range r.Revolutions {
			varRPM += (rev.RPM - r.AvgRPM) * (rev.RPM - r.AvgRPM)
			varDur += (rev.DurationUs - r.AvgDurationUs) * (rev.DurationUs - r.AvgDurationUs)
		}
		r.RPMVariance = varRPM / float64(n-1)
		r.DurationVariance = varDur / float64(n-1)
	}
	r.TimingStable = math.Sqrt(r.DurationVariance) < 0.005*nominalDurationUs
	return r
}

// Extract copies the flux intervals spanning revs[k]'s sample range
// into out, returning the number of intervals written (or required,
// on errors.BufferTooSmall).
func Extract(flux []uint32, revs []Revolution, k int, out []uint32) (written int, err error) {
	if k < 0 || k >= len(revs) {
		return 0, errors.OutOfRangef("revolution index %d out of range [0, %d)", k, len(revs))
	}
	rev := revs[k]
	positions := cumulativePositions(flux)
	startIdx := sort.Search(len(positions), func(i int) bool { return positions[i] >= rev.StartSample })
	if startIdx >= len(positions) || positions[startIdx] != rev.StartSample {
		return 0, errors.NotFoundf("revolution %d start sample %d not found in flux stream", k, rev.StartSample)
	}
	endIdx := sort.Search(len(positions), func(i int) bool { return positions[i] >= rev.EndSample })
	if endIdx > len(flux) {
		endIdx = len(flux)
	}
	written = endIdx - startIdx
	if len(out) < written {
		return written, errors.BufferTooSmallf("need %d flux intervals; buffer holds %d", written, len(out))
	}
	copy(out, flux[startIdx:startIdx+written])
	return written, nil
}
