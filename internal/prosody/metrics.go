package prosody

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ComputePitchMetrics reduces a pitch contour to mean, population standard
// deviation, range and mean frame-to-frame slope. Unvoiced (NaN) frames are
// excluded from every statistic; the slope only uses adjacent pairs where
// both frames are voiced.
func ComputePitchMetrics(pitch []float64) (PitchMetrics, error) {
	voiced := make([]float64, 0, len(pitch))
	for _, f := range pitch {
		if !math.IsNaN(f) {
			voiced = append(voiced, f)
		}
	}
	if len(voiced) == 0 {
		return PitchMetrics{}, fmt.Errorf("%w: no voiced frames", ErrDegenerateMetrics)
	}

	var slopeSum float64
	var slopeN int
	for i := 1; i < len(pitch); i++ {
		if math.IsNaN(pitch[i]) || math.IsNaN(pitch[i-1]) {
			continue
		}
		slopeSum += pitch[i] - pitch[i-1]
		slopeN++
	}
	if slopeN == 0 {
		return PitchMetrics{}, fmt.Errorf("%w: no consecutive voiced frames", ErrDegenerateMetrics)
	}

	mean, std := stat.PopMeanStdDev(voiced, nil)
	m := PitchMetrics{
		MeanF0:  mean,
		F0Std:   std,
		F0Range: floats.Max(voiced) - floats.Min(voiced),
		F0Slope: slopeSum / float64(slopeN),
	}
	if !allFinite(m.MeanF0, m.F0Std, m.F0Range, m.F0Slope) {
		return PitchMetrics{}, fmt.Errorf("%w: non-finite pitch statistics", ErrDegenerateMetrics)
	}
	return m, nil
}

// ComputeIntensityMetrics reads mean and standard deviation from the contour.
func ComputeIntensityMetrics(intensity Intensity) (IntensityMetrics, error) {
	if intensity == nil || len(intensity.Values()) == 0 {
		return IntensityMetrics{}, fmt.Errorf("%w: empty intensity contour", ErrDegenerateMetrics)
	}
	m := IntensityMetrics{
		MeanIntensity: intensity.Mean(),
		IntensityStd:  intensity.StdDev(),
	}
	if !allFinite(m.MeanIntensity, m.IntensityStd) {
		return IntensityMetrics{}, fmt.Errorf("%w: non-finite intensity statistics", ErrDegenerateMetrics)
	}
	return m, nil
}

// EstimateSpeakingRate returns words per minute assuming one word every
// secondsPerWord seconds, rounded to one decimal. It does not look at the
// signal.
func EstimateSpeakingRate(duration, secondsPerWord float64) float64 {
	words := duration / secondsPerWord
	return round1(words * 60)
}

// CountPauses counts falling edges through threshold = ratio * mean: frames
// where the previous value is at or above the threshold and the current one
// is strictly below. The first frame never counts.
func CountPauses(values []float64, mean, ratio float64) int {
	threshold := mean * ratio
	pauses := 0
	for i := 1; i < len(values); i++ {
		if values[i] < threshold && values[i-1] >= threshold {
			pauses++
		}
	}
	return pauses
}

func allFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
