package prosody

import (
	"fmt"
	"math"
)

// bandCutoffs maps score lower bounds to bands, highest first.
var bandCutoffs = []struct {
	minScore float64
	band     int
}{
	{85, 12},
	{75, 11},
	{65, 10},
	{55, 9},
	{45, 8},
}

// Band scale limits.
const (
	MinBand = 7
	MaxBand = 12
)

// Score combines pitch variability, intensity variability and pause
// frequency into a value clamped to [0, 100].
func (c Calibration) Score(pitchStd, intensityStd float64, pauses int) float64 {
	pitchVariation := pitchStd / c.PitchStdNormalizer
	intensityVariation := intensityStd / c.IntensityStdNormalizer
	score := pitchVariation*c.PitchWeight +
		intensityVariation*c.IntensityWeight +
		(1-float64(pauses)/c.PauseNormalizer)*c.PauseWeight

	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}

// Band maps a score to the 7–12 proficiency scale; the first cut-off the
// score reaches wins.
func Band(score float64) int {
	for _, c := range bandCutoffs {
		if score >= c.minScore {
			return c.band
		}
	}
	return MinBand
}

// Analyze runs the metrics calculator, the scoring engine and the feedback
// classifiers over one recording's features.
func (c Calibration) Analyze(f Features) (*Analysis, error) {
	if math.IsNaN(f.Duration) || math.IsInf(f.Duration, 0) || f.Duration <= 0 {
		return nil, fmt.Errorf("%w: invalid duration %v", ErrDegenerateMetrics, f.Duration)
	}

	pitch, err := ComputePitchMetrics(f.Pitch)
	if err != nil {
		return nil, err
	}
	intensity, err := ComputeIntensityMetrics(f.Intensity)
	if err != nil {
		return nil, err
	}

	rate := EstimateSpeakingRate(f.Duration, c.SecondsPerWord)
	pauses := CountPauses(f.Intensity.Values(), intensity.MeanIntensity, c.PauseThresholdRatio)
	score := c.Score(pitch.F0Std, intensity.IntensityStd, pauses)

	return &Analysis{
		Duration:         f.Duration,
		PitchMetrics:     pitch,
		IntensityMetrics: intensity,
		SpeakingRate: SpeakingRate{
			WordsPerMinute: rate,
			Pauses:         pauses,
		},
		ProsodyScore: score,
		BandEstimate: Band(score),
		Feedback: Feedback{
			Pitch:  c.PitchFeedback(pitch.F0Std),
			Pace:   c.PaceFeedback(rate),
			Pauses: c.PauseFeedback(pauses),
		},
	}, nil
}
