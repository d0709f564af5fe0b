package prosody

import "fmt"

// Calibration holds every tunable constant of the heuristic scoring model.
// The defaults reproduce the reference behaviour exactly; none of them were
// fitted against graded recordings.
type Calibration struct {
	// Speaking rate is estimated from duration alone: one word per
	// SecondsPerWord seconds.
	SecondsPerWord float64 `json:"seconds_per_word"`

	// A pause starts when intensity falls below PauseThresholdRatio times
	// the mean intensity.
	PauseThresholdRatio float64 `json:"pause_threshold_ratio"`

	// Composite score weights and normalisers.
	PitchStdNormalizer     float64 `json:"pitch_std_normalizer"`
	IntensityStdNormalizer float64 `json:"intensity_std_normalizer"`
	PauseNormalizer        float64 `json:"pause_normalizer"`
	PitchWeight            float64 `json:"pitch_weight"`
	IntensityWeight        float64 `json:"intensity_weight"`
	PauseWeight            float64 `json:"pause_weight"`

	// Feedback thresholds.
	PitchStdLow  float64 `json:"pitch_std_low"`
	PitchStdHigh float64 `json:"pitch_std_high"`
	RateLow      float64 `json:"rate_low"`
	RateHigh     float64 `json:"rate_high"`
	PausesLow    int     `json:"pauses_low"`
	PausesHigh   int     `json:"pauses_high"`

	// Comparison thresholds.
	SimilarityScale        float64 `json:"similarity_scale"`
	PitchDiffThreshold     float64 `json:"pitch_diff_threshold"`
	RateDiffThreshold      float64 `json:"rate_diff_threshold"`
	IntensityDiffThreshold float64 `json:"intensity_diff_threshold"`
}

// DefaultCalibration returns the reference constants.
func DefaultCalibration() Calibration {
	return Calibration{
		SecondsPerWord:         0.5,
		PauseThresholdRatio:    0.3,
		PitchStdNormalizer:     100,
		IntensityStdNormalizer: 50,
		PauseNormalizer:        10,
		PitchWeight:            40,
		IntensityWeight:        30,
		PauseWeight:            30,
		PitchStdLow:            20,
		PitchStdHigh:           100,
		RateLow:                120,
		RateHigh:               200,
		PausesLow:              2,
		PausesHigh:             8,
		SimilarityScale:        50,
		PitchDiffThreshold:     30,
		RateDiffThreshold:      30,
		IntensityDiffThreshold: 10,
	}
}

// Validate rejects calibrations that would divide by zero or invert a
// threshold pair.
func (c Calibration) Validate() error {
	positive := map[string]float64{
		"seconds_per_word":         c.SecondsPerWord,
		"pitch_std_normalizer":     c.PitchStdNormalizer,
		"intensity_std_normalizer": c.IntensityStdNormalizer,
		"pause_normalizer":         c.PauseNormalizer,
		"similarity_scale":         c.SimilarityScale,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("calibration %s must be positive, got %v", name, v)
		}
	}
	if c.PauseThresholdRatio < 0 {
		return fmt.Errorf("calibration pause_threshold_ratio must not be negative, got %v", c.PauseThresholdRatio)
	}
	if c.PitchStdLow > c.PitchStdHigh {
		return fmt.Errorf("calibration pitch_std_low (%v) exceeds pitch_std_high (%v)", c.PitchStdLow, c.PitchStdHigh)
	}
	if c.RateLow > c.RateHigh {
		return fmt.Errorf("calibration rate_low (%v) exceeds rate_high (%v)", c.RateLow, c.RateHigh)
	}
	if c.PausesLow > c.PausesHigh {
		return fmt.Errorf("calibration pauses_low (%d) exceeds pauses_high (%d)", c.PausesLow, c.PausesHigh)
	}
	return nil
}
