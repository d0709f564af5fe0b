// Package prosody turns pitch and intensity contours into heuristic
// pronunciation-prosody metrics, a composite score, a proficiency band and
// feedback, and compares two analysed recordings.
//
// Everything here is a pure function of its inputs.
package prosody

import "errors"

// ErrDegenerateMetrics is returned when a recording yields statistics that
// are not finite, typically because every frame is unvoiced or silent.
var ErrDegenerateMetrics = errors.New("degenerate prosody metrics")

// Intensity is the loudness contour contract the calculator relies on.
type Intensity interface {
	Values() []float64
	Mean() float64
	StdDev() float64
}

// Features is the acoustic input of one recording.
type Features struct {
	Duration  float64   // seconds
	Pitch     []float64 // Hz per frame, NaN where unvoiced
	Intensity Intensity
}

// PitchMetrics summarises the voiced frames of a pitch contour.
type PitchMetrics struct {
	MeanF0  float64 `json:"mean_f0"`
	F0Std   float64 `json:"f0_std"`
	F0Range float64 `json:"f0_range"`
	F0Slope float64 `json:"f0_slope"`
}

// IntensityMetrics summarises an intensity contour.
type IntensityMetrics struct {
	MeanIntensity float64 `json:"mean_intensity"`
	IntensityStd  float64 `json:"intensity_std"`
}

// SpeakingRate holds the duration-based rate estimate and the pause count.
type SpeakingRate struct {
	WordsPerMinute float64 `json:"words_per_minute"`
	Pauses         int     `json:"pauses"`
}

// Feedback holds one message per category.
type Feedback struct {
	Pitch  string `json:"pitch"`
	Pace   string `json:"pace"`
	Pauses string `json:"pauses"`
}

// Analysis is the result for one recording.
type Analysis struct {
	Duration         float64          `json:"duration"`
	PitchMetrics     PitchMetrics     `json:"pitch_metrics"`
	IntensityMetrics IntensityMetrics `json:"intensity_metrics"`
	SpeakingRate     SpeakingRate     `json:"speaking_rate"`
	ProsodyScore     float64          `json:"prosody_score"`
	BandEstimate     int              `json:"band_estimate"`
	Feedback         Feedback         `json:"feedback"`
}

// Improvement area tags emitted by Compare.
const (
	AreaPitchRange    = "pitch_range"
	AreaSpeakingPace  = "speaking_pace"
	AreaVolumeControl = "volume_control"
)

// Comparison is the result of comparing a student recording to a reference.
type Comparison struct {
	Reference        *Analysis `json:"reference"`
	Student          *Analysis `json:"student"`
	SimilarityScore  float64   `json:"similarity_score"`
	ImprovementAreas []string  `json:"improvement_areas"`
	OverallFeedback  string    `json:"overall_feedback"`
}
