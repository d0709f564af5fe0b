package prosody

import "math"

// Overall comparison feedback messages, best first.
const (
	ComparisonExcellent    = "Excellent pronunciation! You're very close to the reference audio."
	ComparisonGood         = "Good pronunciation with room for improvement in specific areas."
	ComparisonDeveloping   = "Your pronunciation shows understanding but needs work on natural flow."
	ComparisonFundamentals = "Focus on the fundamentals of pronunciation and rhythm."
)

var comparisonTiers = []struct {
	minSimilarity float64
	message       string
}{
	{85, ComparisonExcellent},
	{70, ComparisonGood},
	{55, ComparisonDeveloping},
}

// Similarity averages the mean-pitch and speaking-rate sub-similarities and
// rounds to one decimal. Intensity does not take part.
func (c Calibration) Similarity(ref, student *Analysis) float64 {
	pitchDiff := math.Abs(ref.PitchMetrics.MeanF0 - student.PitchMetrics.MeanF0)
	rateDiff := math.Abs(ref.SpeakingRate.WordsPerMinute - student.SpeakingRate.WordsPerMinute)

	pitchSimilarity := math.Max(0, 100-(pitchDiff/c.SimilarityScale)*100)
	rateSimilarity := math.Max(0, 100-(rateDiff/c.SimilarityScale)*100)

	return round1((pitchSimilarity + rateSimilarity) / 2)
}

// ImprovementAreas runs the three independent difference checks. The result
// is never nil.
func (c Calibration) ImprovementAreas(ref, student *Analysis) []string {
	areas := []string{}
	if math.Abs(ref.PitchMetrics.MeanF0-student.PitchMetrics.MeanF0) > c.PitchDiffThreshold {
		areas = append(areas, AreaPitchRange)
	}
	if math.Abs(ref.SpeakingRate.WordsPerMinute-student.SpeakingRate.WordsPerMinute) > c.RateDiffThreshold {
		areas = append(areas, AreaSpeakingPace)
	}
	if math.Abs(ref.IntensityMetrics.MeanIntensity-student.IntensityMetrics.MeanIntensity) > c.IntensityDiffThreshold {
		areas = append(areas, AreaVolumeControl)
	}
	return areas
}

// ComparisonFeedback picks the overall message for a similarity score.
func ComparisonFeedback(similarity float64) string {
	for _, t := range comparisonTiers {
		if similarity >= t.minSimilarity {
			return t.message
		}
	}
	return ComparisonFundamentals
}

// Compare builds the comparison of a student recording against a reference.
func (c Calibration) Compare(ref, student *Analysis) *Comparison {
	similarity := c.Similarity(ref, student)
	return &Comparison{
		Reference:        ref,
		Student:          student,
		SimilarityScore:  similarity,
		ImprovementAreas: c.ImprovementAreas(ref, student),
		OverallFeedback:  ComparisonFeedback(similarity),
	}
}
