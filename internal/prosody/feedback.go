package prosody

// Pitch feedback messages.
const (
	PitchTooFlat     = "Consider varying your pitch more to add expression and emphasis."
	PitchVaried      = "Your pitch variation is good, but ensure it's natural and not exaggerated."
	PitchAppropriate = "Your pitch variation is appropriate for natural speech."
)

// Pace feedback messages.
const (
	PaceSlow     = "Your speaking pace is clear but could be slightly faster for natural flow."
	PaceFast     = "Your pace is quite fast. Consider slowing down for clarity."
	PaceBalanced = "Your speaking pace is well-balanced."
)

// Pause feedback messages.
const (
	PausesTooFew      = "Consider adding brief pauses between ideas for better structure."
	PausesTooMany     = "You have many pauses. Work on smoother transitions between thoughts."
	PausesAppropriate = "Your use of pauses is appropriate for natural speech."
)

// PitchFeedback classifies pitch variability.
func (c Calibration) PitchFeedback(pitchStd float64) string {
	switch {
	case pitchStd < c.PitchStdLow:
		return PitchTooFlat
	case pitchStd > c.PitchStdHigh:
		return PitchVaried
	default:
		return PitchAppropriate
	}
}

// PaceFeedback classifies the speaking rate in words per minute.
func (c Calibration) PaceFeedback(wordsPerMinute float64) string {
	switch {
	case wordsPerMinute < c.RateLow:
		return PaceSlow
	case wordsPerMinute > c.RateHigh:
		return PaceFast
	default:
		return PaceBalanced
	}
}

// PauseFeedback classifies the pause count.
func (c Calibration) PauseFeedback(pauses int) string {
	switch {
	case pauses < c.PausesLow:
		return PausesTooFew
	case pauses > c.PausesHigh:
		return PausesTooMany
	default:
		return PausesAppropriate
	}
}
