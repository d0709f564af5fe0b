package acoustic

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// PitchParams controls the YIN pitch tracker.
type PitchParams struct {
	Floor            float64 // lowest detectable F0 in Hz
	Ceiling          float64 // highest detectable F0 in Hz
	TimeStep         float64 // seconds between frame centres
	Threshold        float64 // YIN absolute threshold on the normalised difference
	SilenceThreshold float64 // frames quieter than this fraction of the global peak are unvoiced
}

// DefaultPitchParams mirrors the usual autocorrelation defaults for speech.
func DefaultPitchParams() PitchParams {
	return PitchParams{
		Floor:            75,
		Ceiling:          600,
		TimeStep:         0.01,
		Threshold:        0.15,
		SilenceThreshold: 0.03,
	}
}

func (p PitchParams) validate() error {
	if p.Floor <= 0 || p.Ceiling <= p.Floor {
		return fmt.Errorf("invalid pitch range %v-%v Hz", p.Floor, p.Ceiling)
	}
	if p.TimeStep <= 0 {
		return fmt.Errorf("invalid pitch time step %v", p.TimeStep)
	}
	if p.Threshold <= 0 || p.Threshold >= 1 {
		return fmt.Errorf("invalid YIN threshold %v", p.Threshold)
	}
	return nil
}

// PitchContour is a per-frame F0 track. Unvoiced frames hold NaN.
type PitchContour struct {
	values   []float64
	TimeStep float64
	Start    float64 // centre of the first frame, seconds
}

// Values returns a copy of the frame values.
func (c *PitchContour) Values() []float64 {
	out := make([]float64, len(c.values))
	copy(out, c.values)
	return out
}

// Len returns the number of frames.
func (c *PitchContour) Len() int { return len(c.values) }

// Voiced returns the number of frames with a pitch estimate.
func (c *PitchContour) Voiced() int {
	n := 0
	for _, v := range c.values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// TrackPitch runs YIN over overlapping frames of the sound.
func TrackPitch(ctx context.Context, s *Sound, p PitchParams) (*PitchContour, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	sr := float64(s.SampleRate)
	if p.Ceiling >= sr/2 {
		return nil, fmt.Errorf("pitch ceiling %v Hz exceeds Nyquist for %d Hz audio", p.Ceiling, s.SampleRate)
	}

	// Three periods of the floor frequency per analysis window.
	window := int(math.Round(3 / p.Floor * sr))
	maxTau := int(math.Ceil(sr / p.Floor))
	minTau := int(math.Floor(sr / p.Ceiling))
	if minTau < 2 {
		minTau = 2
	}
	span := window - maxTau
	step := p.TimeStep * sr

	contour := &PitchContour{TimeStep: p.TimeStep, Start: float64(window) / 2 / sr}
	if len(s.Samples) < window || span <= 0 {
		return contour, nil
	}

	frames := int(float64(len(s.Samples)-window)/step) + 1
	contour.values = make([]float64, frames)

	globalPeak := peakAbs(s.Samples)
	silence := p.SilenceThreshold * globalPeak

	diff := make([]float64, maxTau+1)
	cmnd := make([]float64, maxTau+1)

	for i := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := int(float64(i) * step)
		frame := s.Samples[start : start+window]

		if globalPeak == 0 || peakAbs(frame) <= silence {
			contour.values[i] = math.NaN()
			continue
		}
		contour.values[i] = yinFrame(frame, span, minTau, maxTau, sr, p, diff, cmnd)
	}

	return contour, nil
}

// yinFrame estimates F0 for one frame, or NaN when no candidate passes.
func yinFrame(frame []float64, span, minTau, maxTau int, sr float64, p PitchParams, diff, cmnd []float64) float64 {
	for tau := 0; tau <= maxTau; tau++ {
		var sum float64
		for j := range span {
			d := frame[j] - frame[j+tau]
			sum += d * d
		}
		diff[tau] = sum
	}

	cmnd[0] = 1
	var running float64
	for tau := 1; tau <= maxTau; tau++ {
		running += diff[tau]
		if running == 0 {
			cmnd[tau] = 1
			continue
		}
		cmnd[tau] = diff[tau] * float64(tau) / running
	}

	best := -1
	for tau := minTau; tau < maxTau; tau++ {
		if cmnd[tau] < p.Threshold {
			for tau+1 <= maxTau && cmnd[tau+1] < cmnd[tau] {
				tau++
			}
			best = tau
			break
		}
	}
	if best < 0 {
		return math.NaN()
	}

	period := parabolicPeak(cmnd, best)
	if period <= 0 {
		return math.NaN()
	}
	f0 := sr / period
	if f0 < p.Floor || f0 > p.Ceiling {
		return math.NaN()
	}
	return f0
}

// parabolicPeak refines an extremum index by fitting a parabola through it
// and its neighbours.
func parabolicPeak(data []float64, idx int) float64 {
	if idx <= 0 || idx >= len(data)-1 {
		return float64(idx)
	}
	y1, y2, y3 := data[idx-1], data[idx], data[idx+1]
	a := (y1 - 2*y2 + y3) / 2
	b := (y3 - y1) / 2
	if a == 0 {
		return float64(idx)
	}
	return float64(idx) - b/(2*a)
}

func peakAbs(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Max(floats.Max(x), -floats.Min(x))
}
