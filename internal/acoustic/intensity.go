package acoustic

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// referencePressure is the auditory threshold squared (2e-5 Pa)^2, so that
// intensities come out in dB SPL.
const referencePressure = 4e-10

// IntensityParams controls the intensity tracker.
type IntensityParams struct {
	MinPitch     float64 // lowest periodicity the window must smooth over, Hz
	SubtractMean bool    // remove the DC offset of every frame
}

// DefaultIntensityParams returns the 100 Hz speech defaults.
func DefaultIntensityParams() IntensityParams {
	return IntensityParams{MinPitch: 100, SubtractMean: true}
}

// IntensityContour is a per-frame loudness track in dB.
type IntensityContour struct {
	values   []float64
	TimeStep float64
	Start    float64
}

// Values returns a copy of the frame values.
func (c *IntensityContour) Values() []float64 {
	out := make([]float64, len(c.values))
	copy(out, c.values)
	return out
}

// Len returns the number of frames.
func (c *IntensityContour) Len() int { return len(c.values) }

// Mean is the energy average: the dB values are converted back to power,
// averaged and converted to dB again.
func (c *IntensityContour) Mean() float64 {
	if len(c.values) == 0 {
		return math.NaN()
	}
	power := make([]float64, len(c.values))
	for i, v := range c.values {
		power[i] = math.Pow(10, v/10)
	}
	return 10 * math.Log10(stat.Mean(power, nil))
}

// StdDev is the sample standard deviation of the dB values.
func (c *IntensityContour) StdDev() float64 {
	if len(c.values) < 2 {
		return math.NaN()
	}
	return stat.StdDev(c.values, nil)
}

// TrackIntensity computes Hann-weighted mean-square energy over windows of
// 3.2 periods of MinPitch, advanced by a quarter window.
func TrackIntensity(ctx context.Context, s *Sound, p IntensityParams) (*IntensityContour, error) {
	if p.MinPitch <= 0 {
		return nil, fmt.Errorf("invalid intensity minimum pitch %v", p.MinPitch)
	}
	sr := float64(s.SampleRate)
	window := int(math.Round(3.2 / p.MinPitch * sr))
	hop := int(math.Round(0.8 / p.MinPitch * sr))
	if window < 2 || hop < 1 {
		return nil, fmt.Errorf("sample rate %d too low for intensity analysis", s.SampleRate)
	}

	contour := &IntensityContour{
		TimeStep: float64(hop) / sr,
		Start:    float64(window) / 2 / sr,
	}
	if len(s.Samples) < window {
		return contour, nil
	}

	weights := hann(window)
	weightSum := floats.Sum(weights)
	frames := (len(s.Samples)-window)/hop + 1
	contour.values = make([]float64, frames)

	for i := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame := s.Samples[i*hop : i*hop+window]

		var offset float64
		if p.SubtractMean {
			offset = stat.Mean(frame, nil)
		}
		var energy float64
		for j, x := range frame {
			d := x - offset
			energy += weights[j] * d * d
		}

		db := 10 * math.Log10(energy/weightSum/referencePressure)
		if math.IsInf(db, -1) || db < 0 {
			db = 0
		}
		contour.values[i] = db
	}

	return contour, nil
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range n {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
