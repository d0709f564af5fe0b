// Package acoustic decodes audio files and extracts the pitch and intensity
// contours the prosody calculator works on.
package acoustic

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/windfall/prosody_service/internal/prosody"
)

// ErrExtraction marks every failure to turn a file into features.
var ErrExtraction = errors.New("acoustic extraction failed")

// Extractor turns an audio file on disk into prosody features.
type Extractor interface {
	Extract(ctx context.Context, path string) (*prosody.Features, error)
}

// Analyzer is the native Extractor.
type Analyzer struct {
	Pitch     PitchParams
	Intensity IntensityParams
}

// NewAnalyzer creates an Analyzer with the given pitch range and default
// tracker settings otherwise.
func NewAnalyzer(pitchFloor, pitchCeiling float64) *Analyzer {
	pitch := DefaultPitchParams()
	if pitchFloor > 0 {
		pitch.Floor = pitchFloor
	}
	if pitchCeiling > 0 {
		pitch.Ceiling = pitchCeiling
	}
	return &Analyzer{
		Pitch:     pitch,
		Intensity: DefaultIntensityParams(),
	}
}

// Extract decodes the file and tracks pitch and intensity concurrently.
func (a *Analyzer) Extract(ctx context.Context, path string) (*prosody.Features, error) {
	sound, err := DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	var (
		pitch     *PitchContour
		intensity *IntensityContour
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pitch, err = TrackPitch(gctx, sound, a.Pitch)
		return err
	})
	g.Go(func() error {
		var err error
		intensity, err = TrackIntensity(gctx, sound, a.Intensity)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	return &prosody.Features{
		Duration:  sound.Duration(),
		Pitch:     pitch.Values(),
		Intensity: intensity,
	}, nil
}
