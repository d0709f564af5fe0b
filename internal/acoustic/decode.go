package acoustic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"
)

var (
	// ErrUnsupportedFormat is returned for payloads that are neither PCM or
	// float RIFF/WAVE nor Ogg/Vorbis.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrNoSamples is returned when a container decodes to zero samples.
	ErrNoSamples = errors.New("audio contains no samples")
)

var (
	riffMagic = []byte("RIFF")
	oggMagic  = []byte("OggS")
	opusMagic = []byte("OpusHead")
)

// WAVE fmt chunk format tags.
const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// The identification header sits in the first Ogg page.
const oggProbeSize = 64

// Sound is a mono signal with samples in [-1, 1].
type Sound struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the total duration in seconds.
func (s *Sound) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// DecodeFile reads a WAV or Ogg/Vorbis file and mixes it down to mono.
func DecodeFile(path string) (*Sound, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode sniffs the container from its magic bytes and decodes it.
func Decode(r io.ReadSeeker) (*Sound, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: file too short", ErrUnsupportedFormat)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch {
	case bytes.Equal(header, riffMagic):
		return decodeWAV(r)
	case bytes.Equal(header, oggMagic):
		if isOggOpus(r) {
			return nil, fmt.Errorf("%w: Ogg/Opus streams are not supported", ErrUnsupportedFormat)
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return decodeOggVorbis(r)
	default:
		return nil, fmt.Errorf("%w: unrecognised header %x", ErrUnsupportedFormat, header)
	}
}

func decodeWAV(r io.ReadSeeker) (*Sound, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", ErrUnsupportedFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV PCM data: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing WAV format information", ErrUnsupportedFormat)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(d.BitDepth)
	}

	var samples []float64
	switch d.WavAudioFormat {
	case wavFormatIEEEFloat:
		samples, err = floatSamples(buf.Data, bitDepth)
	case wavFormatPCM:
		samples, err = pcmSamples(buf.Data, bitDepth)
	case wavFormatExtensible:
		// The subformat GUID is not exposed; 32-bit could be float or integer.
		if bitDepth >= 32 {
			return nil, fmt.Errorf("%w: 32-bit WAVE_FORMAT_EXTENSIBLE", ErrUnsupportedFormat)
		}
		samples, err = pcmSamples(buf.Data, bitDepth)
	default:
		return nil, fmt.Errorf("%w: WAV format tag %#x", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	if err != nil {
		return nil, err
	}

	return mixDown(samples, buf.Format.NumChannels, buf.Format.SampleRate)
}

// pcmSamples scales integer PCM to [-1, 1]. 8-bit PCM is unsigned; wider
// depths are signed.
func pcmSamples(data []int, bitDepth int) ([]float64, error) {
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrUnsupportedFormat, bitDepth)
	}
	scale := float64(int64(1) << (bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}

	samples := make([]float64, len(data))
	for i, v := range data {
		samples[i] = (float64(v) - offset) / scale
	}
	return samples, nil
}

// floatSamples rebuilds IEEE float samples. The decoder hands each 32-bit
// sample back as its little-endian bit pattern read as int32.
func floatSamples(data []int, bitDepth int) ([]float64, error) {
	if bitDepth != 32 {
		return nil, fmt.Errorf("%w: %d-bit float WAV", ErrUnsupportedFormat, bitDepth)
	}

	samples := make([]float64, len(data))
	for i, v := range data {
		f := float64(math.Float32frombits(uint32(int32(v))))
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite float sample", ErrUnsupportedFormat)
		}
		samples[i] = f
	}
	return samples, nil
}

// isOggOpus reports whether the first Ogg page carries an Opus header.
func isOggOpus(r io.Reader) bool {
	head := make([]byte, oggProbeSize)
	n, _ := io.ReadFull(r, head)
	return bytes.Contains(head[:n], opusMagic)
}

func decodeOggVorbis(r io.Reader) (*Sound, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Ogg/Vorbis stream: %w", err)
	}

	samples := make([]float64, len(data))
	for i, v := range data {
		samples[i] = float64(v)
	}

	return mixDown(samples, format.Channels, format.SampleRate)
}

// mixDown averages interleaved channels into a mono signal.
func mixDown(interleaved []float64, channels, sampleRate int) (*Sound, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrUnsupportedFormat, channels)
	}
	frames := len(interleaved) / channels
	if frames == 0 {
		return nil, ErrNoSamples
	}

	mono := make([]float64, frames)
	for i := range frames {
		var sum float64
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float64(channels)
	}

	return &Sound{Samples: mono, SampleRate: sampleRate}, nil
}
