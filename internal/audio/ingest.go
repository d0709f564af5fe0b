// Package audio validates uploaded recordings and materialises them as
// short-lived files for the extractor.
package audio

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"strings"
)

// ErrInvalidMediaType is returned when the declared content type is not audio.
var ErrInvalidMediaType = errors.New("file must be an audio file")

// ErrEmptyUpload is returned for a zero-length payload.
var ErrEmptyUpload = errors.New("audio file is empty")

var extensions = map[string]string{
	"audio/wav":      ".wav",
	"audio/x-wav":    ".wav",
	"audio/wave":     ".wav",
	"audio/vnd.wave": ".wav",
	"audio/ogg":      ".ogg",
	"audio/vorbis":   ".ogg",
	"audio/x-vorbis": ".ogg",
}

// ValidateMediaType accepts any declared type in the audio/ family and
// returns it normalised without parameters.
func ValidateMediaType(declared string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaType, declared)
	}
	if !strings.HasPrefix(mediaType, "audio/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaType, mediaType)
	}
	return mediaType, nil
}

// Upload is a recording written to a temporary file.
type Upload struct {
	Path      string
	MediaType string
	Size      int
}

// Cleanup removes the temporary file. It is safe to call more than once.
func (u *Upload) Cleanup() error {
	if u == nil || u.Path == "" {
		return nil
	}
	err := os.Remove(u.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Materialize validates the declared type and writes data to a new file in
// dir (the OS temp dir when empty). Callers must defer Cleanup.
func Materialize(data []byte, declared, dir string) (*Upload, error) {
	mediaType, err := ValidateMediaType(declared)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}

	f, err := os.CreateTemp(dir, "prosody-*"+Extension(mediaType))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	upload := &Upload{Path: f.Name(), MediaType: mediaType, Size: len(data)}

	if _, err := f.Write(data); err != nil {
		f.Close()
		upload.Cleanup()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		upload.Cleanup()
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return upload, nil
}

// Extension returns the file extension used for a media type, .wav when unknown.
func Extension(mediaType string) string {
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	return ".wav"
}
