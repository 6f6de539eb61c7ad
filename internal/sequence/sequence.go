// Package sequence orders composited frames into a timed concat manifest
// for the encoder. Looping is not expressed here: a looped job encodes the
// single-pass manifest once and the finished file is concatenated with
// itself by stream copy.
package sequence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoSlides is returned when a manifest with zero slides is serialized.
var ErrNoSlides = errors.New("sequence: manifest has no slides")

// Slide is one rendered still image on disk plus its display duration.
// FramePath always points to a fully written, valid image file.
type Slide struct {
	// Index is the position of this slide in the sequence.
	Index int
	// FramePath is the path to the rendered frame file.
	FramePath string
	// DurationSec is the display duration in seconds, already clamped.
	DurationSec float64
}

// Manifest is the ordered list of (file, duration) entries consumed by the
// encoder's concat demuxer.
type Manifest struct {
	Slides []Slide
}

// Build assigns each frame a duration of max(minSec, requestedSec) and
// returns the ordered manifest.
func Build(framePaths []string, requestedSec, minSec float64) Manifest {
	duration := requestedSec
	if duration < minSec {
		duration = minSec
	}

	slides := make([]Slide, 0, len(framePaths))
	for i, path := range framePaths {
		slides = append(slides, Slide{
			Index:       i,
			FramePath:   path,
			DurationSec: duration,
		})
	}
	return Manifest{Slides: slides}
}

// TotalDuration returns the summed display time of all slides in seconds.
func (m Manifest) TotalDuration() float64 {
	var total float64
	for _, s := range m.Slides {
		total += s.DurationSec
	}
	return total
}

// WriteTo serializes the manifest in concat-demuxer list form. The final
// entry is repeated once without a duration line; the demuxer otherwise
// drops the last slide's display time.
func (m Manifest) WriteTo(w io.Writer) error {
	if len(m.Slides) == 0 {
		return ErrNoSlides
	}

	for _, s := range m.Slides {
		if _, err := fmt.Fprintf(w, "file '%s'\nduration %.3f\n", escapePath(s.FramePath), s.DurationSec); err != nil {
			return fmt.Errorf("sequence: write manifest: %w", err)
		}
	}

	last := m.Slides[len(m.Slides)-1]
	if _, err := fmt.Fprintf(w, "file '%s'\n", escapePath(last.FramePath)); err != nil {
		return fmt.Errorf("sequence: write manifest: %w", err)
	}
	return nil
}

// WriteFile serializes the manifest to a file on disk.
func (m Manifest) WriteFile(path string) error {
	f, err := os.Create(path) // #nosec G304 - path is derived from the job work dir
	if err != nil {
		return fmt.Errorf("sequence: create manifest file: %w", err)
	}

	if err := m.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("sequence: close manifest file: %w", err)
	}
	return nil
}

// escapePath escapes single quotes for the concat list format.
func escapePath(p string) string {
	return strings.ReplaceAll(p, "'", "'\\''")
}
