// Package compose renders decoded source images onto a fixed-size canvas.
// It supports three fit policies (contain with letterbox, cover crop,
// blurred background) plus an optional pan/zoom frame burst, and always
// produces a frame, falling back to a placeholder when the source is missing.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	// Register decoders for the formats the gallery CDN serves.
	_ "image/gif"

	_ "golang.org/x/image/webp"
)

// FitMode selects the geometric policy mapping a source image onto the canvas.
type FitMode string

const (
	// FitContain scales the source to fit entirely within the canvas
	// without upscaling past native resolution, letterboxed on black.
	FitContain FitMode = "contain"
	// FitCover scales the source to fully cover the canvas, center-cropped.
	FitCover FitMode = "cover"
	// FitBlur lays a blurred, darkened cover crop as the background and
	// overlays a contained copy of the same source on top.
	FitBlur FitMode = "blur"
)

// ParseFitMode converts a config string to a FitMode.
func ParseFitMode(s string) (FitMode, error) {
	switch FitMode(s) {
	case FitContain, FitCover, FitBlur:
		return FitMode(s), nil
	case "blurred", "blurredBackground":
		return FitBlur, nil
	default:
		return "", fmt.Errorf("compose: unknown fit mode %q", s)
	}
}

// Tuning constants for the blurred background and pan/zoom motion.
const (
	blurSigma       = 25.0
	blurDarkenPct   = -12.0
	kenBurnsZoomEnd = 1.12
	placeholderText = "image unavailable"
)

var (
	canvasBlack   = color.NRGBA{A: 0xff}
	placeholderBG = color.NRGBA{R: 0x14, G: 0x14, B: 0x14, A: 0xff}
	placeholderFG = color.NRGBA{R: 0xb4, G: 0xb4, B: 0xb4, A: 0xff}
)

// Composer produces canvas-sized frames from decoded source images.
type Composer struct {
	width  int
	height int
	mode   FitMode
}

// NewComposer creates a Composer for the given canvas geometry and fit mode.
func NewComposer(width, height int, mode FitMode) (*Composer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("compose: invalid canvas %dx%d", width, height)
	}
	if _, err := ParseFitMode(string(mode)); err != nil {
		return nil, err
	}
	return &Composer{width: width, height: height, mode: mode}, nil
}

// Decode decodes raw image bytes, honoring EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("compose: decode image: %w", err)
	}
	return img, nil
}

// Frame composes exactly one still frame. A nil source yields the
// placeholder frame; composition itself never fails.
func (c *Composer) Frame(src image.Image) image.Image {
	if src == nil {
		return c.Placeholder()
	}

	switch c.mode {
	case FitCover:
		return imaging.Fill(src, c.width, c.height, imaging.Center, imaging.Lanczos)
	case FitBlur:
		bg := imaging.Fill(src, c.width, c.height, imaging.Center, imaging.Lanczos)
		bg = imaging.Blur(bg, blurSigma)
		bg = imaging.AdjustBrightness(bg, blurDarkenPct)
		fg := imaging.Fit(src, c.width, c.height, imaging.Lanczos)
		return imaging.PasteCenter(bg, fg)
	default: // FitContain
		canvas := imaging.New(c.width, c.height, canvasBlack)
		// Fit only downscales, so small sources keep native resolution.
		fitted := imaging.Fit(src, c.width, c.height, imaging.Lanczos)
		return imaging.PasteCenter(canvas, fitted)
	}
}

// Placeholder renders the fixed frame used when an image failed to resolve:
// a dark canvas with a centered warning label at canvas dimensions.
func (c *Composer) Placeholder() image.Image {
	canvas := imaging.New(c.width, c.height, placeholderBG)

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, placeholderText).Ceil()
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(placeholderFG),
		Face: face,
		Dot: fixed.P(
			(c.width-textWidth)/2,
			(c.height+face.Metrics().Ascent.Ceil())/2,
		),
	}
	d.DrawString(placeholderText)

	return canvas
}

// panDirection identifies one of the four fixed pan directions, cycled by
// slide index so consecutive slides visibly differ.
type panDirection int

const (
	panLeftToRight panDirection = iota
	panTopToBottom
	panRightToLeft
	panBottomToTop
)

// KenBurnsFrames composes an ordered burst of frames for one slide, each a
// slightly different crop/zoom of the same source. Zoom interpolates from
// 1.0 to kenBurnsZoomEnd with cubic ease-in-out; the pan direction is
// chosen by slide index. A nil source yields frameCount placeholder frames.
func (c *Composer) KenBurnsFrames(src image.Image, slideIndex, frameCount int) []image.Image {
	if frameCount < 1 {
		frameCount = 1
	}
	frames := make([]image.Image, 0, frameCount)

	if src == nil {
		ph := c.Placeholder()
		for i := 0; i < frameCount; i++ {
			frames = append(frames, ph)
		}
		return frames
	}

	// Base render at end-zoom scale so every crop stays within bounds and
	// the deepest zoom still maps 1:1 to canvas pixels.
	baseW := int(float64(c.width) * kenBurnsZoomEnd)
	baseH := int(float64(c.height) * kenBurnsZoomEnd)
	base := imaging.Fill(src, baseW, baseH, imaging.Center, imaging.Lanczos)

	dir := panDirection(slideIndex % 4)
	for i := 0; i < frameCount; i++ {
		t := 0.0
		if frameCount > 1 {
			t = easeInOutCubic(float64(i) / float64(frameCount-1))
		}
		zoom := 1.0 + (kenBurnsZoomEnd-1.0)*t

		cropW := int(float64(c.width) * kenBurnsZoomEnd / zoom)
		cropH := int(float64(c.height) * kenBurnsZoomEnd / zoom)
		if cropW > baseW {
			cropW = baseW
		}
		if cropH > baseH {
			cropH = baseH
		}

		x, y := panOffset(dir, t, baseW-cropW, baseH-cropH)
		crop := imaging.Crop(base, image.Rect(x, y, x+cropW, y+cropH))
		frames = append(frames, imaging.Resize(crop, c.width, c.height, imaging.Lanczos))
	}

	return frames
}

// panOffset places the crop window for progress t within the available slack.
func panOffset(dir panDirection, t float64, slackX, slackY int) (int, int) {
	switch dir {
	case panLeftToRight:
		return int(t * float64(slackX)), slackY / 2
	case panTopToBottom:
		return slackX / 2, int(t * float64(slackY))
	case panRightToLeft:
		return int((1 - t) * float64(slackX)), slackY / 2
	default: // panBottomToTop
		return slackX / 2, int((1 - t) * float64(slackY))
	}
}

// easeInOutCubic maps linear progress to cubic ease-in-out.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - f*f*f/2
}

// SaveFrame writes a composed frame to disk as JPEG. The file is fully
// written before the function returns.
func SaveFrame(img image.Image, path string) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("compose: save frame: %w", err)
	}
	return nil
}
