// Package encode invokes the external ffmpeg process to turn frame
// sequences into MP4 files. Invocation goes through the Runner capability
// interface so the orchestrator can be tested against a fake encoder.
package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Static errors for encoder operations.
var (
	// ErrInvalidFPS is returned when the frame rate is not positive.
	ErrInvalidFPS = errors.New("encode: fps must be positive")
	// ErrInvalidLoopCount is returned when the loop count is not positive.
	ErrInvalidLoopCount = errors.New("encode: loop count must be positive")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("encode: ffprobe execution failed")
)

// stderrTailLines bounds the diagnostic output attached to failures.
const stderrTailLines = 12

// Runner executes an external process and reports its output. The process
// must be terminated forcefully when the context is cancelled, never left
// running after Run returns.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr string, err error)
}

// execRunner runs commands via os/exec. Context cancellation kills the
// child process.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) (string, string, error) {
	// #nosec G204 - binary and args are assembled by the application, not user input
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Params is the fixed output contract for encoded videos: H.264 main
// profile, 4:2:0 chroma, even dimensions, faststart, and a bounded bitrate
// envelope (CRF target plus hard ceiling).
type Params struct {
	// CRF is the constant rate factor quality target.
	CRF int
	// MaxRateK is the bitrate ceiling in kbit/s.
	MaxRateK int
	// BufSizeK is the rate-control buffer size in kbit/s.
	BufSizeK int
	// Preset is the libx264 speed preset.
	Preset string
	// SilentAudio synthesizes a silent stereo AAC track trimmed to the
	// video duration, for players that require an audio stream.
	SilentAudio bool
}

// DefaultParams returns the encode parameters known to survive
// re-transcoding by marketplace players without visible artifacts.
func DefaultParams() Params {
	return Params{
		CRF:         23,
		MaxRateK:    4500,
		BufSizeK:    9000,
		Preset:      "fast",
		SilentAudio: true,
	}
}

// Encoder drives ffmpeg/ffprobe through a Runner.
type Encoder struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
}

// Option is a function that configures an Encoder.
type Option func(*Encoder)

// WithRunner sets a custom process runner (used to fake ffmpeg in tests).
func WithRunner(r Runner) Option {
	return func(e *Encoder) {
		e.runner = r
	}
}

// WithFFprobePath sets the path to the ffprobe binary.
func WithFFprobePath(path string) Option {
	return func(e *Encoder) {
		e.ffprobePath = path
	}
}

// NewEncoder creates an Encoder. If ffmpegPath is empty, it defaults to
// "ffmpeg" (found via PATH).
func NewEncoder(ffmpegPath string, opts ...Option) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &Encoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: "ffprobe",
		runner:      execRunner{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EncodeConcat encodes a concat manifest of still images with explicit
// per-entry durations (hard cuts) into an MP4 at output.
func (e *Encoder) EncodeConcat(ctx context.Context, listPath, output string, p Params) error {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	args = append(args, e.outputArgs(p)...)
	args = append(args, output)

	return e.runFFmpeg(ctx, args)
}

// EncodeFrames encodes a fixed-framerate image sequence (printf-style
// pattern such as "frame_%05d.jpg") into an MP4 at output. Used by the
// pan/zoom mode, where duration is frame count over frame rate.
func (e *Encoder) EncodeFrames(ctx context.Context, pattern string, fps int, output string, p Params) error {
	if fps <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFPS, fps)
	}

	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", pattern,
	}
	args = append(args, e.outputArgs(p)...)
	args = append(args, output)

	return e.runFFmpeg(ctx, args)
}

// Loop concatenates the finished single-pass video with itself count times
// using stream copy (no re-encode), producing byte-for-byte repeated
// playback. A count of 1 copies the input to output unchanged.
func (e *Encoder) Loop(ctx context.Context, videoPath string, count int, output string) error {
	if count < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidLoopCount, count)
	}
	if count == 1 {
		return copyFile(videoPath, output)
	}

	listFile, err := createLoopList(videoPath, count)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
	return e.runFFmpeg(ctx, args)
}

// ProbeDuration returns the duration in seconds of a media file using ffprobe.
func (e *Encoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	stdout, stderr, err := e.runner.Run(ctx, e.ffprobePath, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderrTail(stderr))
	}

	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout), "%f", &duration); err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// outputArgs builds the fixed output contract shared by both input modes.
func (e *Encoder) outputArgs(p Params) []string {
	var args []string
	if p.SilentAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		)
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", fmt.Sprintf("%d", p.CRF),
		"-maxrate", fmt.Sprintf("%dk", p.MaxRateK),
		"-bufsize", fmt.Sprintf("%dk", p.BufSizeK),
		"-profile:v", "main",
		"-pix_fmt", "yuv420p",
		// Players reject odd dimensions with 4:2:0 chroma.
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-movflags", "+faststart",
	)
	if p.SilentAudio {
		args = append(args,
			"-c:a", "aac",
			"-b:a", "128k",
			"-shortest",
		)
	}
	return args
}

// runFFmpeg executes ffmpeg and wraps any failure in an FFmpegError
// carrying the tail of stderr. Failures are never retried here; retrying a
// whole job is the orchestrator's call.
func (e *Encoder) runFFmpeg(ctx context.Context, args []string) error {
	_, stderr, err := e.runner.Run(ctx, e.ffmpegPath, args)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderrTail(stderr),
			Err:    err,
		}
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the last
// diagnostic lines of stderr.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// createLoopList writes a temporary concat list repeating one file count times.
func createLoopList(videoPath string, count int) (string, error) {
	absPath, err := filepath.Abs(videoPath)
	if err != nil {
		return "", fmt.Errorf("get absolute path for %s: %w", videoPath, err)
	}
	escaped := strings.ReplaceAll(absPath, "'", "'\\''")

	f, err := os.CreateTemp("", "ffmpeg-loop-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for i := 0; i < count; i++ {
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			return "", fmt.Errorf("write loop list: %w", err)
		}
	}
	return f.Name(), nil
}

// copyFile streams src to dst without buffering the whole file.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy video: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination file: %w", err)
	}
	return nil
}

// stderrTail returns the last diagnostic lines of an ffmpeg stderr dump.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= stderrTailLines {
		return s
	}
	return strings.Join(lines[len(lines)-stderrTailLines:], "\n")
}
