package encode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner records invocations and returns canned results.
type fakeRunner struct {
	calls  [][]string
	names  []string
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string) (string, string, error) {
	f.names = append(f.names, name)
	f.calls = append(f.calls, args)
	return f.stdout, f.stderr, f.err
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestEncodeConcatArgs(t *testing.T) {
	runner := &fakeRunner{}
	e := NewEncoder("ffmpeg", WithRunner(runner))

	p := DefaultParams()
	if err := e.EncodeConcat(context.Background(), "/work/concat.txt", "/work/out.mp4", p); err != nil {
		t.Fatalf("EncodeConcat() error: %v", err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 ffmpeg invocation, got %d", len(runner.calls))
	}
	args := runner.calls[0]

	for _, pair := range [][2]string{
		{"-f", "concat"},
		{"-safe", "0"},
		{"-i", "/work/concat.txt"},
		{"-c:v", "libx264"},
		{"-crf", "23"},
		{"-maxrate", "4500k"},
		{"-bufsize", "9000k"},
		{"-profile:v", "main"},
		{"-pix_fmt", "yuv420p"},
		{"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2"},
		{"-movflags", "+faststart"},
		{"-c:a", "aac"},
	} {
		if !hasArgPair(args, pair[0], pair[1]) {
			t.Errorf("missing %s %s in args: %v", pair[0], pair[1], args)
		}
	}
	if args[len(args)-1] != "/work/out.mp4" {
		t.Errorf("output must be the final arg, got %v", args)
	}

	// Silent audio needs the anullsrc input and -shortest to trim it.
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "anullsrc=channel_layout=stereo:sample_rate=44100") {
		t.Errorf("missing anullsrc input: %v", args)
	}
	if !strings.Contains(joined, "-shortest") {
		t.Errorf("missing -shortest: %v", args)
	}
}

func TestEncodeConcatNoAudio(t *testing.T) {
	runner := &fakeRunner{}
	e := NewEncoder("ffmpeg", WithRunner(runner))

	p := DefaultParams()
	p.SilentAudio = false
	if err := e.EncodeConcat(context.Background(), "list.txt", "out.mp4", p); err != nil {
		t.Fatalf("EncodeConcat() error: %v", err)
	}

	joined := strings.Join(runner.calls[0], " ")
	if strings.Contains(joined, "anullsrc") || strings.Contains(joined, "-c:a") {
		t.Errorf("audio args present despite SilentAudio=false: %v", runner.calls[0])
	}
}

func TestEncodeFramesArgs(t *testing.T) {
	runner := &fakeRunner{}
	e := NewEncoder("ffmpeg", WithRunner(runner))

	if err := e.EncodeFrames(context.Background(), "/work/frame_%05d.jpg", 25, "/work/out.mp4", DefaultParams()); err != nil {
		t.Fatalf("EncodeFrames() error: %v", err)
	}

	args := runner.calls[0]
	if !hasArgPair(args, "-framerate", "25") {
		t.Errorf("missing framerate in args: %v", args)
	}
	if !hasArgPair(args, "-i", "/work/frame_%05d.jpg") {
		t.Errorf("missing pattern input in args: %v", args)
	}
}

func TestEncodeFramesRejectsBadFPS(t *testing.T) {
	e := NewEncoder("ffmpeg", WithRunner(&fakeRunner{}))
	err := e.EncodeFrames(context.Background(), "f_%d.jpg", 0, "out.mp4", DefaultParams())
	if !errors.Is(err, ErrInvalidFPS) {
		t.Errorf("error = %v, want ErrInvalidFPS", err)
	}
}

func TestLoopStreamCopies(t *testing.T) {
	runner := &fakeRunner{}
	e := NewEncoder("ffmpeg", WithRunner(runner))

	dir := t.TempDir()
	src := filepath.Join(dir, "render.mp4")
	if err := os.WriteFile(src, []byte("video"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := e.Loop(context.Background(), src, 3, filepath.Join(dir, "looped.mp4")); err != nil {
		t.Fatalf("Loop() error: %v", err)
	}

	args := runner.calls[0]
	if !hasArgPair(args, "-c", "copy") {
		t.Errorf("loop must stream copy, got args: %v", args)
	}
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "libx264") {
		t.Errorf("loop must not re-encode: %v", args)
	}
}

func TestLoopCountOneCopiesFile(t *testing.T) {
	runner := &fakeRunner{}
	e := NewEncoder("ffmpeg", WithRunner(runner))

	dir := t.TempDir()
	src := filepath.Join(dir, "render.mp4")
	dst := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(src, []byte("payload"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := e.Loop(context.Background(), src, 1, dst); err != nil {
		t.Fatalf("Loop() error: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("loop of 1 must not invoke ffmpeg, got %d calls", len(runner.calls))
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("output content = %q, want %q", data, "payload")
	}
}

func TestLoopRejectsBadCount(t *testing.T) {
	e := NewEncoder("ffmpeg", WithRunner(&fakeRunner{}))
	err := e.Loop(context.Background(), "in.mp4", 0, "out.mp4")
	if !errors.Is(err, ErrInvalidLoopCount) {
		t.Errorf("error = %v, want ErrInvalidLoopCount", err)
	}
}

func TestRunFFmpegWrapsFailure(t *testing.T) {
	runner := &fakeRunner{
		stderr: "line1\nline2\nError: something broke",
		err:    errors.New("exit status 1"),
	}
	e := NewEncoder("ffmpeg", WithRunner(runner))

	err := e.EncodeConcat(context.Background(), "list.txt", "out.mp4", DefaultParams())
	if err == nil {
		t.Fatal("expected error")
	}

	var ffErr *FFmpegError
	if !errors.As(err, &ffErr) {
		t.Fatalf("error type = %T, want *FFmpegError", err)
	}
	if !strings.Contains(ffErr.Stderr, "something broke") {
		t.Errorf("stderr not captured: %q", ffErr.Stderr)
	}
}

func TestStderrTailBounded(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}

	tail := stderrTail(sb.String())
	lines := strings.Split(tail, "\n")
	if len(lines) != stderrTailLines {
		t.Errorf("tail has %d lines, want %d", len(lines), stderrTailLines)
	}
	if lines[len(lines)-1] != "line 49" {
		t.Errorf("tail must keep the last lines, got %q", lines[len(lines)-1])
	}
}

func TestProbeDuration(t *testing.T) {
	runner := &fakeRunner{stdout: "12.340000\n"}
	e := NewEncoder("ffmpeg", WithRunner(runner))

	d, err := e.ProbeDuration(context.Background(), "video.mp4")
	if err != nil {
		t.Fatalf("ProbeDuration() error: %v", err)
	}
	if d != 12.34 {
		t.Errorf("duration = %v, want 12.34", d)
	}
	if runner.names[0] != "ffprobe" {
		t.Errorf("probe must use ffprobe, got %q", runner.names[0])
	}
}
