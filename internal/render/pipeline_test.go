package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slidereel/slidereel-api/internal/compose"
	"github.com/slidereel/slidereel-api/internal/credits"
	"github.com/slidereel/slidereel-api/internal/encode"
	"github.com/slidereel/slidereel-api/internal/fetch"
	"github.com/slidereel/slidereel-api/internal/imageurl"
	"github.com/slidereel/slidereel-api/internal/storage"
)

// testJPEG returns a small valid JPEG payload.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// fakeResolver resolves refs from a canned map; absent keys fail.
type fakeResolver struct {
	data map[string][]byte
}

func (f *fakeResolver) ResolveAll(_ context.Context, refs []imageurl.ImageRef) []fetch.Result {
	results := make([]fetch.Result, len(refs))
	for i, ref := range refs {
		data, ok := f.data[ref.NormalizedURL]
		if !ok {
			results[i] = fetch.Result{Ref: ref, Err: fetch.ErrUnresolvable}
			continue
		}
		results[i] = fetch.Result{Ref: ref, Resolved: &fetch.Resolved{
			Ref:        ref,
			Data:       data,
			VariantURL: ref.NormalizedURL,
		}}
	}
	return results
}

// fakeEncoder records invocations and writes a stub output file. It captures
// the manifest content and counts frame files at call time, before the work
// dir is cleaned up.
type fakeEncoder struct {
	concatCalls atomic.Int32
	framesCalls atomic.Int32
	loopCalls   atomic.Int32
	loopCount   int
	manifest    string
	framePaths  []string
	fps         int
	err         error
}

func (f *fakeEncoder) EncodeConcat(_ context.Context, listPath, output string, _ encode.Params) error {
	f.concatCalls.Add(1)
	if data, err := os.ReadFile(listPath); err == nil {
		f.manifest = string(data)
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(output, []byte("mp4"), 0600)
}

func (f *fakeEncoder) EncodeFrames(_ context.Context, pattern string, fps int, output string, _ encode.Params) error {
	f.framesCalls.Add(1)
	f.fps = fps
	f.framePaths, _ = filepath.Glob(filepath.Join(filepath.Dir(pattern), "frame_*.jpg"))
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(output, []byte("mp4"), 0600)
}

func (f *fakeEncoder) Loop(_ context.Context, _ string, count int, output string) error {
	f.loopCalls.Add(1)
	f.loopCount = count
	return os.WriteFile(output, []byte("looped mp4"), 0600)
}

func (f *fakeEncoder) calls() int {
	return int(f.concatCalls.Load() + f.framesCalls.Load())
}

// fakeCredits is a canned credits ledger.
type fakeCredits struct {
	ok     bool
	err    error
	calls  atomic.Int32
	jobRef string
}

func (f *fakeCredits) CheckAndConsume(_ context.Context, _ string, _ int, jobRef string) (credits.Result, error) {
	f.calls.Add(1)
	f.jobRef = jobRef
	return credits.Result{OK: f.ok}, f.err
}

func (f *fakeCredits) AddCredits(context.Context, string, int, string, string) error {
	return nil
}

const (
	urlA = "https://i.ebayimg.com/images/g/aaa/s-l1600.jpg"
	urlB = "https://i.ebayimg.com/images/g/bbb/s-l1600.jpg"
	urlC = "https://i.ebayimg.com/images/g/ccc/s-l1600.jpg"
)

func testConfig() Config {
	return Config{
		CanvasWidth:        320,
		CanvasHeight:       240,
		FPS:                5,
		DefaultDurationSec: 1,
		MinDurationSec:     1,
		FitMode:            compose.FitContain,
		MaxImages:          12,
		JobTimeout:         time.Minute,
		EncodeParams:       encode.DefaultParams(),
	}
}

func newTestPipeline(t *testing.T, resolver Resolver, encoder Encoder, cfg Config, opts ...PipelineOption) (*Pipeline, *storage.LocalStorage) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocalStorage(
		filepath.Join(root, "tmp"),
		filepath.Join(root, "videos"),
		"https://media.example.com/videos",
	)
	if err != nil {
		t.Fatal(err)
	}
	normalizer := imageurl.NewNormalizer([]string{"ebayimg.com"})
	return NewPipeline(normalizer, resolver, encoder, store, cfg, nil, opts...), store
}

func TestRenderStills(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload, urlB: payload}}
	encoder := &fakeEncoder{}
	p, store := newTestPipeline(t, resolver, encoder, testConfig())

	res, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs:   []string{urlA, urlB},
		DurationSec: 2,
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	if res.SlideCount != 2 || res.Skipped != 0 {
		t.Errorf("SlideCount=%d Skipped=%d, want 2/0", res.SlideCount, res.Skipped)
	}
	if res.VideoURL != "https://media.example.com/videos/job-1.mp4" {
		t.Errorf("VideoURL = %q", res.VideoURL)
	}
	if !store.VideoExists("job-1") {
		t.Error("published video missing")
	}

	if encoder.concatCalls.Load() != 1 {
		t.Fatalf("concat calls = %d, want 1", encoder.concatCalls.Load())
	}
	if got := strings.Count(encoder.manifest, "duration 2.000"); got != 2 {
		t.Errorf("manifest has %d duration lines, want 2:\n%s", got, encoder.manifest)
	}
	// Final entry repeated without a duration.
	if got := strings.Count(encoder.manifest, "file '"); got != 3 {
		t.Errorf("manifest has %d file lines, want 3:\n%s", got, encoder.manifest)
	}

	// Work dir is gone after success.
	if _, err := os.Stat(filepath.Join(store.TempDir(), "job-1")); !os.IsNotExist(err) {
		t.Error("work dir should be removed after render")
	}
}

func TestRenderNoValidURLs(t *testing.T) {
	encoder := &fakeEncoder{}
	p, _ := newTestPipeline(t, &fakeResolver{}, encoder, testConfig())

	_, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs: []string{"https://evil.example.com/x.jpg", "not a url"},
	})
	if !errors.Is(err, ErrNoValidURLs) {
		t.Errorf("error = %v, want ErrNoValidURLs", err)
	}
	if encoder.calls() != 0 {
		t.Error("encoder must not run without inputs")
	}
}

func TestRenderAllImagesFailed(t *testing.T) {
	resolver := &fakeResolver{data: map[string][]byte{}}
	encoder := &fakeEncoder{}
	p, store := newTestPipeline(t, resolver, encoder, testConfig())

	_, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs: []string{urlA, urlB},
	})
	if !errors.Is(err, ErrAllImagesFailed) {
		t.Errorf("error = %v, want ErrAllImagesFailed", err)
	}
	if encoder.calls() != 0 {
		t.Error("encoder must not run when every image failed")
	}
	if _, err := os.Stat(filepath.Join(store.TempDir(), "job-1")); !os.IsNotExist(err) {
		t.Error("work dir should be removed after failure")
	}
}

func TestRenderDropsFailedImages(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload, urlC: payload}}
	encoder := &fakeEncoder{}
	p, _ := newTestPipeline(t, resolver, encoder, testConfig())

	res, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs: []string{urlA, urlB, urlC},
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if res.SlideCount != 2 || res.Skipped != 1 {
		t.Errorf("SlideCount=%d Skipped=%d, want 2/1", res.SlideCount, res.Skipped)
	}
	if got := strings.Count(encoder.manifest, "duration"); got != 2 {
		t.Errorf("dropped image must not appear in manifest, got %d entries", got)
	}
}

func TestRenderPlaceholderKeepsSlideCount(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload, urlC: payload}}
	encoder := &fakeEncoder{}
	cfg := testConfig()
	cfg.PlaceholderFrames = true
	p, _ := newTestPipeline(t, resolver, encoder, cfg)

	res, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs: []string{urlA, urlB, urlC},
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	// Three manifest entries: the failed slot renders as a placeholder.
	if got := strings.Count(encoder.manifest, "duration"); got != 3 {
		t.Errorf("manifest has %d entries, want 3:\n%s", got, encoder.manifest)
	}
}

func TestRenderKenBurns(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload, urlB: payload}}
	encoder := &fakeEncoder{}
	cfg := testConfig()
	cfg.KenBurns = true
	p, _ := newTestPipeline(t, resolver, encoder, cfg)

	res, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs:   []string{urlA, urlB},
		DurationSec: 2,
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if encoder.framesCalls.Load() != 1 || encoder.concatCalls.Load() != 0 {
		t.Fatal("pan/zoom mode must use the frame sequence encoder")
	}
	if encoder.fps != 5 {
		t.Errorf("fps = %d, want 5", encoder.fps)
	}
	// 2 slides x 2s x 5fps = 20 frames on disk at encode time.
	if len(encoder.framePaths) != 20 {
		t.Errorf("got %d frames, want 20", len(encoder.framePaths))
	}
	if res.SlideCount != 2 {
		t.Errorf("SlideCount = %d, want 2", res.SlideCount)
	}
}

func TestRenderLoop(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload}}
	encoder := &fakeEncoder{}
	p, store := newTestPipeline(t, resolver, encoder, testConfig())

	_, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs: []string{urlA},
		LoopCount: 3,
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if encoder.loopCalls.Load() != 1 || encoder.loopCount != 3 {
		t.Errorf("loop calls=%d count=%d, want 1/3", encoder.loopCalls.Load(), encoder.loopCount)
	}
	// The single-pass render happened exactly once; looping never re-encodes.
	if encoder.concatCalls.Load() != 1 {
		t.Errorf("concat calls = %d, want 1", encoder.concatCalls.Load())
	}

	data, err := os.ReadFile(filepath.Join(store.VideoDir(), "job-1.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "looped mp4" {
		t.Errorf("published content = %q, want looped output", data)
	}
}

func TestRenderCreditsGateBlocks(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload}}
	encoder := &fakeEncoder{}
	ledger := &fakeCredits{ok: false}
	p, _ := newTestPipeline(t, resolver, encoder, testConfig(), WithCreditsGate(ledger))

	_, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs:  []string{urlA},
		LicenseKey: "lic-1",
	})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("error = %v, want ErrInsufficientCredits", err)
	}
	if encoder.calls() != 0 {
		t.Error("encoding must not start against an empty balance")
	}
	if ledger.jobRef != "job-1" {
		t.Errorf("jobRef = %q, want job-1", ledger.jobRef)
	}
}

func TestRenderCreditsGatePasses(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload}}
	encoder := &fakeEncoder{}
	ledger := &fakeCredits{ok: true}
	p, _ := newTestPipeline(t, resolver, encoder, testConfig(), WithCreditsGate(ledger))

	_, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs:  []string{urlA},
		LicenseKey: "lic-1",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if ledger.calls.Load() != 1 {
		t.Errorf("ledger calls = %d, want 1", ledger.calls.Load())
	}
}

func TestRenderEncoderFailureCleansUp(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload}}
	encoder := &fakeEncoder{err: errors.New("exit status 1")}
	p, store := newTestPipeline(t, resolver, encoder, testConfig())

	_, err := p.Render(context.Background(), "job-1", Request{ImageURLs: []string{urlA}})
	if err == nil {
		t.Fatal("expected encode error")
	}
	if _, err := os.Stat(filepath.Join(store.TempDir(), "job-1")); !os.IsNotExist(err) {
		t.Error("work dir should be removed after encode failure")
	}
}

func TestRenderTimeoutReported(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload}}
	encoder := &fakeEncoder{err: errors.New("killed")}
	cfg := testConfig()
	cfg.JobTimeout = time.Nanosecond
	p, _ := newTestPipeline(t, resolver, encoder, cfg)

	_, err := p.Render(context.Background(), "job-1", Request{ImageURLs: []string{urlA}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrAllImagesFailed) {
		t.Errorf("expired budget must surface as a timeout, got %v", err)
	}
}

func TestRenderPerRequestFitMode(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload}}
	encoder := &fakeEncoder{}
	p, _ := newTestPipeline(t, resolver, encoder, testConfig())

	if _, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs: []string{urlA},
		FitMode:   "cover",
	}); err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	_, err := p.Render(context.Background(), "job-2", Request{
		ImageURLs: []string{urlA},
		FitMode:   "stretch",
	})
	if err == nil {
		t.Error("unknown fit mode must be rejected")
	}
}

func TestRenderMinDurationClamp(t *testing.T) {
	payload := testJPEG(t)
	resolver := &fakeResolver{data: map[string][]byte{urlA: payload}}
	encoder := &fakeEncoder{}
	p, _ := newTestPipeline(t, resolver, encoder, testConfig())

	if _, err := p.Render(context.Background(), "job-1", Request{
		ImageURLs:   []string{urlA},
		DurationSec: 0.25,
	}); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(encoder.manifest, "duration 1.000") {
		t.Errorf("sub-minimum duration must clamp to 1s:\n%s", encoder.manifest)
	}
}
