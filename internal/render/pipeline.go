// Package render orchestrates the slideshow pipeline: URL normalization,
// image resolution, frame compositing, sequencing, and encoder invocation.
// A render progresses through strictly sequential stages under a wall-clock
// budget, and its working directory is removed on every exit path.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/slidereel/slidereel-api/internal/compose"
	"github.com/slidereel/slidereel-api/internal/credits"
	"github.com/slidereel/slidereel-api/internal/encode"
	"github.com/slidereel/slidereel-api/internal/fetch"
	"github.com/slidereel/slidereel-api/internal/imageurl"
	"github.com/slidereel/slidereel-api/internal/sequence"
	"github.com/slidereel/slidereel-api/internal/storage"
)

// Static errors for render orchestration.
var (
	// ErrNoValidURLs is returned when zero URLs survive normalization.
	ErrNoValidURLs = errors.New("render: no image URLs survived normalization")
	// ErrAllImagesFailed is returned when zero images resolved.
	ErrAllImagesFailed = errors.New("render: all images failed to load")
	// ErrTimeout is returned when the wall-clock budget is exceeded.
	ErrTimeout = errors.New("render: wall-clock budget exceeded")
	// ErrInsufficientCredits is returned when the credits gate refuses the job.
	ErrInsufficientCredits = errors.New("render: insufficient credits")
)

// Resolver is the port consumed for image resolution.
type Resolver interface {
	ResolveAll(ctx context.Context, refs []imageurl.ImageRef) []fetch.Result
}

// Encoder is the port consumed for encoder invocation. Implementations
// must terminate the external process on context cancellation.
type Encoder interface {
	EncodeConcat(ctx context.Context, listPath, output string, p encode.Params) error
	EncodeFrames(ctx context.Context, pattern string, fps int, output string, p encode.Params) error
	Loop(ctx context.Context, videoPath string, count int, output string) error
}

// Config holds process-wide render defaults, overridable per request.
type Config struct {
	CanvasWidth        int
	CanvasHeight       int
	FPS                int
	DefaultDurationSec float64
	MinDurationSec     float64
	FitMode            compose.FitMode
	KenBurns           bool
	// PlaceholderFrames renders a placeholder for unresolved images,
	// keeping the slide count stable. When false they are dropped.
	PlaceholderFrames bool
	MaxImages         int
	JobTimeout        time.Duration
	EncodeParams      encode.Params
	// CreditCost is the cost charged per render when a credits gate is wired.
	CreditCost int
}

// Request is one render submission.
type Request struct {
	ImageURLs   []string
	DurationSec float64 // 0 uses the configured default
	LoopCount   int     // <1 plays once
	FitMode     string  // "" uses the configured default
	LicenseKey  string  // consumed by the credits gate when configured
}

// Result describes a finished render.
type Result struct {
	VideoPath  string
	VideoURL   string
	SlideCount int
	Skipped    int
	Elapsed    time.Duration
}

// Pipeline drives one render job from raw URLs to a published MP4.
type Pipeline struct {
	normalizer *imageurl.Normalizer
	resolver   Resolver
	encoder    Encoder
	store      storage.Storage
	credits    credits.Client // nil when no gate is configured
	cfg        Config
	logger     *slog.Logger
}

// PipelineOption is a function that configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithCreditsGate wires the credits ledger in front of the encoding stage.
func WithCreditsGate(client credits.Client) PipelineOption {
	return func(p *Pipeline) {
		p.credits = client
	}
}

// NewPipeline creates a Pipeline with the given collaborators.
func NewPipeline(
	normalizer *imageurl.Normalizer,
	resolver Resolver,
	encoder Encoder,
	store storage.Storage,
	cfg Config,
	logger *slog.Logger,
	opts ...PipelineOption,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CreditCost < 1 {
		cfg.CreditCost = 1
	}
	p := &Pipeline{
		normalizer: normalizer,
		resolver:   resolver,
		encoder:    encoder,
		store:      store,
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NormalizeRefs applies normalization, dedup, and the input cap to raw URLs.
// Exposed so the async submission endpoint can reject empty batches before
// a job is created.
func (p *Pipeline) NormalizeRefs(rawURLs []string) []imageurl.ImageRef {
	return p.normalizer.NormalizeAll(rawURLs, p.cfg.MaxImages)
}

// Render runs the whole pipeline for one job. The job's working directory
// is removed before returning, whatever the outcome.
func (p *Pipeline) Render(ctx context.Context, jobID string, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	start := time.Now()

	log := p.logger.With(slog.String("job_id", jobID))

	// Stage: normalizing
	refs := p.NormalizeRefs(req.ImageURLs)
	if len(refs) == 0 {
		return nil, ErrNoValidURLs
	}
	log.Info("urls normalized",
		slog.Int("submitted", len(req.ImageURLs)),
		slog.Int("surviving", len(refs)),
	)

	workDir, err := p.store.WorkDir(jobID)
	if err != nil {
		return nil, fmt.Errorf("render: create work dir: %w", err)
	}
	defer func() {
		// Best effort: a failed cleanup is logged, never escalated.
		if err := p.store.RemoveWorkDir(jobID); err != nil {
			log.Warn("work dir cleanup failed", slog.String("error", err.Error()))
		}
	}()

	// Stage: resolving
	sources, skipped := p.resolveSources(ctx, refs, log)
	if countNonNil(sources) == 0 {
		return nil, p.timeoutOr(ctx, ErrAllImagesFailed)
	}

	// Stage: compositing
	duration := p.slideDuration(req.DurationSec)
	composer, err := p.composerFor(req.FitMode)
	if err != nil {
		return nil, err
	}

	var framePaths []string
	var frameCount int
	if p.cfg.KenBurns {
		framePaths, frameCount, err = p.compositeKenBurns(composer, sources, duration, workDir)
	} else {
		framePaths, frameCount, err = p.compositeStills(composer, sources, workDir)
	}
	if err != nil {
		return nil, p.timeoutOr(ctx, err)
	}
	log.Info("frames composited",
		slog.Int("slides", countNonNil(sources)),
		slog.Int("frames", frameCount),
	)

	// Credits gate: never start encoding against an empty balance.
	if p.credits != nil {
		res, err := p.credits.CheckAndConsume(ctx, req.LicenseKey, p.cfg.CreditCost, jobID)
		if err != nil {
			return nil, p.timeoutOr(ctx, fmt.Errorf("render: credits check: %w", err))
		}
		if !res.OK {
			return nil, ErrInsufficientCredits
		}
	}

	// Stages: sequencing + encoding
	rawOut := filepath.Join(workDir, "render.mp4")
	if p.cfg.KenBurns {
		pattern := filepath.Join(workDir, "frame_%05d.jpg")
		err = p.encoder.EncodeFrames(ctx, pattern, p.cfg.FPS, rawOut, p.cfg.EncodeParams)
	} else {
		manifest := sequence.Build(framePaths, duration, p.cfg.MinDurationSec)
		listPath := filepath.Join(workDir, "concat.txt")
		if err := manifest.WriteFile(listPath); err != nil {
			return nil, err
		}
		err = p.encoder.EncodeConcat(ctx, listPath, rawOut, p.cfg.EncodeParams)
	}
	if err != nil {
		return nil, p.timeoutOr(ctx, fmt.Errorf("render: encode: %w", err))
	}

	// Loop by stream copy of the finished single pass, never by re-render.
	final := rawOut
	if req.LoopCount > 1 {
		looped := filepath.Join(workDir, "looped.mp4")
		if err := p.encoder.Loop(ctx, rawOut, req.LoopCount, looped); err != nil {
			return nil, p.timeoutOr(ctx, fmt.Errorf("render: loop: %w", err))
		}
		final = looped
	}

	url, err := p.store.Publish(ctx, jobID, final)
	if err != nil {
		return nil, p.timeoutOr(ctx, fmt.Errorf("render: publish: %w", err))
	}

	result := &Result{
		VideoPath:  final,
		VideoURL:   url,
		SlideCount: countNonNil(sources),
		Skipped:    skipped,
		Elapsed:    time.Since(start),
	}
	log.Info("render finished",
		slog.String("video_url", url),
		slog.Int("slides", result.SlideCount),
		slog.Int("skipped", result.Skipped),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// resolveSources fetches and decodes all references. Failed images are
// logged and either dropped or kept as nil placeholders depending on the
// configured policy. The returned count of skipped entries covers both.
func (p *Pipeline) resolveSources(ctx context.Context, refs []imageurl.ImageRef, log *slog.Logger) ([]image.Image, int) {
	results := p.resolver.ResolveAll(ctx, refs)

	sources := make([]image.Image, 0, len(results))
	skipped := 0
	for _, res := range results {
		var img image.Image
		if res.Err != nil {
			log.Warn("image skipped",
				slog.String("url", res.Ref.NormalizedURL),
				slog.String("error", res.Err.Error()),
			)
		} else {
			decoded, err := compose.Decode(res.Resolved.Data)
			if err != nil {
				log.Warn("image skipped",
					slog.String("url", res.Resolved.VariantURL),
					slog.String("error", err.Error()),
				)
			} else {
				img = decoded
			}
		}

		if img == nil {
			skipped++
			if !p.cfg.PlaceholderFrames {
				continue
			}
		}
		sources = append(sources, img)
	}
	return sources, skipped
}

// compositeStills writes one frame file per slide and returns the ordered
// frame paths.
func (p *Pipeline) compositeStills(composer *compose.Composer, sources []image.Image, workDir string) ([]string, int, error) {
	paths := make([]string, 0, len(sources))
	for i, src := range sources {
		framePath := filepath.Join(workDir, fmt.Sprintf("slide_%03d.jpg", i))
		if err := compose.SaveFrame(composer.Frame(src), framePath); err != nil {
			return nil, 0, err
		}
		paths = append(paths, framePath)
	}
	return paths, len(paths), nil
}

// compositeKenBurns writes a globally numbered frame burst per slide for
// fixed-framerate encoding.
func (p *Pipeline) compositeKenBurns(composer *compose.Composer, sources []image.Image, duration float64, workDir string) ([]string, int, error) {
	framesPerSlide := int(math.Round(duration * float64(p.cfg.FPS)))
	if framesPerSlide < 1 {
		framesPerSlide = 1
	}

	var paths []string
	n := 0
	for i, src := range sources {
		for _, frame := range composer.KenBurnsFrames(src, i, framesPerSlide) {
			framePath := filepath.Join(workDir, fmt.Sprintf("frame_%05d.jpg", n))
			if err := compose.SaveFrame(frame, framePath); err != nil {
				return nil, 0, err
			}
			paths = append(paths, framePath)
			n++
		}
	}
	return paths, n, nil
}

// slideDuration applies the default and minimum duration rules.
func (p *Pipeline) slideDuration(requested float64) float64 {
	if requested <= 0 {
		requested = p.cfg.DefaultDurationSec
	}
	if requested < p.cfg.MinDurationSec {
		requested = p.cfg.MinDurationSec
	}
	return requested
}

// composerFor builds the composer for the request's fit mode, falling back
// to the configured default.
func (p *Pipeline) composerFor(fitMode string) (*compose.Composer, error) {
	mode := p.cfg.FitMode
	if fitMode != "" {
		parsed, err := compose.ParseFitMode(fitMode)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}
	return compose.NewComposer(p.cfg.CanvasWidth, p.cfg.CanvasHeight, mode)
}

// timeoutOr maps a failure to ErrTimeout when the budget expired, so
// timeouts carry a distinct reason.
func (p *Pipeline) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func countNonNil(sources []image.Image) int {
	n := 0
	for _, s := range sources {
		if s != nil {
			n++
		}
	}
	return n
}
