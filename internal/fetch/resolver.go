// Package fetch resolves normalized gallery URLs to usable image bytes.
// It walks the descending resolution ladder for each image, discarding
// unreachable variants and low-byte CDN placeholders, and returns the first
// variant that both meets the size threshold and decodes as an image.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	// Register decoders for the formats the gallery CDN serves.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/slidereel/slidereel-api/internal/imageurl"
)

// ErrUnresolvable is returned when every variant in the ladder failed.
var ErrUnresolvable = errors.New("fetch: no variant resolved")

// maxImageBytes caps the response body read for a single image.
const maxImageBytes = 32 << 20

// Resolved holds the bytes actually used for one image and the variant URL
// that produced them. It is owned by the pipeline run that created it and
// discarded after compositing.
type Resolved struct {
	// Ref is the normalized input reference.
	Ref imageurl.ImageRef
	// Data is the raw image bytes of the winning variant.
	Data []byte
	// VariantURL is the candidate URL that produced Data.
	VariantURL string
	// Width and Height are the decoded pixel dimensions.
	Width  int
	Height int
}

// Result pairs an input reference with its resolution outcome.
type Result struct {
	Ref      imageurl.ImageRef
	Resolved *Resolved
	Err      error
}

// Resolver fetches image variants over HTTP with bounded per-attempt
// timeouts and a configurable minimum byte threshold.
type Resolver struct {
	client      *http.Client
	minBytes    int64
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

// Option is a function that configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

// WithMinBytes sets the minimum byte threshold below which a response is
// treated as a CDN placeholder and skipped.
func WithMinBytes(n int64) Option {
	return func(r *Resolver) {
		r.minBytes = n
	}
}

// WithTimeout sets the per-attempt fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithConcurrency bounds the number of images fetched in parallel by ResolveAll.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver with sensible defaults.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:      &http.Client{},
		minBytes:    2048,
		timeout:     8 * time.Second,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks the resolution ladder for one reference and returns the
// first variant that passes the size threshold and decodes successfully.
// Per-variant failures advance the ladder; an exhausted ladder returns
// ErrUnresolvable.
func (r *Resolver) Resolve(ctx context.Context, ref imageurl.ImageRef) (*Resolved, error) {
	ladder := imageurl.Variants(ref.NormalizedURL)

	for _, candidate := range ladder {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		}

		data, err := r.fetchOne(ctx, candidate)
		if err != nil {
			r.logger.Debug("variant fetch failed",
				slog.String("url", candidate),
				slog.String("error", err.Error()),
			)
			continue
		}

		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			r.logger.Debug("variant not decodable",
				slog.String("url", candidate),
				slog.String("error", err.Error()),
			)
			continue
		}

		return &Resolved{
			Ref:        ref,
			Data:       data,
			VariantURL: candidate,
			Width:      cfg.Width,
			Height:     cfg.Height,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnresolvable, ref.NormalizedURL)
}

// ResolveAll resolves a list of references with bounded parallelism.
// Results preserve input order; individual failures are reported per entry,
// never as an error for the whole batch.
func (r *Resolver) ResolveAll(ctx context.Context, refs []imageurl.ImageRef) []Result {
	results := make([]Result, len(refs))
	sem := make(chan struct{}, r.concurrency)

	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref imageurl.ImageRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resolved, err := r.Resolve(ctx, ref)
			results[i] = Result{Ref: ref, Resolved: resolved, Err: err}
		}(i, ref)
	}
	wg.Wait()

	return results
}

// fetchOne performs a single bounded GET and returns the body when the
// status is 2xx and the size passes the placeholder threshold.
func (r *Resolver) fetchOne(ctx context.Context, rawURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if int64(len(data)) < r.minBytes {
		return nil, fmt.Errorf("fetch: %d bytes below placeholder threshold %d", len(data), r.minBytes)
	}

	return data, nil
}
