package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/slidereel/slidereel-api/internal/config"
	"github.com/slidereel/slidereel-api/internal/job"
	"github.com/slidereel/slidereel-api/internal/render"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *render.Service
	cfg       *config.Config
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *render.Service, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		cfg:       cfg,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests. It reports readiness plus which
// required configuration values are present.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Config: map[string]bool{
			"public_base_url": h.cfg.PublicBaseURL != "",
			"video_dir":       h.cfg.VideoDir != "",
			"credits":         h.cfg.CreditsEnabled(),
			"s3":              h.cfg.S3Enabled(),
		},
	})
}

// Render handles POST /render requests: a synchronous render that responds
// only once the video is published or the job failed.
func (h *Handlers) Render(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRenderRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.RenderSync(r.Context(), toRenderInput(req))
	if err != nil {
		if errors.Is(err, render.ErrNoValidURLs) {
			writeError(w, http.StatusBadRequest, "no usable image URLs after normalization", "NO_VALID_URLS")
			return
		}
		h.logger.Error("synchronous render failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error(), "RENDER_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, RenderResponse{VideoURL: result.VideoURL})
}

// CreateJob handles POST /jobs requests: asynchronous submission through
// the worker pool.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRenderRequest(w, r)
	if !ok {
		return
	}

	created, count, err := h.service.SubmitAsync(r.Context(), toRenderInput(req))
	if err != nil {
		switch {
		case errors.Is(err, render.ErrNoValidURLs):
			writeError(w, http.StatusBadRequest, "no usable image URLs after normalization", "NO_VALID_URLS")
		case errors.Is(err, job.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "render queue is full, retry later", "QUEUE_FULL")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.Int("count", count),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		OK:    true,
		JobID: created.ID,
		Count: count,
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	resp := JobStatusResponse{
		OK:     true,
		Status: string(found.Status),
		Error:  found.Error,
	}
	if found.Status == job.StatusDone {
		resp.URL = found.VideoURL
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeRenderRequest decodes and validates the shared render request body.
func (h *Handlers) decodeRenderRequest(w http.ResponseWriter, r *http.Request) (RenderRequest, bool) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return RenderRequest{}, false
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return RenderRequest{}, false
	}

	return req, true
}

// toRenderInput maps the DTO onto the pipeline request.
func toRenderInput(req RenderRequest) render.Request {
	return render.Request{
		ImageURLs:   req.ImageURLs,
		DurationSec: req.Duration,
		LoopCount:   req.LoopCount,
		FitMode:     req.FitMode,
		LicenseKey:  req.LicenseKey,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
