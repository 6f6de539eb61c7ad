// Package server provides the HTTP server for the slideshow render API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// RenderRequest is the HTTP request body for both the synchronous render
// endpoint and asynchronous job submission.
type RenderRequest struct {
	// ImageURLs is the list of listing photo URLs to turn into a slideshow.
	ImageURLs []string `json:"imageUrls" validate:"required,min=1,dive,url"`
	// Duration is the per-slide display time in seconds.
	Duration float64 `json:"duration" validate:"omitempty,gt=0,max=60"`
	// LoopCount repeats the finished sequence this many times.
	LoopCount int `json:"loopCount" validate:"omitempty,min=1,max=10"`
	// FitMode overrides the configured layout mode.
	FitMode string `json:"fitMode" validate:"omitempty,oneof=contain cover blur"`
	// LicenseKey identifies the credits balance to charge, when credits
	// are enforced.
	LicenseKey string `json:"licenseKey"`
}

// RenderResponse is the HTTP response for a successful synchronous render.
type RenderResponse struct {
	// VideoURL is the public URL of the finished MP4.
	VideoURL string `json:"videoUrl"`
}

// CreateJobResponse is the HTTP response after submitting an async job.
type CreateJobResponse struct {
	OK bool `json:"ok"`
	// JobID is the unique identifier for the created job.
	JobID string `json:"jobId"`
	// Count is the number of URLs that survived normalization and the cap.
	Count int `json:"count"`
}

// JobStatusResponse is the HTTP response for polling a job.
type JobStatusResponse struct {
	OK bool `json:"ok"`
	// Status is the current job status: queued, running, done or error.
	Status string `json:"status"`
	// URL is the public video URL once the job is done.
	URL string `json:"url,omitempty"`
	// Error contains the failure reason if the job ended in error.
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
// Config reports which required configuration values are present,
// independent of render-pipeline health.
type HealthResponse struct {
	Status string          `json:"status"`
	Config map[string]bool `json:"config"`
}
