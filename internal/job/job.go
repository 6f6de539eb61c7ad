// Package job provides the RenderJob aggregate for slideshow render work.
// It includes the job entity with its state machine, the repository port
// for persistence, and a bounded worker pool for background execution.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/slidereel/slidereel-api/internal/job/id"
)

// Status represents the current state of a RenderJob.
type Status string

const (
	// StatusQueued indicates the job is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusRunning indicates the job is being rendered.
	StatusRunning Status = "running"
	// StatusDone indicates the job finished successfully.
	StatusDone Status = "done"
	// StatusError indicates the job failed.
	StatusError Status = "error"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// Terminal states have no outgoing transitions.
var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusError},
	StatusRunning: {StatusDone, StatusError},
	StatusDone:    {},
	StatusError:   {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// RenderJob represents one slideshow render request moving through the
// pipeline. Only the orchestration task processing a job mutates it.
type RenderJob struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job. Temp dirs and the output
	// filename are derived from it.
	ID string
	// Status is the current job state.
	Status Status
	// ImageURLs are the normalized image URLs surviving dedup and cap.
	ImageURLs []string
	// DurationSec is the requested per-slide display duration.
	DurationSec float64
	// LoopCount is how many times the finished sequence repeats.
	LoopCount int
	// FitMode is the requested layout mode ("contain", "cover", "blur").
	FitMode string
	// VideoPath is the local path to the finished MP4.
	VideoPath string
	// VideoURL is the public URL of the finished MP4.
	VideoURL string
	// Error contains the failure reason if the job ended in error.
	Error string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when rendering started.
	StartedAt time.Time
	// CompletedAt is when rendering finished.
	CompletedAt time.Time
}

// New creates a RenderJob with a generated ID and initial queued status.
func New() *RenderJob {
	now := time.Now()
	return &RenderJob{
		ID:        id.Generate(),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewWithID creates a RenderJob with the specified ID and initial queued
// status. Useful for testing or externally generated IDs.
func NewWithID(jobID string) *RenderJob {
	now := time.Now()
	return &RenderJob{
		ID:        jobID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *RenderJob) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusDone, StatusError:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from queued to running.
func (j *RenderJob) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Done transitions the job to done and records the output location.
func (j *RenderJob) Done(videoPath, videoURL string) error {
	j.mu.Lock()
	j.VideoPath = videoPath
	j.VideoURL = videoURL
	j.mu.Unlock()
	return j.TransitionTo(StatusDone)
}

// Fail transitions the job to error with a failure reason.
func (j *RenderJob) Fail(reason string) error {
	j.mu.Lock()
	j.Error = reason
	j.mu.Unlock()
	return j.TransitionTo(StatusError)
}

// GetStatus returns the current job status (thread-safe).
func (j *RenderJob) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *RenderJob) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusDone || j.Status == StatusError
}

// Clone creates a deep copy of the job for safe reads.
func (j *RenderJob) Clone() *RenderJob {
	j.mu.RLock()
	defer j.mu.RUnlock()

	urls := make([]string, len(j.ImageURLs))
	copy(urls, j.ImageURLs)

	return &RenderJob{
		ID:          j.ID,
		Status:      j.Status,
		ImageURLs:   urls,
		DurationSec: j.DurationSec,
		LoopCount:   j.LoopCount,
		FitMode:     j.FitMode,
		VideoPath:   j.VideoPath,
		VideoURL:    j.VideoURL,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
