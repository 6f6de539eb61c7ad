// Package storage provides working-directory and video publication
// capabilities. It defines the Storage port and implementations for local
// disk and S3-backed delivery.
package storage

import (
	"context"
)

// Storage defines the interface for per-job working directories and
// publication of finished videos. The output filename is derived from the
// job ID, so concurrent jobs never collide.
type Storage interface {
	// WorkDir creates (if needed) and returns the job-private working
	// directory used for frame files and manifests.
	WorkDir(jobID string) (string, error)

	// RemoveWorkDir deletes the job's working directory.
	RemoveWorkDir(jobID string) error

	// Publish moves the finished MP4 into the public video area and
	// returns its public URL.
	Publish(ctx context.Context, jobID, srcPath string) (url string, err error)

	// VideoURL returns the public URL for a job's video without checking
	// that the artifact exists.
	VideoURL(jobID string) string

	// VideoExists reports whether the finished video artifact is present.
	// Poll responses rely on this to recover after in-memory job state is
	// lost.
	VideoExists(jobID string) bool
}
