package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage using local disk. Finished videos land in
// a public video directory served by the host; working directories live
// under a temp root, one per job.
type LocalStorage struct {
	tempDir  string
	videoDir string
	baseURL  string
}

// NewLocalStorage creates a LocalStorage instance. Both directories are
// created if they don't exist. baseURL is the public prefix under which the
// video directory is served.
func NewLocalStorage(tempDir, videoDir, baseURL string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "slidereel")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	if err := os.MkdirAll(videoDir, 0750); err != nil {
		return nil, fmt.Errorf("create video directory: %w", err)
	}

	return &LocalStorage{
		tempDir:  tempDir,
		videoDir: videoDir,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// TempDir returns the temp root path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// VideoDir returns the public video directory path.
func (s *LocalStorage) VideoDir() string {
	return s.videoDir
}

// WorkDir creates and returns the job-private working directory.
func (s *LocalStorage) WorkDir(jobID string) (string, error) {
	dir := filepath.Join(s.tempDir, jobID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// RemoveWorkDir deletes the job's working directory.
func (s *LocalStorage) RemoveWorkDir(jobID string) error {
	if err := os.RemoveAll(filepath.Join(s.tempDir, jobID)); err != nil {
		return fmt.Errorf("remove work dir: %w", err)
	}
	return nil
}

// Publish moves the finished MP4 into the video directory and returns its
// public URL. A cross-device rename falls back to copy-and-remove.
func (s *LocalStorage) Publish(ctx context.Context, jobID, srcPath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dst := s.videoFilePath(jobID)
	if err := os.Rename(srcPath, dst); err != nil {
		if err := copyAndRemove(srcPath, dst); err != nil {
			return "", fmt.Errorf("publish video: %w", err)
		}
	}

	return s.VideoURL(jobID), nil
}

// VideoURL returns the public URL for a job's video.
func (s *LocalStorage) VideoURL(jobID string) string {
	return s.baseURL + "/" + jobID + ".mp4"
}

// VideoExists reports whether the finished video artifact is on disk.
func (s *LocalStorage) VideoExists(jobID string) bool {
	info, err := os.Stat(s.videoFilePath(jobID))
	return err == nil && !info.IsDir()
}

func (s *LocalStorage) videoFilePath(jobID string) string {
	return filepath.Join(s.videoDir, jobID+".mp4")
}

// copyAndRemove copies src to dst and removes src.
func copyAndRemove(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is produced by the render pipeline
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640) // #nosec G304
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

	_ = os.Remove(src)
	return nil
}
