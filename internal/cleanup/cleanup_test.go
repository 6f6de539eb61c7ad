package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepRemovesExpiredEntries(t *testing.T) {
	dir := t.TempDir()

	oldDir := filepath.Join(dir, "job-old")
	if err := os.Mkdir(oldDir, 0750); err != nil {
		t.Fatal(err)
	}
	oldFile := filepath.Join(dir, "old.mp4")
	if err := os.WriteFile(oldFile, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	freshFile := filepath.Join(dir, "fresh.mp4")
	if err := os.WriteFile(freshFile, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	stale := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{oldDir, oldFile} {
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	j := NewJanitor([]string{dir}, time.Hour, time.Hour, nil)
	j.Sweep()

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("expired dir should be removed")
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expired file should be removed")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Errorf("fresh file should survive: %v", err)
	}
}

func TestSweepMissingDir(t *testing.T) {
	j := NewJanitor([]string{"/nonexistent/cleanup/dir"}, time.Hour, time.Hour, nil)
	// Must not panic; a missing dir is just skipped.
	j.Sweep()
}

func TestJanitorStartStop(t *testing.T) {
	j := NewJanitor([]string{t.TempDir()}, time.Hour, time.Hour, nil)
	if err := j.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	j.Stop()
}
