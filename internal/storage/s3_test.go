package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newS3TestStorage(t *testing.T, endpoint string) *S3Storage {
	t.Helper()
	local := newTestStorage(t)

	cfg := S3Config{
		Bucket:          "reel-videos",
		Region:          "eu-west-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}

	s, err := NewS3Storage(local, cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error: %v", err)
	}
	return s
}

func TestNewS3Storage(t *testing.T) {
	s := newS3TestStorage(t, "http://localhost:4566")

	if s.bucket != "reel-videos" {
		t.Errorf("bucket = %q, want reel-videos", s.bucket)
	}
	if s.region != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", s.region)
	}

	// LocalStorage behavior is inherited.
	dir, err := s.WorkDir("job-1")
	if err != nil {
		t.Fatalf("WorkDir() error: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("work dir not created: %v", err)
	}
	if err := s.RemoveWorkDir("job-1"); err != nil {
		t.Fatalf("RemoveWorkDir() error: %v", err)
	}
}

func TestS3PublishMockServer(t *testing.T) {
	var gotMethod, gotPath, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read upload body: %v", err)
		}
		gotBody = body

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newS3TestStorage(t, server.URL)

	dir, err := s.WorkDir("job-1")
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "render.mp4")
	if err := os.WriteFile(src, []byte("video bytes"), 0600); err != nil {
		t.Fatal(err)
	}

	url, err := s.Publish(context.Background(), "job-1", src)
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	want := "https://reel-videos.s3.eu-west-1.amazonaws.com/videos/job-1.mp4"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if !strings.Contains(gotPath, "videos/job-1.mp4") {
		t.Errorf("unexpected upload path: %s", gotPath)
	}
	if gotContentType != "video/mp4" {
		t.Errorf("content type = %q, want video/mp4", gotContentType)
	}
	if string(gotBody) != "video bytes" {
		t.Errorf("uploaded body = %q, want video bytes", gotBody)
	}

	// Local publication happens first, so poll recovery from disk still works.
	if !s.LocalStorage.VideoExists("job-1") {
		t.Error("video must also be published locally")
	}
}

func TestS3PublishUploadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	s := newS3TestStorage(t, server.URL)

	dir, err := s.WorkDir("job-1")
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "render.mp4")
	if err := os.WriteFile(src, []byte("video bytes"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Publish(context.Background(), "job-1", src); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestS3VideoURL(t *testing.T) {
	s := newS3TestStorage(t, "http://localhost:4566")

	want := "https://reel-videos.s3.eu-west-1.amazonaws.com/videos/job-42.mp4"
	if got := s.VideoURL("job-42"); got != want {
		t.Errorf("VideoURL() = %q, want %q", got, want)
	}
}
