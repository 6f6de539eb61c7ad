package job

import (
	"errors"
	"strings"
	"testing"
)

func TestNewJobDefaults(t *testing.T) {
	j := New()

	if j.ID == "" {
		t.Error("expected generated ID")
	}
	if !strings.HasPrefix(j.ID, "job-") {
		t.Errorf("ID = %q, want job- prefix", j.ID)
	}
	if j.Status != StatusQueued {
		t.Errorf("Status = %q, want %q", j.Status, StatusQueued)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		t.Error("timestamps must be set on creation")
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "queued to running", from: StatusQueued, to: StatusRunning},
		{name: "queued to error", from: StatusQueued, to: StatusError},
		{name: "running to done", from: StatusRunning, to: StatusDone},
		{name: "running to error", from: StatusRunning, to: StatusError},
		{name: "queued to done skips running", from: StatusQueued, to: StatusDone, wantErr: true},
		{name: "done is terminal", from: StatusDone, to: StatusRunning, wantErr: true},
		{name: "error is terminal", from: StatusError, to: StatusQueued, wantErr: true},
		{name: "done to error", from: StatusDone, to: StatusError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewWithID("test-job")
			j.Status = tt.from

			err := j.TransitionTo(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("error = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionTo(%s) error: %v", tt.to, err)
			}
			if j.GetStatus() != tt.to {
				t.Errorf("status = %q, want %q", j.GetStatus(), tt.to)
			}
		})
	}
}

func TestLifecycleTimestamps(t *testing.T) {
	j := New()

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if j.StartedAt.IsZero() {
		t.Error("StartedAt must be set after Start")
	}

	if err := j.Done("/videos/x.mp4", "https://cdn.example.com/x.mp4"); err != nil {
		t.Fatalf("Done() error: %v", err)
	}
	if j.CompletedAt.IsZero() {
		t.Error("CompletedAt must be set after Done")
	}
	if j.VideoPath != "/videos/x.mp4" || j.VideoURL != "https://cdn.example.com/x.mp4" {
		t.Errorf("output location not recorded: %q %q", j.VideoPath, j.VideoURL)
	}
	if !j.IsTerminal() {
		t.Error("done job must be terminal")
	}
}

func TestFailRecordsReason(t *testing.T) {
	j := New()
	if err := j.Start(); err != nil {
		t.Fatal(err)
	}
	if err := j.Fail("all images failed to load"); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}
	if j.Error != "all images failed to load" {
		t.Errorf("Error = %q", j.Error)
	}
	if !j.IsTerminal() {
		t.Error("failed job must be terminal")
	}
}

func TestClone(t *testing.T) {
	j := New()
	j.ImageURLs = []string{"https://i.ebayimg.com/images/g/a/s-l1600.jpg"}
	j.DurationSec = 2.5
	j.LoopCount = 3
	j.FitMode = "cover"

	c := j.Clone()
	if c.ID != j.ID || c.DurationSec != 2.5 || c.LoopCount != 3 || c.FitMode != "cover" {
		t.Error("clone must copy all fields")
	}

	c.ImageURLs[0] = "mutated"
	if j.ImageURLs[0] == "mutated" {
		t.Error("clone must deep copy ImageURLs")
	}
}
