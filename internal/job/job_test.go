package job

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusQueued, StatusDownloading, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusQueued, StatusDownloading}:     true,
		{StatusQueued, StatusFailed}:          true,
		{StatusDownloading, StatusProcessing}: true,
		{StatusDownloading, StatusFailed}:     true,
		{StatusProcessing, StatusCompleted}:   true,
		{StatusProcessing, StatusFailed}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			want := from == to || allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("%s -> %s: expected %t, got %t", from, to, want, got)
			}
		}
	}
}

func TestCheck(t *testing.T) {
	now := time.Now().UTC()

	base := func() Job {
		return Job{ID: "x", InputMark: 0, OutputMark: 1_000_000, Status: StatusQueued}
	}

	tests := []struct {
		name    string
		mutate  func(j *Job)
		wantErr bool
	}{
		{"queued", func(*Job) {}, false},
		{"completed with output", func(j *Job) {
			j.Status = StatusCompleted
			j.OutputPath = "x.mp4"
			j.DownloadURL = "http://h/download/x.mp4"
			j.CompletedAt = &now
		}, false},
		{"completed without output", func(j *Job) {
			j.Status = StatusCompleted
			j.CompletedAt = &now
		}, true},
		{"expired completed", func(j *Job) {
			j.Status = StatusCompleted
			j.CompletedAt = &now
			j.ExpiredAt = &now
		}, false},
		{"expired keeps output", func(j *Job) {
			j.Status = StatusCompleted
			j.OutputPath = "x.mp4"
			j.CompletedAt = &now
			j.ExpiredAt = &now
		}, true},
		{"failed with error", func(j *Job) {
			j.Status = StatusFailed
			j.Error = "boom"
			j.CompletedAt = &now
		}, false},
		{"failed without error", func(j *Job) {
			j.Status = StatusFailed
			j.CompletedAt = &now
		}, true},
		{"error while processing", func(j *Job) {
			j.Status = StatusProcessing
			j.Error = "boom"
		}, true},
		{"output on queued", func(j *Job) { j.OutputPath = "x.mp4" }, true},
		{"completed_at on queued", func(j *Job) { j.CompletedAt = &now }, true},
		{"bad range", func(j *Job) { j.OutputMark = j.InputMark }, true},
		{"unknown status", func(j *Job) { j.Status = "expired" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := base()
			tt.mutate(&j)
			err := j.Check()
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%t, got %v", tt.wantErr, err)
			}
		})
	}
}
