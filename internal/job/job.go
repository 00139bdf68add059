package job

import (
	"fmt"
	"time"

	"github.com/ahmethakanbesel/clipper/internal/timestamp"
)

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Progress messages shown to clients alongside the status.
const (
	MessageQueued      = "Job queued for processing"
	MessageDownloading = "Downloading source video"
	MessageProcessing  = "Processing video segment"
	MessageCompleted   = "Video processed successfully"
	MessageFailed      = "Processing failed"
	MessageExpired     = "Video deleted after retention window"
)

// Terminal reports whether no further transitions can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition enforces queued → downloading → processing → completed,
// with failed reachable from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusDownloading || to == StatusFailed
	case StatusDownloading:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type Job struct {
	ID          string         `json:"jobId"`
	SourceURL   string         `json:"sourceUrl"`
	InputMark   timestamp.Mark `json:"inputMark"`
	OutputMark  timestamp.Mark `json:"outputMark"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	OutputPath  string         `json:"-"`
	DownloadURL string         `json:"downloadUrl,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	ExpiredAt   *time.Time     `json:"expiredAt,omitempty"`
}

// Expired reports whether the retention sweeper removed the artifact.
func (j *Job) Expired() bool { return j.ExpiredAt != nil }

// Check validates the record invariants that every persisted job must hold.
func (j *Job) Check() error {
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	if j.OutputMark <= j.InputMark {
		return fmt.Errorf("output mark %s not after input mark %s", j.OutputMark, j.InputMark)
	}

	hasOutput := j.OutputPath != ""
	wantOutput := j.Status == StatusCompleted && !j.Expired()
	if hasOutput != wantOutput {
		return fmt.Errorf("output path present=%t in status %s (expired=%t)", hasOutput, j.Status, j.Expired())
	}
	if j.DownloadURL != "" && !hasOutput {
		return fmt.Errorf("download url without output path")
	}
	if (j.Error != "") != (j.Status == StatusFailed) {
		return fmt.Errorf("error message present=%t in status %s", j.Error != "", j.Status)
	}
	if (j.CompletedAt != nil) != j.Status.Terminal() {
		return fmt.Errorf("completed_at present=%t in status %s", j.CompletedAt != nil, j.Status)
	}
	if j.Expired() && j.Status != StatusCompleted {
		return fmt.Errorf("only completed jobs can expire, got %s", j.Status)
	}
	return nil
}
