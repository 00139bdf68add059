package ffmpeg

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/ahmethakanbesel/clipper/internal/media"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	stdout string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (media.Result, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return media.Result{Stdout: f.stdout}, f.err
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestProbe(t *testing.T) {
	r := &fakeRunner{stdout: `{
		"streams": [
			{"codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001"},
			{"codec_type": "audio"}
		],
		"format": {"duration": "95.250000"}
	}`}
	e := New(WithRunner(r), WithBinaries("", "/usr/bin/ffprobe"))

	info, err := e.Probe(context.Background(), "/tmp/source.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Duration != 95250*time.Millisecond {
		t.Errorf("unexpected duration %v", info.Duration)
	}
	if info.Width != 1920 || info.Height != 1080 || info.FrameRate != "30000/1001" {
		t.Errorf("unexpected video info %+v", info)
	}
	if !info.HasAudio {
		t.Error("expected audio")
	}
	if r.calls[0].name != "/usr/bin/ffprobe" {
		t.Errorf("unexpected binary %s", r.calls[0].name)
	}
}

func TestProbe_Errors(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{"tool failure", &fakeRunner{err: &media.CommandError{Tool: "ffprobe", ExitCode: 1}}},
		{"bad json", &fakeRunner{stdout: "not json"}},
		{"no duration", &fakeRunner{stdout: `{"streams":[{"codec_type":"video"}],"format":{}}`}},
		{"audio only", &fakeRunner{stdout: `{"streams":[{"codec_type":"audio"}],"format":{"duration":"10"}}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(WithRunner(tt.runner)).Probe(context.Background(), "x.mp4"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTrim_Args(t *testing.T) {
	r := &fakeRunner{}
	e := New(WithRunner(r))

	err := e.Trim(context.Background(), media.TrimRequest{
		Input:    "/work/source.mp4",
		Output:   "/videos/.job.partial",
		Start:    30 * time.Second,
		Length:   30500 * time.Millisecond,
		HasAudio: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	args := r.calls[0].args
	checks := map[string]string{
		"-ss":       "30.000",
		"-t":        "30.500",
		"-i":        "/work/source.mp4",
		"-c:v":      "libx264",
		"-crf":      "17",
		"-preset":   "slow",
		"-pix_fmt":  "yuv420p",
		"-fps_mode": "passthrough",
		"-c:a":      "aac",
		"-f":        "mp4",
	}
	for flag, want := range checks {
		if got := argAfter(args, flag); got != want {
			t.Errorf("%s: expected %q, got %q", flag, want, got)
		}
	}
	if args[len(args)-1] != "/videos/.job.partial" {
		t.Errorf("output must be last, got %v", args)
	}
	if slices.Contains(args, "-an") {
		t.Error("audio must be kept")
	}
}

func TestTrim_NoAudio(t *testing.T) {
	r := &fakeRunner{}
	if err := New(WithRunner(r)).Trim(context.Background(), media.TrimRequest{
		Input: "in", Output: "out", Length: time.Second,
	}); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(r.calls[0].args, "-an") {
		t.Errorf("expected -an, got %v", r.calls[0].args)
	}
}

func TestTrim_Failure(t *testing.T) {
	cmdErr := &media.CommandError{Tool: "ffmpeg", ExitCode: 1, Stderr: "Invalid data found when processing input"}
	err := New(WithRunner(&fakeRunner{err: cmdErr})).Trim(context.Background(), media.TrimRequest{
		Input: "in", Output: "out", Length: time.Second,
	})
	if !errors.Is(err, cmdErr) {
		t.Fatalf("expected command error, got %v", err)
	}

	if err := New(WithRunner(&fakeRunner{})).Trim(context.Background(), media.TrimRequest{}); err == nil {
		t.Fatal("expected error for empty span")
	}
}
