// Package ffmpeg probes and trims media with the ffprobe and ffmpeg binaries.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ahmethakanbesel/clipper/internal/media"
)

type Encoder struct {
	ffmpegPath   string
	ffprobePath  string
	crf          int
	preset       string
	audioBitrate string
	threads      int
	runner       media.Runner
}

func New(opts ...Option) *Encoder {
	e := &Encoder{
		ffmpegPath:   "ffmpeg",
		ffprobePath:  "ffprobe",
		crf:          17,
		preset:       "slow",
		audioBitrate: "320k",
		threads:      2,
		runner:       media.ExecRunner{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type Option func(*Encoder)

func WithBinaries(ffmpegPath, ffprobePath string) Option {
	return func(e *Encoder) {
		if ffmpegPath != "" {
			e.ffmpegPath = ffmpegPath
		}
		if ffprobePath != "" {
			e.ffprobePath = ffprobePath
		}
	}
}

func WithThreads(n int) Option {
	return func(e *Encoder) { e.threads = n }
}

func WithRunner(r media.Runner) Option {
	return func(e *Encoder) { e.runner = r }
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration, geometry, frame rate and audio presence of path.
func (e *Encoder) Probe(ctx context.Context, path string) (media.Info, error) {
	res, err := e.runner.Run(ctx, e.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration:stream=codec_type,width,height,avg_frame_rate",
		path,
	)
	if err != nil {
		return media.Info{}, fmt.Errorf("ffprobe: %w", err)
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return media.Info{}, fmt.Errorf("ffprobe: decode output: %w", err)
	}

	secs, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return media.Info{}, fmt.Errorf("ffprobe: unusable duration %q", out.Format.Duration)
	}

	info := media.Info{Duration: time.Duration(secs * float64(time.Second))}
	hasVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if !hasVideo {
				hasVideo = true
				info.Width, info.Height, info.FrameRate = s.Width, s.Height, s.AvgFrameRate
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if !hasVideo {
		return media.Info{}, errors.New("ffprobe: no video stream")
	}
	return info, nil
}

// Trim re-encodes the requested span with H.264 at a visually lossless CRF,
// keeping the source resolution and frame timing. Output is always mp4
// regardless of the file extension.
func (e *Encoder) Trim(ctx context.Context, req media.TrimRequest) error {
	if req.Length <= 0 {
		return errors.New("ffmpeg: empty span")
	}

	args := []string{
		"-hide_banner", "-nostdin", "-y", "-v", "error",
		"-ss", seconds(req.Start),
		"-i", req.Input,
		"-t", seconds(req.Length),
		"-map", "0:v:0",
		"-c:v", "libx264",
		"-preset", e.preset,
		"-crf", strconv.Itoa(e.crf),
		"-pix_fmt", "yuv420p",
		"-fps_mode", "passthrough",
	}
	if req.HasAudio {
		args = append(args, "-map", "0:a:0", "-c:a", "aac", "-b:a", e.audioBitrate)
	} else {
		args = append(args, "-an")
	}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	args = append(args, "-movflags", "+faststart", "-f", "mp4", req.Output)

	if _, err := e.runner.Run(ctx, e.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
