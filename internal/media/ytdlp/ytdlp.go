// Package ytdlp downloads source videos with the yt-dlp binary.
package ytdlp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahmethakanbesel/clipper/internal/media"
)

const (
	defaultBinary = "yt-dlp"
	// Best mp4 video plus m4a audio, falling back to the best single file.
	defaultFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	outputStem    = "source"
)

type Downloader struct {
	binaryPath  string
	format      string
	cookiesFile string
	timeout     time.Duration
	runner      media.Runner
}

func New(opts ...Option) *Downloader {
	d := &Downloader{
		binaryPath: defaultBinary,
		format:     defaultFormat,
		timeout:    time.Hour,
		runner:     media.ExecRunner{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type Option func(*Downloader)

func WithBinary(path string) Option {
	return func(d *Downloader) {
		if path != "" {
			d.binaryPath = path
		}
	}
}

// WithCookies passes a Netscape cookie file for sites that need a login.
func WithCookies(path string) Option {
	return func(d *Downloader) { d.cookiesFile = path }
}

func WithTimeout(t time.Duration) Option {
	return func(d *Downloader) { d.timeout = t }
}

func WithRunner(r media.Runner) Option {
	return func(d *Downloader) { d.runner = r }
}

// Download fetches sourceURL into dir and returns the path of the merged file.
func (d *Downloader) Download(ctx context.Context, sourceURL, dir string) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := []string{
		"-f", d.format,
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-part",
		"--no-warnings",
		"--quiet",
		"-o", filepath.Join(dir, outputStem+".%(ext)s"),
	}
	if d.cookiesFile != "" {
		args = append(args, "--cookies", d.cookiesFile)
	}
	args = append(args, "--", sourceURL)

	if _, err := d.runner.Run(ctx, d.binaryPath, args...); err != nil {
		return "", fmt.Errorf("yt-dlp: %w", err)
	}

	path, err := findOutput(dir)
	if err != nil {
		return "", err
	}
	return path, nil
}

func findOutput(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, outputStem+".*"))
	if err != nil {
		return "", fmt.Errorf("locate download: %w", err)
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() || fi.Size() == 0 {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("yt-dlp produced no output in %s", dir)
}
