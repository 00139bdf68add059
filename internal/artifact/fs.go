// Package artifact owns the on-disk layout of finished clips and the
// per-job scratch space used while a clip is being produced.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahmethakanbesel/clipper/internal/apperror"
)

const (
	clipExt     = ".mp4"
	partialExt  = ".partial"
	partialMark = "."
)

type Store struct {
	videoDir string
	workDir  string
}

// New creates both directories if needed.
func New(videoDir, workDir string) (*Store, error) {
	for _, dir := range []string{videoDir, workDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &Store{videoDir: videoDir, workDir: workDir}, nil
}

// Filename is the public artifact name for a job.
func Filename(jobID string) string { return jobID + clipExt }

// WorkDir creates and returns the scratch directory for a job.
func (s *Store) WorkDir(jobID string) (string, error) {
	path := filepath.Join(s.workDir, jobID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create work directory %s: %w", path, err)
	}
	return path, nil
}

// RemoveWorkDir deletes a job's scratch directory and everything in it.
func (s *Store) RemoveWorkDir(jobID string) error {
	return os.RemoveAll(filepath.Join(s.workDir, jobID))
}

// TempPath is where the encoder writes before Commit. Hidden, so a half
// written clip is never served under its public name.
func (s *Store) TempPath(jobID string) string {
	return filepath.Join(s.videoDir, partialMark+jobID+partialExt)
}

// Commit atomically publishes the encoded temp file under the job's
// artifact name and returns that name.
func (s *Store) Commit(jobID string) (string, error) {
	name := Filename(jobID)
	if err := os.Rename(s.TempPath(jobID), filepath.Join(s.videoDir, name)); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return name, nil
}

// Discard removes an unpublished temp file, if any.
func (s *Store) Discard(jobID string) error {
	err := os.Remove(s.TempPath(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Path resolves a public artifact name, refusing anything that is not a
// plain published clip name.
func (s *Store) Path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, partialMark) ||
		filepath.Ext(name) != clipExt {
		return "", apperror.New(apperror.NotFound, "file not found")
	}
	return filepath.Join(s.videoDir, name), nil
}

// Open returns the published artifact for reading.
func (s *Store) Open(name string) (*os.File, fs.FileInfo, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, apperror.New(apperror.NotFound, "file not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat artifact: %w", err)
	}
	return f, fi, nil
}

// Remove deletes a published artifact. A missing file is not an error.
func (s *Store) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveClip deletes the clip a job published, if any.
func (s *Store) RemoveClip(jobID string) error {
	return s.Remove(Filename(jobID))
}

// CleanScratch removes leftovers of pipelines that died mid-run: every work
// directory and every unpublished temp file. Call it only while no pipeline
// is running.
func (s *Store) CleanScratch() (int, error) {
	removed := 0

	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		return 0, fmt.Errorf("read work directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.workDir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}

	partials, err := filepath.Glob(filepath.Join(s.videoDir, partialMark+"*"+partialExt))
	if err != nil {
		return removed, err
	}
	for _, p := range partials {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
