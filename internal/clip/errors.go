package clip

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/ahmethakanbesel/clipper/internal/media"
)

var (
	ErrDownload   = errors.New("download failed")
	ErrProcessing = errors.New("processing failed")
	ErrNoSpace    = errors.New("insufficient disk space")
)

// stageError tags err with the pipeline stage it came from so the stored
// error message says what went wrong, calling out a full disk explicitly.
func stageError(stage, err error) error {
	if noSpace(err) {
		return fmt.Errorf("%w: %w: %w", stage, ErrNoSpace, err)
	}
	return fmt.Errorf("%w: %w", stage, err)
}

func noSpace(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	var ce *media.CommandError
	return errors.As(err, &ce) && ce.NoSpace()
}
