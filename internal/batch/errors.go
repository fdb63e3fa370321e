package batch

import (
	"errors"
	"fmt"
)

// ErrPreconditionFailed marks requests rejected before any subprocess work.
var ErrPreconditionFailed = errors.New("precondition failed")

var (
	// ErrNoFiles is returned for an empty file list.
	ErrNoFiles = fmt.Errorf("%w: no input files selected", ErrPreconditionFailed)
	// ErrNoDestination is returned for an empty or missing destination.
	ErrNoDestination = fmt.Errorf("%w: no destination directory", ErrPreconditionFailed)
)

// ErrToolMissing is returned when ffmpeg or ffprobe cannot be run.
var ErrToolMissing = errors.New("ffmpeg or ffprobe not available")
