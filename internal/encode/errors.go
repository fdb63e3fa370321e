package encode

import (
	"errors"
	"fmt"
)

var (
	// ErrDurationUnavailable marks a source whose duration could not be probed.
	ErrDurationUnavailable = errors.New("source duration unavailable")
	// ErrLaunchFailure marks an encoder process that could not be started.
	ErrLaunchFailure = errors.New("encoder launch failed")
	// ErrEncodeInFlight is returned when Start is called while another encode is active.
	ErrEncodeInFlight = errors.New("an encode is already in progress")
)

// Stage names where a job can fail.
const (
	StageProbe  = "probe"
	StageBuild  = "build"
	StageLaunch = "launch"
	StageEncode = "encode"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
}

// JobError is a stage-aware failure for a single source file.
type JobError struct {
	Stage      string     `json:"stage"`
	Source     string     `json:"source"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats job failures for logs and UI.
func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s %s: %s", e.Stage, e.Source, e.Message)
	}

	return fmt.Sprintf(
		"%s %s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Source,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *JobError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
