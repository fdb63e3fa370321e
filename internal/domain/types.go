package domain

import "time"

// BatchStatus tracks the lifecycle of one "convert all selected files" run.
type BatchStatus string

const (
	BatchStatusIdle      BatchStatus = "idle"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// JobStatus tracks one source file within a batch.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
	JobStatusCancelled JobStatus = "cancelled"
)

// Settings contains user-selectable preferences restored at startup.
type Settings struct {
	LastInputDir string `json:"lastInputDir"`
	OutputDir    string `json:"outputDir"`
	ProfileID    string `json:"profileId"`
	Threads      int    `json:"threads"`
}

// JobState is the per-file view of a batch.
type JobState struct {
	Index       int       `json:"index"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Status      JobStatus `json:"status"`
	Percent     float64   `json:"percent"`
	Message     string    `json:"message,omitempty"`
}

// BatchRun is a snapshot of the current or last batch.
type BatchRun struct {
	ID        string      `json:"id"`
	ProfileID string      `json:"profileId"`
	DestDir   string      `json:"destDir"`
	Status    BatchStatus `json:"status"`
	Current   int         `json:"current"`
	Jobs      []JobState  `json:"jobs"`
	StartedAt time.Time   `json:"startedAt"`
}

// BatchSummary counts job outcomes once a batch reaches a terminal state.
type BatchSummary struct {
	Status    BatchStatus `json:"status"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Cancelled int         `json:"cancelled"`
}

// BatchRecord is a finished batch as kept in history.
type BatchRecord struct {
	ID         string       `json:"id"`
	ProfileID  string       `json:"profileId"`
	DestDir    string       `json:"destDir"`
	Summary    BatchSummary `json:"summary"`
	Jobs       []JobState   `json:"jobs"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// SourceFile is an input file annotated by the codec probe.
type SourceFile struct {
	Path  string `json:"path"`
	Codec string `json:"codec,omitempty"`
	// NeedsIntermediate flags long-GOP sources that edit poorly in Resolve.
	NeedsIntermediate bool `json:"needsIntermediate"`
}
