package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"media-converter/internal/domain"
)

// ErrBatchAlreadyRunning is returned when starting a second active batch.
var ErrBatchAlreadyRunning = errors.New("batch already running")

// ErrNoRunningBatch is returned when an update targets an idle manager.
var ErrNoRunningBatch = errors.New("no running batch")

// Manager tracks the single allowed active batch and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.BatchRun
	last    domain.BatchRun
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.BatchRun{Status: domain.BatchStatusIdle},
	}
}

// Start registers a batch with one pending job per source and moves the
// manager to running.
func (m *Manager) Start(batchID, profileID, destDir string, jobs []domain.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != domain.BatchStatusIdle {
		return ErrBatchAlreadyRunning
	}

	states := make([]domain.JobState, len(jobs))
	for i, job := range jobs {
		job.Index = i
		job.Status = domain.JobStatusPending
		job.Percent = 0
		states[i] = job
	}

	m.current = domain.BatchRun{
		ID:        batchID,
		ProfileID: profileID,
		DestDir:   destDir,
		Status:    domain.BatchStatusRunning,
		Current:   -1,
		Jobs:      states,
		StartedAt: time.Now().UTC(),
	}
	return nil
}

// TransitionJob validates and applies a state change for one job.
func (m *Manager) TransitionJob(index int, status domain.JobStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.job(index)
	if err != nil {
		return err
	}
	if job.Status == status {
		return nil
	}
	if !isValidJobTransition(job.Status, status) {
		return fmt.Errorf("job %d: invalid transition: %s -> %s", index, job.Status, status)
	}

	job.Status = status
	job.Message = message
	switch status {
	case domain.JobStatusRunning:
		m.current.Current = index
	case domain.JobStatusSucceeded:
		job.Percent = 100
	}
	return nil
}

// SetPercent records the latest progress of a running job. Lower values are
// ignored.
func (m *Manager) SetPercent(index int, percent float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.job(index)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusRunning {
		return fmt.Errorf("job %d is %s, not running", index, job.Status)
	}
	if percent > job.Percent {
		job.Percent = percent
	}
	return nil
}

// Finish moves the running batch to a terminal state. Jobs that never ran
// are marked cancelled.
func (m *Manager) Finish(status domain.BatchStatus) (domain.BatchSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != domain.BatchStatusRunning {
		return domain.BatchSummary{}, ErrNoRunningBatch
	}
	if status != domain.BatchStatusCompleted && status != domain.BatchStatusCancelled {
		return domain.BatchSummary{}, fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	for i := range m.current.Jobs {
		job := &m.current.Jobs[i]
		if job.Status == domain.JobStatusPending || job.Status == domain.JobStatusRunning {
			job.Status = domain.JobStatusCancelled
		}
	}
	m.current.Status = status
	m.current.Current = -1
	return Summarize(m.current), nil
}

// Current returns a snapshot of the current batch.
func (m *Manager) Current() domain.BatchRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRun(m.current)
}

// Last returns the most recent batch that was reset to idle.
func (m *Manager) Last() domain.BatchRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRun(m.last)
}

// Reset acknowledges a terminal batch and returns the manager to idle.
// Resetting a running batch is rejected.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current.Status {
	case domain.BatchStatusRunning:
		return ErrBatchAlreadyRunning
	case domain.BatchStatusIdle:
		return nil
	}
	m.last = m.current
	m.current = domain.BatchRun{Status: domain.BatchStatusIdle}
	return nil
}

// IsRunning reports whether a batch is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Status == domain.BatchStatusRunning
}

// Summarize counts job outcomes for a batch.
func Summarize(run domain.BatchRun) domain.BatchSummary {
	summary := domain.BatchSummary{
		Status: run.Status,
		Total:  len(run.Jobs),
	}
	for _, job := range run.Jobs {
		switch job.Status {
		case domain.JobStatusSucceeded:
			summary.Succeeded++
		case domain.JobStatusFailed:
			summary.Failed++
		case domain.JobStatusSkipped:
			summary.Skipped++
		case domain.JobStatusCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

// job returns the addressed job of the running batch. Callers hold mu.
func (m *Manager) job(index int) (*domain.JobState, error) {
	if m.current.Status != domain.BatchStatusRunning {
		return nil, ErrNoRunningBatch
	}
	if index < 0 || index >= len(m.current.Jobs) {
		return nil, fmt.Errorf("job index %d out of range", index)
	}
	return &m.current.Jobs[index], nil
}

// cloneRun copies the jobs slice so snapshots do not alias manager state.
func cloneRun(run domain.BatchRun) domain.BatchRun {
	if run.Jobs != nil {
		run.Jobs = append([]domain.JobState(nil), run.Jobs...)
	}
	return run
}

// isValidJobTransition enforces the allowed job state machine edges.
func isValidJobTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusRunning || to == domain.JobStatusSkipped || to == domain.JobStatusCancelled
	case domain.JobStatusRunning:
		return to == domain.JobStatusSucceeded ||
			to == domain.JobStatusFailed ||
			to == domain.JobStatusSkipped ||
			to == domain.JobStatusCancelled
	default:
		return false
	}
}
