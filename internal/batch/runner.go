package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-converter/internal/domain"
	"media-converter/internal/encode"
	"media-converter/internal/jobs"
	"media-converter/internal/profile"
)

// Encoder runs one encode at a time.
type Encoder interface {
	Run(ctx context.Context, job encode.Job, onProgress func(encode.Progress)) (encode.Result, error)
	Cancel()
}

// ToolChecker reports whether the external tools can be run.
type ToolChecker interface {
	HasRequiredTools(ctx context.Context) bool
}

// Recorder keeps finished batches.
type Recorder interface {
	Record(record domain.BatchRecord) error
}

// Request describes one "convert all selected files" run.
type Request struct {
	Files     []string
	ProfileID profile.ID
	DestDir   string
	// Threads is the encoder thread hint; 0 falls back to the runner default.
	Threads int
}

// Options tunes the runner.
type Options struct {
	EventBuffer    int
	DefaultThreads int
}

// Runner converts a list of files sequentially and streams typed events.
type Runner struct {
	encoder  Encoder
	tools    ToolChecker
	manager  *jobs.Manager
	recorder Recorder
	logger   zerolog.Logger
	opts     Options
	newID    func() string

	mu     sync.Mutex
	active *run
}

// run is the per-batch cancellation token.
type run struct {
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// NewRunner builds a runner. tools and recorder may be nil.
func NewRunner(encoder Encoder, tools ToolChecker, manager *jobs.Manager, recorder Recorder, opts Options, logger zerolog.Logger) *Runner {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1000
	}
	return &Runner{
		encoder:  encoder,
		tools:    tools,
		manager:  manager,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
		newID:    uuid.NewString,
	}
}

// Start validates req and launches the batch in the background. The
// returned channel receives every event of the batch and is closed right
// after batch_done, by which time the runner is idle again.
func (r *Runner) Start(ctx context.Context, req Request) (<-chan jobs.Event, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}
	destDir := strings.TrimSpace(req.DestDir)
	if destDir == "" {
		return nil, ErrNoDestination
	}
	if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoDestination, destDir)
	}

	p, err := profile.Resolve(req.ProfileID)
	if err != nil {
		return nil, err
	}
	if r.tools != nil && !r.tools.HasRequiredTools(ctx) {
		return nil, ErrToolMissing
	}

	threads := req.Threads
	if threads <= 0 {
		threads = r.opts.DefaultThreads
	}

	encodeJobs := make([]encode.Job, len(req.Files))
	states := make([]domain.JobState, len(req.Files))
	for i, src := range req.Files {
		dest := profile.Destination(destDir, src, p)
		encodeJobs[i] = encode.Job{
			Index:       i,
			Source:      src,
			Destination: dest,
			Profile:     p,
			Threads:     threads,
		}
		states[i] = domain.JobState{Source: src, Destination: dest}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	batchID := r.newID()
	if err := r.manager.Start(batchID, string(p.ID), destDir, states); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b := &run{cancel: cancel, done: make(chan struct{})}
	r.active = b

	events := make(chan jobs.Event, r.opts.EventBuffer)
	go r.execute(runCtx, b, batchID, encodeJobs, events)
	return events, nil
}

// Cancel stops the active batch: the running encode is terminated and no
// further files are started. It returns once the encoder has exited and is
// a no-op when no batch is running.
func (r *Runner) Cancel() {
	r.mu.Lock()
	b := r.active
	if b == nil || b.cancelled {
		r.mu.Unlock()
		return
	}
	b.cancelled = true
	r.mu.Unlock()

	b.cancel()
	r.encoder.Cancel()
}

// Wait blocks until the active batch, if any, has finished.
func (r *Runner) Wait() {
	r.mu.Lock()
	b := r.active
	r.mu.Unlock()
	if b != nil {
		<-b.done
	}
}

// Current returns the state of the running batch.
func (r *Runner) Current() domain.BatchRun {
	return r.manager.Current()
}

// Last returns the most recent finished batch.
func (r *Runner) Last() domain.BatchRun {
	return r.manager.Last()
}

func (r *Runner) isCancelled(ctx context.Context, b *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return b.cancelled || ctx.Err() != nil
}

func (r *Runner) execute(ctx context.Context, b *run, batchID string, encodeJobs []encode.Job, events chan<- jobs.Event) {
	defer close(events)
	defer close(b.done)
	defer b.cancel()

	started := r.manager.Current().StartedAt
	total := len(encodeJobs)
	logger := r.logger.With().Str("batch", batchID).Logger()
	logger.Info().Int("jobs", total).Msg("batch started")

	emit := func(e jobs.Event) {
		e.BatchID = batchID
		e.JobCount = total
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		events <- e
	}

	emit(jobs.Event{Type: jobs.EventTypeBatchStarted, JobIndex: -1})

	for _, job := range encodeJobs {
		if r.isCancelled(ctx, b) {
			break
		}
		if !r.runJob(ctx, batchID, total, job, emit, events, logger) {
			break
		}
	}

	status := domain.BatchStatusCompleted
	if r.isCancelled(ctx, b) {
		status = domain.BatchStatusCancelled
	}
	summary, err := r.manager.Finish(status)
	if err != nil {
		logger.Error().Err(err).Msg("cannot finish batch")
	}
	snapshot := r.manager.Current()

	if r.recorder != nil {
		record := domain.BatchRecord{
			ID:         batchID,
			ProfileID:  snapshot.ProfileID,
			DestDir:    snapshot.DestDir,
			Summary:    summary,
			Jobs:       snapshot.Jobs,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}
		if err := r.recorder.Record(record); err != nil {
			logger.Error().Err(err).Msg("cannot record batch history")
		}
	}

	logger.Info().
		Str("status", string(summary.Status)).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("cancelled", summary.Cancelled).
		Msg("batch finished")

	emit(jobs.Event{
		Type:     jobs.EventTypeBatchDone,
		JobIndex: -1,
		Message:  string(summary.Status),
		Summary:  &summary,
	})

	r.mu.Lock()
	if r.active == b {
		r.active = nil
	}
	r.mu.Unlock()
	if err := r.manager.Reset(); err != nil {
		logger.Error().Err(err).Msg("cannot reset batch state")
	}
}

// runJob converts one file and reports whether the batch should continue.
func (r *Runner) runJob(ctx context.Context, batchID string, total int, job encode.Job, emit func(jobs.Event), events chan<- jobs.Event, logger zerolog.Logger) bool {
	if err := r.manager.TransitionJob(job.Index, domain.JobStatusRunning, ""); err != nil {
		logger.Error().Err(err).Int("job", job.Index).Msg("cannot start job")
		return false
	}
	emit(jobs.Event{
		Type:        jobs.EventTypeJobStarted,
		JobIndex:    job.Index,
		Source:      job.Source,
		Destination: job.Destination,
		Status:      domain.JobStatusRunning,
	})

	onProgress := func(p encode.Progress) {
		_ = r.manager.SetPercent(job.Index, p.Percent)
		e := jobs.Event{
			Type:          jobs.EventTypeProgress,
			BatchID:       batchID,
			JobIndex:      job.Index,
			JobCount:      total,
			Source:        job.Source,
			Status:        domain.JobStatusRunning,
			Percent:       p.Percent,
			Elapsed:       p.Elapsed,
			Indeterminate: p.Indeterminate,
			Timestamp:     time.Now().UTC(),
		}
		// Progress is advisory; drop it rather than stall the stderr reader.
		select {
		case events <- e:
		default:
		}
	}

	res, err := r.encoder.Run(ctx, job, onProgress)
	status, message := classify(res, err)
	if terr := r.manager.TransitionJob(job.Index, status, message); terr != nil {
		logger.Error().Err(terr).Int("job", job.Index).Msg("cannot record job outcome")
	}

	failure := err
	if failure == nil && status == domain.JobStatusFailed {
		failure = res.Err
	}
	if failure != nil && status != domain.JobStatusCancelled {
		e := jobs.Event{
			Type:     jobs.EventTypeError,
			JobIndex: job.Index,
			Source:   job.Source,
			Status:   status,
			Message:  message,
		}
		var jobErr *encode.JobError
		if errors.As(failure, &jobErr) {
			e.Command = jobErr.CommandLog.Command
			e.Args = jobErr.CommandLog.Args
			e.ExitCode = jobErr.CommandLog.ExitCode
		}
		emit(e)
	}

	if len(res.ErrorLines) > 0 {
		emit(jobs.Event{
			Type:     jobs.EventTypeDiagnostic,
			JobIndex: job.Index,
			Source:   job.Source,
			Status:   status,
			Message:  fmt.Sprintf("ffmpeg reported %d error line(s)", len(res.ErrorLines)),
			Lines:    res.ErrorLines,
		})
	}

	done := jobs.Event{
		Type:          jobs.EventTypeJobDone,
		JobIndex:      job.Index,
		Source:        job.Source,
		Destination:   job.Destination,
		Status:        status,
		Percent:       res.Progress.Percent,
		Elapsed:       res.Progress.Elapsed,
		Indeterminate: res.Progress.Indeterminate,
		Message:       message,
		Command:       res.Log.Command,
		Args:          res.Log.Args,
		ExitCode:      res.Log.ExitCode,
		Stderr:        res.Log.Stderr,
	}
	if status == domain.JobStatusSucceeded {
		done.Percent = 100
	}
	emit(done)

	logger.Info().
		Int("job", job.Index).
		Str("source", job.Source).
		Str("status", string(status)).
		Msg("job finished")

	return status != domain.JobStatusCancelled
}

// classify maps an encode outcome onto a job status. Only cancellation
// stops the batch; every other failure skips or fails the single job.
func classify(res encode.Result, err error) (domain.JobStatus, string) {
	switch {
	case res.Outcome == encode.OutcomeCancelled || encode.IsCancelled(err):
		return domain.JobStatusCancelled, "cancelled"
	case errors.Is(err, encode.ErrDurationUnavailable):
		return domain.JobStatusSkipped, err.Error()
	case err != nil:
		return domain.JobStatusFailed, err.Error()
	case res.Outcome == encode.OutcomeFailed:
		if res.Err != nil {
			return domain.JobStatusFailed, res.Err.Error()
		}
		return domain.JobStatusFailed, "encode failed"
	default:
		return domain.JobStatusSucceeded, ""
	}
}

// NewRunnerForTests builds a runner with a fixed batch id.
func NewRunnerForTests(encoder Encoder, tools ToolChecker, manager *jobs.Manager, recorder Recorder, opts Options, id string) *Runner {
	r := NewRunner(encoder, tools, manager, recorder, opts, zerolog.Nop())
	r.newID = func() string { return id }
	return r
}
