package encode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"media-converter/internal/profile"
)

// Job is one source file converted under one profile.
type Job struct {
	Index       int
	Source      string
	Destination string
	Profile     profile.Profile
	Threads     int
}

// Outcome classifies how an encode ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the terminal state of one encode.
type Result struct {
	Job        Job
	Outcome    Outcome
	Duration   float64
	Progress   Progress
	ErrorLines []string
	Log        CommandLog
	Err        error
}

// DurationProber reports source duration in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, bool)
}

// Options tunes the supervisor.
type Options struct {
	FFmpegPath string
	// KillTimeout bounds how long a terminated encoder may take to exit
	// before it is killed outright.
	KillTimeout time.Duration
	// SkipUnknownDuration aborts jobs whose duration cannot be probed.
	// When false they run with elapsed-only progress.
	SkipUnknownDuration bool
	StderrTailLines     int
}

// Supervisor runs at most one ffmpeg encode at a time and translates its
// diagnostic stream into progress.
type Supervisor struct {
	opts      Options
	durations DurationProber
	hwAccel   func(ctx context.Context) bool
	logger    zerolog.Logger

	mu     sync.Mutex
	active *Handle
}

// NewSupervisor builds a supervisor. hwAccel may be nil to force the
// software path.
func NewSupervisor(opts Options, durations DurationProber, hwAccel func(ctx context.Context) bool, logger zerolog.Logger) *Supervisor {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 5 * time.Second
	}
	return &Supervisor{
		opts:      opts,
		durations: durations,
		hwAccel:   hwAccel,
		logger:    logger,
	}
}

// Handle supervises one in-flight encode.
type Handle struct {
	job       Job
	ctx       context.Context
	cancel    context.CancelFunc
	cmd       *exec.Cmd
	done      chan struct{}
	percent   atomic.Uint64
	cancelled atomic.Bool
	prior     os.FileInfo
	result    Result
}

// Job returns the job this handle runs.
func (h *Handle) Job() Job {
	return h.job
}

// Percent returns the latest progress percentage.
func (h *Handle) Percent() float64 {
	return math.Float64frombits(h.percent.Load())
}

// Done is closed once the encoder has exited and the result is final.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the encode ends and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Active reports whether an encode currently holds the slot.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Start probes the source, builds the command and launches ffmpeg. It
// returns as soon as the process is running. onProgress is called from the
// reader goroutine and never after the handle is done.
func (s *Supervisor) Start(ctx context.Context, job Job, onProgress func(Progress)) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		job:    job,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		cancel()
		return nil, ErrEncodeInFlight
	}
	s.active = h
	s.mu.Unlock()

	if err := s.launch(h, onProgress); err != nil {
		h.result = failedResult(job, err)
		s.release(h)
		return nil, err
	}
	return h, nil
}

// Run starts job and waits for it to finish.
func (s *Supervisor) Run(ctx context.Context, job Job, onProgress func(Progress)) (Result, error) {
	h, err := s.Start(ctx, job, onProgress)
	if err != nil {
		return failedResult(job, err), err
	}
	return h.Wait(), nil
}

func failedResult(job Job, err error) Result {
	res := Result{Job: job, Outcome: OutcomeFailed, Err: err}
	if IsCancelled(err) {
		res.Outcome = OutcomeCancelled
	}
	return res
}

// Cancel terminates the active encode and returns once it has exited.
// It is a no-op when nothing is running.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return
	}

	h.cancelled.Store(true)
	h.cancel()
	<-h.done

	s.logger.Info().
		Str("source", h.job.Source).
		Msg("encode cancelled")
}

func (s *Supervisor) launch(h *Handle, onProgress func(Progress)) error {
	job := h.job
	total, ok := s.durations.Duration(h.ctx, job.Source)
	if err := h.ctx.Err(); err != nil {
		return &JobError{
			Stage:   StageProbe,
			Source:  job.Source,
			Message: "cancelled while probing",
			Err:     err,
		}
	}
	if !ok {
		if s.opts.SkipUnknownDuration {
			return &JobError{
				Stage:   StageProbe,
				Source:  job.Source,
				Message: "cannot read source duration",
				Err:     ErrDurationUnavailable,
			}
		}
		s.logger.Warn().
			Str("source", job.Source).
			Msg("duration unavailable, reporting elapsed time only")
		total = 0
	}

	hw := job.Profile.HasHardwareVariant() && s.hwAccel != nil && s.hwAccel(h.ctx)
	args, err := Build(job.Profile, job.Source, job.Destination, job.Threads, hw)
	if err != nil {
		return &JobError{
			Stage:   StageBuild,
			Source:  job.Source,
			Message: "cannot build encoder command",
			Err:     err,
		}
	}

	log := CommandLog{Command: s.opts.FFmpegPath, Args: args}
	if err := h.ctx.Err(); err != nil {
		return &JobError{
			Stage:      StageLaunch,
			Source:     job.Source,
			Message:    "cancelled before launch",
			CommandLog: log,
			Err:        err,
		}
	}

	s.logger.Debug().
		Str("cmd", CommandLine(s.opts.FFmpegPath, args)).
		Bool("hwaccel", hw).
		Msg("built ffmpeg command")

	cmd := exec.CommandContext(h.ctx, s.opts.FFmpegPath, args...)
	configureProcess(cmd)
	cmd.Cancel = func() error { return terminateProcess(cmd) }
	cmd.WaitDelay = s.opts.KillTimeout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &JobError{
			Stage:      StageLaunch,
			Source:     job.Source,
			Message:    "cannot capture encoder diagnostics",
			CommandLog: log,
			Err:        fmt.Errorf("%w: %v", ErrLaunchFailure, err),
		}
	}
	h.prior, _ = os.Stat(job.Destination)
	if err := cmd.Start(); err != nil {
		log.ExitCode = -1
		return &JobError{
			Stage:      StageLaunch,
			Source:     job.Source,
			Message:    "cannot start ffmpeg",
			CommandLog: log,
			Err:        fmt.Errorf("%w: %v", ErrLaunchFailure, err),
		}
	}
	h.cmd = cmd

	s.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("source", job.Source).
		Str("dest", job.Destination).
		Msg("ffmpeg started")

	go s.supervise(h, stderr, NewProgressTracker(total), total, log, onProgress)
	return nil
}

// supervise drains the diagnostic stream until EOF, then reaps the process.
func (s *Supervisor) supervise(h *Handle, stderr io.Reader, tracker *ProgressTracker, total float64, log CommandLog, onProgress func(Progress)) {
	tail := newLineRing(s.opts.StderrTailLines)
	var errorLines []string

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.add(line)
		if isErrorLine(line) {
			errorLines = append(errorLines, line)
		}
		if p, ok := tracker.Observe(line); ok {
			h.percent.Store(math.Float64bits(p.Percent))
			if onProgress != nil {
				onProgress(p)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, stderr)
	}

	waitErr := h.cmd.Wait()
	log.Stderr = tail.String()
	if h.cmd.ProcessState != nil {
		log.ExitCode = h.cmd.ProcessState.ExitCode()
	}

	result := Result{
		Job:        h.job,
		Duration:   total,
		Progress:   tracker.Current(),
		ErrorLines: errorLines,
		Log:        log,
	}

	logger := s.logger.With().Str("source", h.job.Source).Int("exit_code", log.ExitCode).Logger()
	switch {
	case h.cancelled.Load() || h.ctx.Err() != nil:
		result.Outcome = OutcomeCancelled
		result.Err = context.Canceled
		logger.Info().Msg("ffmpeg terminated")
	case waitErr != nil:
		result.Outcome = OutcomeFailed
		result.Err = &JobError{
			Stage:      StageEncode,
			Source:     h.job.Source,
			Message:    "ffmpeg exited with an error",
			CommandLog: log,
			Err:        waitErr,
		}
		logger.Error().Err(waitErr).Msg("ffmpeg failed")
	default:
		result.Outcome = OutcomeSucceeded
		logger.Info().Msg("ffmpeg finished")
	}
	if len(errorLines) > 0 {
		logger.Error().Strs("lines", errorLines).Msg("ffmpeg reported errors")
	}
	if result.Outcome != OutcomeSucceeded {
		discardPartial(h.job.Destination, h.prior, logger)
	}

	h.result = result
	s.release(h)
}

// discardPartial removes an output file left by an encode that did not
// finish. A file that predates the encode and was never touched stays.
func discardPartial(path string, prior os.FileInfo, logger zerolog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if prior != nil && os.SameFile(prior, info) &&
		prior.Size() == info.Size() && prior.ModTime().Equal(info.ModTime()) {
		return
	}
	if err := os.Remove(path); err != nil {
		logger.Warn().Err(err).Str("dest", path).Msg("cannot remove partial output")
		return
	}
	logger.Info().Str("dest", path).Msg("removed partial output")
}

// release frees the slot held by h and publishes its result.
func (s *Supervisor) release(h *Handle) {
	s.mu.Lock()
	if s.active == h {
		s.active = nil
	}
	s.mu.Unlock()
	h.cancel()
	close(h.done)
}

// IsCancelled reports whether err stems from a cancelled encode.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
