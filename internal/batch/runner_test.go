package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"media-converter/internal/domain"
	"media-converter/internal/encode"
	"media-converter/internal/jobs"
	"media-converter/internal/profile"
)

type fakeEncoder struct {
	mu      sync.Mutex
	calls   []encode.Job
	run     func(ctx context.Context, job encode.Job, onProgress func(encode.Progress)) (encode.Result, error)
	cancels atomic.Int32
}

func (f *fakeEncoder) Run(ctx context.Context, job encode.Job, onProgress func(encode.Progress)) (encode.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	f.mu.Unlock()
	if f.run == nil {
		return encode.Result{Job: job, Outcome: encode.OutcomeSucceeded}, nil
	}
	return f.run(ctx, job, onProgress)
}

func (f *fakeEncoder) Cancel() {
	f.cancels.Add(1)
}

func (f *fakeEncoder) jobs() []encode.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]encode.Job(nil), f.calls...)
}

type fakeTools bool

func (f fakeTools) HasRequiredTools(context.Context) bool { return bool(f) }

type fakeRecorder struct {
	records []domain.BatchRecord
}

func (f *fakeRecorder) Record(record domain.BatchRecord) error {
	f.records = append(f.records, record)
	return nil
}

// drain collects events until the runner closes the channel.
func drain(t *testing.T, events <-chan jobs.Event) []jobs.Event {
	t.Helper()
	var out []jobs.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("batch did not finish, got %d events", len(out))
		}
	}
}

// waitFor reads events until one of type typ arrives.
func waitFor(t *testing.T, events <-chan jobs.Event, typ jobs.EventType) []jobs.Event {
	t.Helper()
	var out []jobs.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("channel closed before %s", typ)
			}
			out = append(out, e)
			if e.Type == typ {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func lastSummary(t *testing.T, events []jobs.Event) domain.BatchSummary {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Type != jobs.EventTypeBatchDone || last.Summary == nil {
		t.Fatalf("last event = %+v, want batch_done with summary", last)
	}
	return *last.Summary
}

func newRunner(enc Encoder, recorder Recorder) (*Runner, *jobs.Manager) {
	manager := jobs.NewManager()
	return NewRunnerForTests(enc, fakeTools(true), manager, recorder, Options{}, "batch-1"), manager
}

// TestRunnerPreconditions verifies requests fail before any encode.
func TestRunnerPreconditions(t *testing.T) {
	dest := t.TempDir()
	enc := &fakeEncoder{}
	runner, _ := newRunner(enc, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"no files", Request{DestDir: dest, ProfileID: profile.ResolveProRes}, ErrNoFiles},
		{"no destination", Request{Files: []string{"a.mp4"}, ProfileID: profile.ResolveProRes}, ErrNoDestination},
		{"missing destination", Request{Files: []string{"a.mp4"}, DestDir: filepath.Join(dest, "nope"), ProfileID: profile.ResolveProRes}, ErrNoDestination},
		{"unknown profile", Request{Files: []string{"a.mp4"}, DestDir: dest, ProfileID: "bogus"}, profile.ErrUnknownProfile},
	}
	for _, tc := range cases {
		if _, err := runner.Start(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	_, err := runner.Start(ctx, Request{DestDir: dest})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition family, got %v", err)
	}
	if errors.Is(ErrNoFiles, ErrNoDestination) {
		t.Fatal("precondition errors must be distinct")
	}

	missing := NewRunnerForTests(enc, fakeTools(false), jobs.NewManager(), nil, Options{}, "b")
	if _, err := missing.Start(ctx, Request{Files: []string{"a.mp4"}, DestDir: dest, ProfileID: profile.ResolveProRes}); !errors.Is(err, ErrToolMissing) {
		t.Fatalf("err = %v, want %v", err, ErrToolMissing)
	}

	if len(enc.jobs()) != 0 {
		t.Fatalf("encoder called %d times, want 0", len(enc.jobs()))
	}
}

// TestRunnerComputesDestinations verifies naming and ProRes end-to-end input.
func TestRunnerComputesDestinations(t *testing.T) {
	dest := t.TempDir()
	enc := &fakeEncoder{}
	runner, _ := newRunner(enc, nil)

	events, err := runner.Start(context.Background(), Request{
		Files:     []string{"/in/clip1.mp4", "/in/clip2.mov"},
		ProfileID: profile.ResolveProRes,
		DestDir:   dest,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, events)

	got := enc.jobs()
	want := []string{filepath.Join(dest, "clip1_ProRes.mov"), filepath.Join(dest, "clip2_ProRes.mov")}
	if len(got) != len(want) {
		t.Fatalf("jobs = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Destination != want[i] {
			t.Fatalf("job %d destination = %q, want %q", i, got[i].Destination, want[i])
		}
		if got[i].Index != i {
			t.Fatalf("job %d index = %d", i, got[i].Index)
		}
	}
}

// TestRunnerContinuesPastUnknownDuration verifies batch resilience.
func TestRunnerContinuesPastUnknownDuration(t *testing.T) {
	dest := t.TempDir()
	enc := &fakeEncoder{
		run: func(_ context.Context, job encode.Job, _ func(encode.Progress)) (encode.Result, error) {
			if job.Index == 1 {
				err := &encode.JobError{Stage: encode.StageProbe, Source: job.Source, Message: "cannot read source duration", Err: encode.ErrDurationUnavailable}
				return encode.Result{Job: job, Outcome: encode.OutcomeFailed, Err: err}, err
			}
			return encode.Result{Job: job, Outcome: encode.OutcomeSucceeded}, nil
		},
	}
	recorder := &fakeRecorder{}
	runner, manager := newRunner(enc, recorder)

	events, err := runner.Start(context.Background(), Request{
		Files:     []string{"/in/a.mp4", "/in/b.mp4", "/in/c.mp4"},
		ProfileID: profile.ResolveProRes,
		DestDir:   dest,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	all := drain(t, events)

	if len(enc.jobs()) != 3 {
		t.Fatalf("encoder called %d times, want 3", len(enc.jobs()))
	}
	summary := lastSummary(t, all)
	want := domain.BatchSummary{Status: domain.BatchStatusCompleted, Total: 3, Succeeded: 2, Skipped: 1}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}

	var skipped bool
	for _, e := range all {
		if e.Type == jobs.EventTypeJobDone && e.JobIndex == 1 {
			skipped = e.Status == domain.JobStatusSkipped
		}
	}
	if !skipped {
		t.Fatal("expected job 1 reported skipped")
	}

	if manager.IsRunning() || manager.Current().Status != domain.BatchStatusIdle {
		t.Fatalf("manager status = %s, want idle", manager.Current().Status)
	}
	if len(recorder.records) != 1 || recorder.records[0].Summary != want {
		t.Fatalf("unexpected history: %+v", recorder.records)
	}
	if recorder.records[0].Jobs[1].Status != domain.JobStatusSkipped {
		t.Fatalf("recorded job 1 = %s, want skipped", recorder.records[0].Jobs[1].Status)
	}
}

// TestRunnerReportsFailuresAndDiagnostics verifies error and diagnostic events.
func TestRunnerReportsFailuresAndDiagnostics(t *testing.T) {
	dest := t.TempDir()
	enc := &fakeEncoder{
		run: func(_ context.Context, job encode.Job, _ func(encode.Progress)) (encode.Result, error) {
			switch job.Index {
			case 0:
				log := encode.CommandLog{Command: "ffmpeg", Args: []string{"-i", job.Source}, ExitCode: 1}
				return encode.Result{
					Job:     job,
					Outcome: encode.OutcomeFailed,
					Log:     log,
					Err:     &encode.JobError{Stage: encode.StageEncode, Source: job.Source, Message: "ffmpeg exited with an error", CommandLog: log, Err: errors.New("exit status 1")},
				}, nil
			default:
				return encode.Result{
					Job:        job,
					Outcome:    encode.OutcomeSucceeded,
					ErrorLines: []string{"[aac] Error: benign"},
				}, nil
			}
		},
	}
	runner, _ := newRunner(enc, nil)

	events, err := runner.Start(context.Background(), Request{
		Files:     []string{"/in/a.mov", "/in/b.mov"},
		ProfileID: profile.ExportWeb,
		DestDir:   dest,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	all := drain(t, events)

	var errEvent, diag *jobs.Event
	for i := range all {
		switch all[i].Type {
		case jobs.EventTypeError:
			errEvent = &all[i]
		case jobs.EventTypeDiagnostic:
			diag = &all[i]
		}
	}
	if errEvent == nil || errEvent.JobIndex != 0 || errEvent.ExitCode != 1 || errEvent.Command != "ffmpeg" {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}
	if diag == nil || diag.JobIndex != 1 || len(diag.Lines) != 1 {
		t.Fatalf("unexpected diagnostic event: %+v", diag)
	}
	summary := lastSummary(t, all)
	if summary.Failed != 1 || summary.Succeeded != 1 || summary.Status != domain.BatchStatusCompleted {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

// TestRunnerEventOrdering verifies progress never follows its job_done.
func TestRunnerEventOrdering(t *testing.T) {
	dest := t.TempDir()
	enc := &fakeEncoder{
		run: func(_ context.Context, job encode.Job, onProgress func(encode.Progress)) (encode.Result, error) {
			for _, pct := range []float64{10, 50, 90} {
				onProgress(encode.Progress{Percent: pct, Elapsed: pct})
			}
			return encode.Result{Job: job, Outcome: encode.OutcomeSucceeded}, nil
		},
	}
	runner, _ := newRunner(enc, nil)

	events, err := runner.Start(context.Background(), Request{
		Files:     []string{"/in/a.avi", "/in/b.avi"},
		ProfileID: profile.MJPEGToH264,
		DestDir:   dest,
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	all := drain(t, events)

	if all[0].Type != jobs.EventTypeBatchStarted {
		t.Fatalf("first event = %s, want batch_started", all[0].Type)
	}
	done := map[int]bool{}
	progress := 0
	for _, e := range all {
		if e.BatchID != "batch-1" || e.JobCount != 2 {
			t.Fatalf("event missing batch metadata: %+v", e)
		}
		switch e.Type {
		case jobs.EventTypeProgress:
			progress++
			if done[e.JobIndex] {
				t.Fatalf("progress for job %d after job_done", e.JobIndex)
			}
		case jobs.EventTypeJobDone:
			done[e.JobIndex] = true
			if e.Percent != 100 {
				t.Fatalf("job_done percent = %v, want 100", e.Percent)
			}
		}
	}
	if progress != 6 {
		t.Fatalf("progress events = %d, want 6", progress)
	}
	for _, job := range enc.jobs() {
		if job.Threads != 2 {
			t.Fatalf("threads = %d, want 2", job.Threads)
		}
	}
}

// TestRunnerDefaultThreads verifies the configured fallback thread hint.
func TestRunnerDefaultThreads(t *testing.T) {
	enc := &fakeEncoder{}
	runner := NewRunnerForTests(enc, nil, jobs.NewManager(), nil, Options{DefaultThreads: 4}, "b")

	events, err := runner.Start(context.Background(), Request{
		Files:     []string{"/in/a.mov"},
		ProfileID: profile.ResolveDNxHR,
		DestDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, events)

	if got := enc.jobs()[0].Threads; got != 4 {
		t.Fatalf("threads = %d, want 4", got)
	}
}

// TestRunnerCancelStopsBatch verifies cancellation is terminal for the batch.
func TestRunnerCancelStopsBatch(t *testing.T) {
	dest := t.TempDir()
	enc := &fakeEncoder{
		run: func(ctx context.Context, job encode.Job, _ func(encode.Progress)) (encode.Result, error) {
			<-ctx.Done()
			return encode.Result{Job: job, Outcome: encode.OutcomeCancelled, Err: context.Canceled}, nil
		},
	}
	recorder := &fakeRecorder{}
	runner, manager := newRunner(enc, recorder)

	events, err := runner.Start(context.Background(), Request{
		Files:     []string{"/in/a.mp4", "/in/b.mp4", "/in/c.mp4"},
		ProfileID: profile.ResolveProRes,
		DestDir:   dest,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, events, jobs.EventTypeJobStarted)

	if _, err := runner.Start(context.Background(), Request{
		Files:     []string{"/in/d.mp4"},
		ProfileID: profile.ResolveProRes,
		DestDir:   dest,
	}); !errors.Is(err, jobs.ErrBatchAlreadyRunning) {
		t.Fatalf("second start err = %v, want %v", err, jobs.ErrBatchAlreadyRunning)
	}

	runner.Cancel()
	runner.Cancel()
	all := drain(t, events)
	runner.Wait()

	if len(enc.jobs()) != 1 {
		t.Fatalf("encoder called %d times, want 1", len(enc.jobs()))
	}
	if enc.cancels.Load() != 1 {
		t.Fatalf("encoder cancels = %d, want 1", enc.cancels.Load())
	}
	summary := lastSummary(t, all)
	if summary.Status != domain.BatchStatusCancelled || summary.Cancelled != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, e := range all {
		if e.Type == jobs.EventTypeError {
			t.Fatalf("cancellation reported as error: %+v", e)
		}
	}
	if manager.IsRunning() {
		t.Fatal("expected idle after cancellation")
	}
	if recorder.records[0].Summary.Status != domain.BatchStatusCancelled {
		t.Fatalf("recorded status = %s", recorder.records[0].Summary.Status)
	}

	runner.Cancel()
}

// TestRunnerCancelIdle verifies cancel without a batch is a no-op.
func TestRunnerCancelIdle(t *testing.T) {
	enc := &fakeEncoder{}
	runner, _ := newRunner(enc, nil)
	runner.Cancel()
	runner.Wait()
	if enc.cancels.Load() != 0 {
		t.Fatalf("encoder cancels = %d, want 0", enc.cancels.Load())
	}
}
