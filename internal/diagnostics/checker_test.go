package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"media-converter/internal/domain"
)

func foundTool(name string) (string, error) { return "/usr/local/bin/" + name, nil }

func runOK(context.Context, string, ...string) error { return nil }

func fixedCPU(context.Context) (CPUInfo, error) {
	return CPUInfo{Model: "Test CPU", Logical: 4}, nil
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "output")
	checker := NewCheckerForTests(foundTool, runOK, fixedCPU, os.MkdirAll, os.CreateTemp, os.Remove)

	report := checker.Run(context.Background(), domain.Settings{OutputDir: outputDir}, true)

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	if !report.HardwareAccel {
		t.Fatal("expected hardware flag carried into report")
	}
	assertStatusByID(t, report, "hw_accel", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "cpu", domain.DiagnosticStatusPass)
	if _, err := os.Stat(outputDir); err != nil {
		t.Fatalf("output dir not created: %v", err)
	}
}

// TestCheckerRunMissingTools validates failure reporting.
func TestCheckerRunMissingTools(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		runOK,
		func(context.Context) (CPUInfo, error) { return CPUInfo{}, errors.New("no cpuinfo") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{}, false)

	if !report.HasFailures {
		t.Fatal("expected failures")
	}
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_ffprobe", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "hw_accel", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "cpu", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusWarn)
}

// TestCheckerRunBrokenBinary validates that a tool failing -version fails.
func TestCheckerRunBrokenBinary(t *testing.T) {
	checker := NewCheckerForTests(
		foundTool,
		func(_ context.Context, name string, _ ...string) error {
			if strings.HasSuffix(name, "ffprobe") {
				return errors.New("exit status 127")
			}
			return nil
		},
		fixedCPU,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{OutputDir: t.TempDir()}, false)

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "tool_ffprobe", domain.DiagnosticStatusFail)
}

// TestCheckerHasRequiredTools validates the version queries.
func TestCheckerHasRequiredTools(t *testing.T) {
	var calls []string
	checker := NewCheckerForTests(foundTool,
		func(_ context.Context, name string, args ...string) error {
			calls = append(calls, name+" "+strings.Join(args, " "))
			return nil
		},
		fixedCPU, os.MkdirAll, os.CreateTemp, os.Remove)

	if !checker.HasRequiredTools(context.Background()) {
		t.Fatal("expected tools present")
	}
	if len(calls) != 2 || calls[0] != "ffmpeg -version" || calls[1] != "ffprobe -version" {
		t.Fatalf("unexpected calls: %v", calls)
	}

	missing := NewCheckerForTests(foundTool,
		func(_ context.Context, name string, _ ...string) error {
			if name == "ffprobe" {
				return errors.New("executable file not found")
			}
			return nil
		},
		fixedCPU, os.MkdirAll, os.CreateTemp, os.Remove)
	if missing.HasRequiredTools(context.Background()) {
		t.Fatal("expected missing ffprobe to fail")
	}
}

// TestCheckerHasHardwareAccel validates the trial encode command.
func TestCheckerHasHardwareAccel(t *testing.T) {
	var got []string
	checker := NewCheckerForTests(foundTool,
		func(_ context.Context, _ string, args ...string) error {
			got = args
			return nil
		},
		fixedCPU, os.MkdirAll, os.CreateTemp, os.Remove)

	if !checker.HasHardwareAccel(context.Background()) {
		t.Fatal("expected hardware available")
	}
	joined := strings.Join(got, " ")
	for _, want := range []string{"-f lavfi", "testsrc", "-frames:v 1", "-c:v h264_nvenc", "-f null -"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("trial args missing %q: %s", want, joined)
		}
	}

	failing := NewCheckerForTests(foundTool,
		func(context.Context, string, ...string) error { return errors.New("exit status 1") },
		fixedCPU, os.MkdirAll, os.CreateTemp, os.Remove)
	if failing.HasHardwareAccel(context.Background()) {
		t.Fatal("expected failed trial to report unavailable")
	}
}

// TestCheckerHasHardwareAccelTimeout validates a hung trial yields false.
func TestCheckerHasHardwareAccelTimeout(t *testing.T) {
	checker := NewCheckerForTests(foundTool,
		func(ctx context.Context, _ string, _ ...string) error {
			<-ctx.Done()
			return ctx.Err()
		},
		fixedCPU, os.MkdirAll, os.CreateTemp, os.Remove)

	if checker.HasHardwareAccel(context.Background()) {
		t.Fatal("expected timeout to report unavailable")
	}
}

// TestCheckerThreadChoices validates the thread selector range.
func TestCheckerThreadChoices(t *testing.T) {
	checker := NewCheckerForTests(foundTool, runOK, fixedCPU, os.MkdirAll, os.CreateTemp, os.Remove)
	got := checker.ThreadChoices(context.Background())
	if len(got) != 5 || got[0] != 0 || got[4] != 4 {
		t.Fatalf("unexpected choices: %v", got)
	}

	broken := NewCheckerForTests(foundTool, runOK,
		func(context.Context) (CPUInfo, error) { return CPUInfo{}, errors.New("boom") },
		os.MkdirAll, os.CreateTemp, os.Remove)
	got = broken.ThreadChoices(context.Background())
	if len(got) != 2 || got[1] != 1 {
		t.Fatalf("unexpected fallback choices: %v", got)
	}
}

type countingProber struct {
	tools atomic.Int32
	hw    atomic.Int32
	hwOK  bool
}

func (p *countingProber) HasRequiredTools(context.Context) bool {
	p.tools.Add(1)
	return true
}

func (p *countingProber) HasHardwareAccel(context.Context) bool {
	p.hw.Add(1)
	return p.hwOK
}

// TestCapabilitiesCachesResults validates probes run once until Refresh.
func TestCapabilitiesCachesResults(t *testing.T) {
	prober := &countingProber{hwOK: true}
	caps := NewCapabilities(prober, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !caps.HasHardwareAccel(ctx) || !caps.HasRequiredTools(ctx) {
			t.Fatal("expected cached true results")
		}
	}
	if prober.hw.Load() != 1 || prober.tools.Load() != 1 {
		t.Fatalf("expected one probe each, got hw=%d tools=%d", prober.hw.Load(), prober.tools.Load())
	}

	caps.Refresh()
	caps.HasHardwareAccel(ctx)
	if prober.hw.Load() != 2 {
		t.Fatalf("expected probe after refresh, got %d", prober.hw.Load())
	}
}

// TestCapabilitiesDisabledHardware validates the config switch.
func TestCapabilitiesDisabledHardware(t *testing.T) {
	prober := &countingProber{hwOK: true}
	caps := NewCapabilities(prober, false)
	if caps.HasHardwareAccel(context.Background()) {
		t.Fatal("expected disabled hardware path")
	}
	if prober.hw.Load() != 0 {
		t.Fatal("expected no probe when disabled")
	}
}

// TestCapabilitiesSkipsCacheOnCancel validates an interrupted probe is retried.
func TestCapabilitiesSkipsCacheOnCancel(t *testing.T) {
	prober := &countingProber{}
	caps := NewCapabilities(prober, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caps.HasHardwareAccel(ctx)
	caps.HasHardwareAccel(context.Background())
	caps.HasHardwareAccel(context.Background())

	if prober.hw.Load() != 2 {
		t.Fatalf("expected cancelled probe to be retried once, got %d", prober.hw.Load())
	}
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
