package diagnostics

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"media-converter/internal/domain"
)

// HardwareEncoder is the encoder exercised by the hardware trial.
const HardwareEncoder = "h264_nvenc"

// Checker validates external tools, hardware encoding and the output path.
type Checker struct {
	ffmpegPath     string
	ffprobePath    string
	hwProbeTimeout time.Duration
	lookPath       func(string) (string, error)
	run            func(ctx context.Context, name string, args ...string) error
	cpuInfo        func(ctx context.Context) (CPUInfo, error)
	mkdirAll       func(string, os.FileMode) error
	createTemp     func(string, string) (*os.File, error)
	remove         func(string) error
}

// CPUInfo describes the host processor.
type CPUInfo struct {
	Model   string
	Logical int
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(ffmpegPath, ffprobePath string, hwProbeTimeout time.Duration) *Checker {
	if hwProbeTimeout <= 0 {
		hwProbeTimeout = 10 * time.Second
	}
	return &Checker{
		ffmpegPath:     ffmpegPath,
		ffprobePath:    ffprobePath,
		hwProbeTimeout: hwProbeTimeout,
		lookPath:       exec.LookPath,
		run:            runQuiet,
		cpuInfo:        hostCPU,
		mkdirAll:       os.MkdirAll,
		createTemp:     os.CreateTemp,
		remove:         os.Remove,
	}
}

// HasRequiredTools reports whether ffmpeg and ffprobe answer a version query.
func (c *Checker) HasRequiredTools(ctx context.Context) bool {
	for _, tool := range []string{c.ffmpegPath, c.ffprobePath} {
		if err := c.run(ctx, tool, "-version"); err != nil {
			return false
		}
	}
	return true
}

// HasHardwareAccel runs a one-frame NVENC trial encode of a synthetic test
// pattern. Missing tools, a non-zero exit and timeouts all yield false.
func (c *Checker) HasHardwareAccel(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.hwProbeTimeout)
	defer cancel()

	err := c.run(ctx, c.ffmpegPath,
		"-hide_banner",
		"-f", "lavfi",
		"-i", "testsrc=size=128x128:rate=1",
		"-frames:v", "1",
		"-c:v", HardwareEncoder,
		"-f", "null", "-",
	)
	return err == nil && ctx.Err() == nil
}

// Run executes all startup checks and returns a combined report. hwAccel is
// the cached capability result; it is informational and never a failure.
func (c *Checker) Run(ctx context.Context, settings domain.Settings, hwAccel bool) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(ctx, "ffmpeg", c.ffmpegPath),
		c.checkTool(ctx, "ffprobe", c.ffprobePath),
		checkHardware(hwAccel),
		c.checkCPU(ctx),
		c.checkOutputDir(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt:   time.Now().UTC(),
		HasFailures:   hasFailures,
		HardwareAccel: hwAccel,
		Items:         items,
	}
}

// ThreadChoices lists selectable thread hints: 0 (encoder default) and
// 1..logical cores.
func (c *Checker) ThreadChoices(ctx context.Context) []int {
	info, err := c.cpuInfo(ctx)
	logical := info.Logical
	if err != nil || logical <= 0 {
		logical = 1
	}

	out := make([]int, 0, logical+1)
	for i := 0; i <= logical; i++ {
		out = append(out, i)
	}
	return out
}

// checkTool verifies a required CLI executable exists and runs.
func (c *Checker) checkTool(ctx context.Context, name, bin string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "tool_" + name,
		Name: name,
	}

	path, err := c.lookPath(bin)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", bin)
		item.Hint = "Install ffmpeg (which ships ffprobe) and ensure both binaries are on PATH."
		return item
	}
	if err := c.run(ctx, path, "-version"); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s found at %s but -version failed: %v", name, path, err)
		item.Hint = "Reinstall ffmpeg; the binary on PATH does not start."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkHardware reports the NVENC trial outcome.
func checkHardware(available bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "hw_accel",
		Name: "Hardware encoding",
	}
	if available {
		item.Status = domain.DiagnosticStatusPass
		item.Message = HardwareEncoder + " trial encode succeeded; web exports use CUDA."
		return item
	}
	item.Status = domain.DiagnosticStatusWarn
	item.Message = "Hardware encoding unavailable; using software encoders."
	item.Hint = "Install an NVIDIA driver and an ffmpeg build with NVENC to speed up H.264 exports."
	return item
}

// checkCPU reports the processor used by software encoders.
func (c *Checker) checkCPU(ctx context.Context) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "cpu",
		Name: "Processor",
	}
	info, err := c.cpuInfo(ctx)
	if err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Cannot read CPU information: %v", err)
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%s (%d threads)", info.Model, info.Logical)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "No output directory selected."
		item.Hint = "Choose a destination folder before starting a conversion."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for converted files."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// runQuiet runs a command and discards its output.
func runQuiet(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

// hostCPU reads the processor model and logical core count.
func hostCPU(ctx context.Context) (CPUInfo, error) {
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return CPUInfo{}, err
	}
	info := CPUInfo{Model: "Unknown CPU", Logical: logical}
	if stats, err := cpu.InfoWithContext(ctx); err == nil && len(stats) > 0 {
		info.Model = strings.TrimSpace(stats[0].ModelName)
	}
	return info, nil
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	run func(ctx context.Context, name string, args ...string) error,
	cpuInfo func(ctx context.Context) (CPUInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		ffmpegPath:     "ffmpeg",
		ffprobePath:    "ffprobe",
		hwProbeTimeout: time.Second,
		lookPath:       lookPath,
		run:            run,
		cpuInfo:        cpuInfo,
		mkdirAll:       mkdirAll,
		createTemp:     createTemp,
		remove:         remove,
	}
}
