package encode

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DurationProbe queries ffprobe for source metadata.
type DurationProbe struct {
	ffprobePath string
	runner      commandRunner
}

// NewDurationProbe constructs a probe backed by os/exec.
func NewDurationProbe(ffprobePath string) *DurationProbe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &DurationProbe{
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
	}
}

// Duration returns the playable duration of path in seconds. The boolean is
// false when ffprobe fails or prints anything but a positive number.
func (p *DurationProbe) Duration(ctx context.Context, path string) (float64, bool) {
	result, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, false
	}
	return ParseDuration(result.Stdout)
}

// VideoCodec returns the lower-cased codec name of the first video stream.
func (p *DurationProbe) VideoCodec(ctx context.Context, path string) (string, error) {
	result, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return "", fmt.Errorf("probe codec %q: %w", path, err)
	}

	lines := strings.Fields(result.Stdout)
	if len(lines) == 0 {
		return "", fmt.Errorf("probe codec %q: no video stream", path)
	}
	return strings.ToLower(lines[0]), nil
}

// ParseDuration parses ffprobe's bare seconds output.
func ParseDuration(out string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// IsLongGOP reports whether codec is one Resolve decodes poorly and that
// should go through an intermediate codec first.
func IsLongGOP(codec string) bool {
	switch strings.ToLower(codec) {
	case "h264", "hevc":
		return true
	default:
		return false
	}
}

// NewDurationProbeForTests constructs a probe with an injectable runner.
func NewDurationProbeForTests(ffprobePath string, runner commandRunner) *DurationProbe {
	return &DurationProbe{
		ffprobePath: ffprobePath,
		runner:      runner,
	}
}
