package encode

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

var timeMarker = regexp.MustCompile(`time=(\d+):(\d{1,2}):(\d{1,2}(?:\.\d+)?)`)

// Progress is one normalized progress observation.
type Progress struct {
	Elapsed       float64 `json:"elapsed"`
	Percent       float64 `json:"percent"`
	Indeterminate bool    `json:"indeterminate"`
}

// ParseElapsed extracts the seconds encoded in a time=HH:MM:SS.ms marker.
func ParseElapsed(line string) (float64, bool) {
	m := timeMarker.FindStringSubmatch(line)
	if len(m) != 4 {
		return 0, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(h*3600+mins*60) + sec, true
}

// Percent converts elapsed seconds to a percentage of total clamped to [0,100].
func Percent(elapsed, total float64) float64 {
	if total <= 0 {
		return 0
	}
	pct := elapsed / total * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// ProgressTracker turns diagnostic lines into a non-decreasing progress
// sequence for one job. A zero total switches it to elapsed-only reporting.
type ProgressTracker struct {
	total float64
	last  Progress
	seen  bool
}

// NewProgressTracker creates a tracker for a source of total seconds.
func NewProgressTracker(total float64) *ProgressTracker {
	return &ProgressTracker{total: total}
}

// Observe parses line and returns the new progress when it carries a marker
// that does not move progress backwards.
func (t *ProgressTracker) Observe(line string) (Progress, bool) {
	elapsed, ok := ParseElapsed(line)
	if !ok {
		return t.last, false
	}

	next := Progress{Elapsed: elapsed}
	if t.total > 0 {
		next.Percent = Percent(elapsed, t.total)
		if t.seen && next.Percent < t.last.Percent {
			return t.last, false
		}
	} else {
		next.Indeterminate = true
		if t.seen && next.Elapsed < t.last.Elapsed {
			return t.last, false
		}
	}

	t.last = next
	t.seen = true
	return next, true
}

// Current returns the last accepted observation.
func (t *ProgressTracker) Current() Progress {
	return t.last
}

// isErrorLine reports whether a diagnostic line is tagged as an error.
func isErrorLine(line string) bool {
	return strings.Contains(strings.ToLower(line), "error")
}

// scanProgressLines splits on \n and \r; ffmpeg rewrites its stats line
// with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// lineRing keeps the most recent n lines.
type lineRing struct {
	lines []string
	next  int
	full  bool
}

func newLineRing(n int) *lineRing {
	if n <= 0 {
		n = 200
	}
	return &lineRing{lines: make([]string, n)}
}

func (r *lineRing) add(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *lineRing) String() string {
	if !r.full {
		return strings.Join(r.lines[:r.next], "\n")
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return strings.Join(out, "\n")
}
