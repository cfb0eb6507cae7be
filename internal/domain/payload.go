package domain

import (
	"regexp"
	"strconv"
	"time"
)

// Payload is an opaque named blob moving through the pipeline. It is keyed by
// (Subsystem, Filename); the content is never inspected.
type Payload struct {
	// Subsystem is the detector subsystem tag (e.g. "EMC", "HLT").
	Subsystem string

	// Filename is unique within subsystem+run. By convention it embeds a
	// monotonically increasing sequence or timestamp.
	Filename string

	// Run is the run identifier derived from directory naming, or zero when
	// the payload did not arrive inside a run directory.
	Run RunID

	// SizeBytes is the payload size on disk.
	SizeBytes int64

	// ReceivedAt is assigned by the Receiver at publication time, never by
	// the source.
	ReceivedAt time.Time
}

// RunID is a data-taking run number. The zero value means "unknown run".
type RunID int

// String renders the identifier in the canonical Run<digits> directory form.
func (r RunID) String() string {
	if r == 0 {
		return ""
	}
	return "Run" + strconv.Itoa(int(r))
}

var runDirPattern = regexp.MustCompile(`(?:^|/)Run(\d+)(?:/|$)`)

// ParseRunID extracts a run identifier from a path containing a Run<digits>
// directory component. Returns false when no such component exists.
func ParseRunID(path string) (RunID, bool) {
	m := runDirPattern.FindStringSubmatch(path)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return RunID(n), true
}
