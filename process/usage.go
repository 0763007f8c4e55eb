package process

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrUsage reports a missing or malformed resource-usage record.
var ErrUsage = errors.New("malformed resource usage")

// Usage is the resource accounting of one process.
type Usage struct {
	PageFaults int64
	// Elapsed is wall-clock time in seconds.
	Elapsed float64
	// PeakRSS is the peak resident set size in bytes.
	PeakRSS int64
}

// ReadUsage reads the record written by the time wrapper at path.
func ReadUsage(path string) (Usage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	return ParseUsage(string(data))
}

// ParseUsage parses "<page faults> <elapsed seconds> <peak KiB>".
// GNU time writes notes such as "Command exited with non-zero status 1"
// ahead of the formatted line, so only the last non-empty line counts.
func ParseUsage(record string) (Usage, error) {
	var line string

	lines := strings.Split(record, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			line = l

			break
		}
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Usage{}, fmt.Errorf("%w: %q", ErrUsage, line)
	}

	faults, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: page faults %q", ErrUsage, fields[0])
	}

	elapsed, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: elapsed %q", ErrUsage, fields[1])
	}

	peakKiB, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: peak memory %q", ErrUsage, fields[2])
	}

	return Usage{
		PageFaults: faults,
		Elapsed:    elapsed,
		PeakRSS:    peakKiB * 1024,
	}, nil
}
