// Package timespec parses the --since and --until flags of the CLI.
package timespec

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Parse resolves a time specification relative to now. Accepted forms:
//   - Go durations ("1h", "90m", "2h45m"), meaning that long before now
//   - RFC3339 timestamps ("2025-10-29T13:00:00Z")
//   - calendar dates ("2025-10-29"), meaning midnight UTC
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dateLayout, spec); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration %q", spec)
		}
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m', a date like '2025-10-29' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// Range is a half-open time window. A zero bound is unbounded.
type Range struct {
	Since time.Time
	Until time.Time
}

// ParseRange parses the --since and --until flag values. Empty values leave
// that end of the range open.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var (
		r   Range
		err error
	)

	if since != "" {
		if r.Since, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.Until, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}

// ContainsMs reports whether a Unix millisecond timestamp falls inside the range.
func (r Range) ContainsMs(ms int64) bool {
	if !r.Since.IsZero() && ms < r.Since.UnixMilli() {
		return false
	}
	if !r.Until.IsZero() && ms >= r.Until.UnixMilli() {
		return false
	}
	return true
}
