// Package window decides which calendar days a pipeline run recomputes.
package window

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned when window lengths break reload <= backfill <= retention.
var ErrInvalidWindow = errors.New("invalid processing window")

// DateLayout is the day format used on the command line and in storage.
const DateLayout = "2006-01-02"

// Mode selects how far back a run reaches.
type Mode string

const (
	Full        Mode = "full"
	Incremental Mode = "incremental"
	Backfill    Mode = "backfill"
)

// ParseMode accepts full, incremental or backfill.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Full, Incremental, Backfill:
		return m, nil
	}
	return "", fmt.Errorf("unknown run mode %q (want full, incremental or backfill)", s)
}

// ProcessingWindow holds the day counts that bound reprocessing and retention.
type ProcessingWindow struct {
	ReloadDays    int
	BackfillDays  int
	RetentionDays int
}

// New validates and returns a ProcessingWindow.
func New(reload, backfill, retention int) (ProcessingWindow, error) {
	w := ProcessingWindow{ReloadDays: reload, BackfillDays: backfill, RetentionDays: retention}
	if err := w.Validate(); err != nil {
		return ProcessingWindow{}, err
	}
	return w, nil
}

// Validate reports the first violated invariant. Values are never clamped.
func (w ProcessingWindow) Validate() error {
	switch {
	case w.ReloadDays <= 0:
		return fmt.Errorf("%w: reload_days must be positive, got %d", ErrInvalidWindow, w.ReloadDays)
	case w.BackfillDays <= 0:
		return fmt.Errorf("%w: backfill_days must be positive, got %d", ErrInvalidWindow, w.BackfillDays)
	case w.RetentionDays <= 0:
		return fmt.Errorf("%w: retention_days must be positive, got %d", ErrInvalidWindow, w.RetentionDays)
	case w.ReloadDays > w.BackfillDays:
		return fmt.Errorf("%w: reload_days (%d) > backfill_days (%d)", ErrInvalidWindow, w.ReloadDays, w.BackfillDays)
	case w.BackfillDays > w.RetentionDays:
		return fmt.Errorf("%w: backfill_days (%d) > retention_days (%d)", ErrInvalidWindow, w.BackfillDays, w.RetentionDays)
	}
	return nil
}

// DateRange is a closed range of days. A zero From means no lower bound.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Bounded reports whether the range has a lower bound.
func (r DateRange) Bounded() bool {
	return !r.From.IsZero()
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	day = Day(day)
	if r.Bounded() && day.Before(r.From) {
		return false
	}
	return !day.After(r.To)
}

// Days lists every day in a bounded range.
func (r DateRange) Days() []time.Time {
	if !r.Bounded() {
		return nil
	}
	var days []time.Time
	for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (r DateRange) String() string {
	if !r.Bounded() {
		return "(-inf, " + r.To.Format(DateLayout) + "]"
	}
	return "[" + r.From.Format(DateLayout) + ", " + r.To.Format(DateLayout) + "]"
}

// Range returns the days a run in the given mode recomputes, ending at runDate.
func (w ProcessingWindow) Range(mode Mode, runDate time.Time) (DateRange, error) {
	to := Day(runDate)
	switch mode {
	case Full:
		return DateRange{To: to}, nil
	case Incremental:
		return DateRange{From: to.AddDate(0, 0, -w.ReloadDays), To: to}, nil
	case Backfill:
		return DateRange{From: to.AddDate(0, 0, -w.BackfillDays), To: to}, nil
	}
	return DateRange{}, fmt.Errorf("unknown run mode %q", mode)
}

// RetentionCutoff returns the first day that survives a sweep keeping the given days.
// Rows dated before the cutoff are eligible for deletion.
func RetentionCutoff(today time.Time, days int) time.Time {
	return Day(today).AddDate(0, 0, -days)
}

// ResolveRunDate parses an explicit YYYY-MM-DD anchor, or defaults to yesterday.
func ResolveRunDate(override string, now time.Time) (time.Time, error) {
	if override == "" {
		return Day(now).AddDate(0, 0, -1), nil
	}
	t, err := time.Parse(DateLayout, override)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run date %q (use YYYY-MM-DD): %w", override, err)
	}
	return t, nil
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
