package schedule

import (
	"fmt"
	"strings"
	"time"
)

// GracePeriod is how long a job may go unapplied before it runs regardless
// of window alignment.
const GracePeriod = 50 * 24 * time.Hour

type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Monthly  Frequency = "monthly"
	Frequent Frequency = "frequent"
)

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Daily, Weekly, Monthly, Frequent:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

// Cursor is the persisted recurrence state of one named job.
type Cursor struct {
	Name        string
	LastApplied time.Time
	Frequency   Frequency
	Weekday     *time.Weekday
	DayOfMonth  int
}

func (c Cursor) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return fmt.Errorf("job %s: %w", c.Name, err)
	}
	switch c.Frequency {
	case Weekly:
		if c.Weekday == nil || *c.Weekday < time.Sunday || *c.Weekday > time.Saturday {
			return fmt.Errorf("job %s: weekly jobs need a weekday anchor 0-6", c.Name)
		}
	case Monthly:
		if c.DayOfMonth < 1 || c.DayOfMonth > 31 {
			return fmt.Errorf("job %s: monthly jobs need a day of month 1-31", c.Name)
		}
	}
	return nil
}

type Policy struct {
	ResetHour     int
	FrequentEvery time.Duration
	Grace         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ResetHour:     0,
		FrequentEvery: 5 * time.Minute,
		Grace:         GracePeriod,
	}
}

func (p Policy) grace() time.Duration {
	if p.Grace <= 0 {
		return GracePeriod
	}
	return p.Grace
}

// Target returns the scheduled time of the cycle containing now. ok is false
// when the cycle has no target, e.g. day 31 of a 30-day month.
func (p Policy) Target(c Cursor, now time.Time) (time.Time, bool) {
	now = now.UTC()
	y, m, d := now.Date()
	switch c.Frequency {
	case Daily:
		return time.Date(y, m, d, p.ResetHour, 0, 0, 0, time.UTC), true
	case Weekly:
		if c.Weekday == nil {
			return time.Time{}, false
		}
		back := (int(now.Weekday()) - int(*c.Weekday) + 7) % 7
		return time.Date(y, m, d-back, p.ResetHour, 0, 0, 0, time.UTC), true
	case Monthly:
		if c.DayOfMonth < 1 || c.DayOfMonth > daysIn(y, m) {
			return time.Time{}, false
		}
		return time.Date(y, m, c.DayOfMonth, p.ResetHour, 0, 0, 0, time.UTC), true
	case Frequent:
		return c.LastApplied.UTC().Add(p.FrequentEvery), true
	default:
		return time.Time{}, false
	}
}

// Due reports whether the job should run at now. A job that already ran for
// the current target never runs again for it.
func (p Policy) Due(c Cursor, now time.Time) bool {
	target, ok := p.Target(c, now)
	if !ok {
		return false
	}
	if !c.LastApplied.Before(target) {
		return false
	}
	if !now.Before(target) {
		return true
	}
	return now.Sub(c.LastApplied) >= p.grace()
}

// Next estimates when the job will next be due.
func (p Policy) Next(c Cursor, now time.Time) (time.Time, bool) {
	if p.Due(c, now) {
		return now.UTC(), true
	}
	if c.Frequency == Frequent {
		return p.Target(c, now)
	}
	probe := now.UTC()
	for i := 0; i < 400; i++ {
		target, ok := p.Target(c, probe)
		if ok && target.After(now) && c.LastApplied.Before(target) {
			return target, true
		}
		probe = probe.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
