package models

import "time"

// TimeRange is a half-open interval [Start, End). A zero bound is open.
type TimeRange struct {
	Start time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End   time.Time `json:"end,omitempty" yaml:"end,omitempty"`
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// SessionStats aggregates sessions whose login falls inside a range.
type SessionStats struct {
	Total                  int64            `json:"total" yaml:"total"`
	Active                 int64            `json:"active" yaml:"active"`
	AverageDurationSeconds float64          `json:"average_duration_seconds" yaml:"average_duration_seconds"`
	ByDeviceType           map[string]int64 `json:"by_device_type" yaml:"by_device_type"`
	ByBrowser              map[string]int64 `json:"by_browser" yaml:"by_browser"`
}

// ActivityStats aggregates events created inside [start, end).
// Hours and days are bucketed in UTC; days use YYYY-MM-DD keys.
type ActivityStats struct {
	Total     int64                  `json:"total" yaml:"total"`
	ByType    map[ActivityType]int64 `json:"by_type" yaml:"by_type"`
	ByHour    [24]int64              `json:"by_hour" yaml:"by_hour"`
	ByDay     map[string]int64       `json:"by_day" yaml:"by_day"`
	Successes int64                  `json:"successes" yaml:"successes"`
	Failures  int64                  `json:"failures" yaml:"failures"`
}

// DayKey formats t as the UTC calendar-day bucket key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
