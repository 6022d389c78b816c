package scheduler

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danny/vacsync/internal/domain"
)

// frequencySchedule implements cron.Schedule for the fixed frequency
// enum. The first occurrence is derived from the configured time of
// day, pushed to the next day when that time has already passed today;
// hourly tasks always fire exactly one interval from now. Subsequent
// occurrences step by the frequency interval.
type frequencySchedule struct {
	freq   domain.ScheduleFrequency
	hour   int
	minute int

	mu   sync.Mutex
	next time.Time
}

// newFrequencySchedule builds a schedule from a task's frequency and
// "HH:MM" time of day.
func newFrequencySchedule(freq domain.ScheduleFrequency, timeOfDay string) *frequencySchedule {
	hour, minute := parseTimeOfDay(timeOfDay)
	return &frequencySchedule{freq: freq, hour: hour, minute: minute}
}

// Next returns the next activation time after t.
func (s *frequencySchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next.After(t) {
		return s.next
	}

	if s.next.IsZero() {
		s.next = s.first(t)
		return s.next
	}

	interval := s.freq.Interval()
	for !s.next.After(t) {
		s.next = s.next.Add(interval)
	}
	return s.next
}

// first computes the initial occurrence relative to t.
func (s *frequencySchedule) first(t time.Time) time.Time {
	if s.freq == domain.FrequencyHourly {
		return t.Add(time.Hour)
	}
	occurrence := time.Date(t.Year(), t.Month(), t.Day(), s.hour, s.minute, 0, 0, t.Location())
	if !occurrence.After(t) {
		occurrence = occurrence.AddDate(0, 0, 1)
	}
	return occurrence
}

// parseTimeOfDay parses "HH:MM"; malformed input falls back to 02:00.
func parseTimeOfDay(tod string) (int, int) {
	parts := strings.SplitN(strings.TrimSpace(tod), ":", 2)
	if len(parts) != 2 {
		return 2, 0
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 2, 0
	}
	return hour, minute
}
