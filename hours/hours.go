// Package hours decides whether "now" is a callable moment: organization
// office hours in the organization's timezone, plus an independent
// per-recipient local-hour window. All functions are pure.
package hours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a single day's calling window, both bounds in "HH:MM".
// The range 00:00–00:00 means closed all day; 00:00–23:59 means open all day.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Schedule maps weekdays to their calling windows. Days without an entry
// are treated as closed.
type Schedule map[time.Weekday]Window

// Open reports whether the organization is callable at the given instant.
//
// An organization with no timezone or no schedule is treated as always
// open: a misconfigured org must not wedge its runs. A weekday with no
// entry, or with an empty start or end, is closed: unknown is not open.
func Open(tz string, sched Schedule, at time.Time) bool {
	if tz == "" || len(sched) == 0 {
		return true
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Unresolvable timezone is a misconfiguration, not a closure.
		return true
	}

	local := at.In(loc)
	w, ok := sched[local.Weekday()]
	if !ok || w.Start == "" || w.End == "" {
		return false
	}

	start, err := parseMinutes(w.Start)
	if err != nil {
		return false
	}
	end, err := parseMinutes(w.End)
	if err != nil {
		return false
	}

	// Sentinel ranges.
	if start == 0 && end == 0 {
		return false // closed all day
	}
	if start == 0 && end == 23*60+59 {
		return true // open all day
	}

	now := local.Hour()*60 + local.Minute()
	return now >= start && now <= end
}

// InRecipientWindow reports whether the recipient's local hour falls within
// [startHour, endHour). It is independent of the organization schedule and
// only consulted when a run restricts calls to recipient daytime.
//
// An error means the recipient timezone could not be resolved; callers
// treat that as callable rather than dropping the row.
func InRecipientWindow(tz string, startHour, endHour int, at time.Time) (bool, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("hours: load recipient timezone %q: %w", tz, err)
	}

	h := at.In(loc).Hour()
	return h >= startHour && h < endHour, nil
}

// parseMinutes converts "HH:MM" to minutes since midnight.
func parseMinutes(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("hours: malformed time %q", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("hours: malformed hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("hours: malformed minute in %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("hours: time %q out of range", s)
	}

	return h*60 + m, nil
}
