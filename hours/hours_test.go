package hours_test

import (
	"testing"
	"time"

	"github.com/xraph/dialrun/hours"
)

// mondayAt returns a Monday at the given UTC hour/minute.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2025, time.March, 3, hour, minute, 0, 0, time.UTC)
}

func TestOpen_NoConfigurationIsAlwaysOpen(t *testing.T) {
	if !hours.Open("", hours.Schedule{}, mondayAt(3, 0)) {
		t.Error("empty timezone and schedule should be open")
	}
	if !hours.Open("UTC", nil, mondayAt(3, 0)) {
		t.Error("nil schedule should be open")
	}
	if !hours.Open("", hours.Schedule{time.Monday: {Start: "09:00", End: "17:00"}}, mondayAt(3, 0)) {
		t.Error("missing timezone should be open regardless of schedule")
	}
}

func TestOpen_MissingWeekdayIsClosed(t *testing.T) {
	sched := hours.Schedule{
		time.Tuesday: {Start: "09:00", End: "17:00"},
	}
	if hours.Open("UTC", sched, mondayAt(10, 0)) {
		t.Error("weekday with no entry should be closed")
	}
}

func TestOpen_EmptyBoundsAreClosed(t *testing.T) {
	sched := hours.Schedule{
		time.Monday: {Start: "", End: "17:00"},
	}
	if hours.Open("UTC", sched, mondayAt(10, 0)) {
		t.Error("empty start should be closed")
	}
}

func TestOpen_ClosedAllDaySentinel(t *testing.T) {
	sched := hours.Schedule{
		time.Monday: {Start: "00:00", End: "00:00"},
	}
	for _, h := range []int{0, 6, 12, 18, 23} {
		if hours.Open("UTC", sched, mondayAt(h, 30)) {
			t.Errorf("00:00-00:00 should be closed at hour %d", h)
		}
	}
}

func TestOpen_OpenAllDaySentinel(t *testing.T) {
	sched := hours.Schedule{
		time.Monday: {Start: "00:00", End: "23:59"},
	}
	for _, h := range []int{0, 6, 12, 18, 23} {
		if !hours.Open("UTC", sched, mondayAt(h, 30)) {
			t.Errorf("00:00-23:59 should be open at hour %d", h)
		}
	}
}

func TestOpen_InclusiveBounds(t *testing.T) {
	sched := hours.Schedule{
		time.Monday: {Start: "09:00", End: "17:00"},
	}

	tests := []struct {
		hour, minute int
		want         bool
	}{
		{8, 59, false},
		{9, 0, true},
		{12, 30, true},
		{17, 0, true},
		{17, 1, false},
	}
	for _, tt := range tests {
		if got := hours.Open("UTC", sched, mondayAt(tt.hour, tt.minute)); got != tt.want {
			t.Errorf("Open at %02d:%02d = %v, want %v", tt.hour, tt.minute, got, tt.want)
		}
	}
}

func TestOpen_RespectsOrganizationTimezone(t *testing.T) {
	sched := hours.Schedule{
		time.Monday: {Start: "09:00", End: "17:00"},
	}

	// 15:00 UTC on Monday is 10:00 in New York: open there, closed in Tokyo
	// where it is already Tuesday 00:00.
	at := mondayAt(15, 0)
	if !hours.Open("America/New_York", sched, at) {
		t.Error("should be open at 10:00 New York time")
	}
	if hours.Open("Asia/Tokyo", sched, at) {
		t.Error("should be closed at midnight Tokyo time (Tuesday has no entry)")
	}
}

func TestOpen_MalformedWindowIsClosed(t *testing.T) {
	sched := hours.Schedule{
		time.Monday: {Start: "9am", End: "17:00"},
	}
	if hours.Open("UTC", sched, mondayAt(10, 0)) {
		t.Error("malformed start should be closed")
	}
}

func TestInRecipientWindow(t *testing.T) {
	// 14:00 UTC is 09:00 in New York and 23:00 in Tokyo.
	at := mondayAt(14, 0)

	ok, err := hours.InRecipientWindow("America/New_York", 8, 20, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("09:00 New York should be within [8, 20)")
	}

	ok, err = hours.InRecipientWindow("Asia/Tokyo", 8, 20, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("23:00 Tokyo should be outside [8, 20)")
	}
}

func TestInRecipientWindow_EndHourExclusive(t *testing.T) {
	// Exactly 20:00 UTC.
	ok, err := hours.InRecipientWindow("UTC", 8, 20, mondayAt(20, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("20:00 should be outside [8, 20)")
	}
}

func TestInRecipientWindow_BadTimezone(t *testing.T) {
	if _, err := hours.InRecipientWindow("Not/AZone", 8, 20, mondayAt(12, 0)); err == nil {
		t.Error("unresolvable timezone should return an error")
	}
}
