package interval

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for civil dates.
const DateLayout = "2006-01-02"

// MaxRangeDays caps a single range (five years) so per-day expansion stays bounded.
const MaxRangeDays = 5 * 366

// Day normalises t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a normalised day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Day(t), nil
}

// FormatDate renders a day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Overlaps reports whether the closed intervals [aStart, aEnd] and [bStart, bEnd] share a day.
// An interval ending on day D and one starting on D overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	aStart, aEnd, bStart, bEnd = Day(aStart), Day(aEnd), Day(bStart), Day(bEnd)
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// Intersect returns the shared window of two closed intervals.
func Intersect(aStart, aEnd, bStart, bEnd time.Time) (time.Time, time.Time, bool) {
	if !Overlaps(aStart, aEnd, bStart, bEnd) {
		return time.Time{}, time.Time{}, false
	}
	start := Day(aStart)
	if b := Day(bStart); b.After(start) {
		start = b
	}
	end := Day(aEnd)
	if b := Day(bEnd); b.Before(end) {
		end = b
	}
	return start, end, true
}

// DayCount returns the inclusive number of calendar days in [start, end], never less than 1.
func DayCount(start, end time.Time) int {
	n := int(Day(end).Sub(Day(start)).Hours()/24) + 1
	if n < 1 {
		return 1
	}
	return n
}

// DaysInRange lists every calendar day from start to end inclusive.
// It returns nil when end is before start.
func DaysInRange(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	days := make([]time.Time, 0, DayCount(start, end))
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DailyHours spreads a total over every calendar day of the range.
func DailyHours(allocatedHours float64, start, end time.Time) float64 {
	return allocatedHours / float64(DayCount(start, end))
}

// HoursForWeeklyRate converts an "hours per week" figure into the total over [start, end].
func HoursForWeeklyRate(weeklyHours float64, start, end time.Time) float64 {
	return weeklyHours / 7 * float64(DayCount(start, end))
}

// Contains reports whether day falls inside [start, end].
func Contains(start, end, day time.Time) bool {
	day = Day(day)
	return !day.Before(Day(start)) && !day.After(Day(end))
}

// CheckBounds rejects inverted ranges and ranges longer than MaxRangeDays.
func CheckBounds(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("start and end dates are required")
	}
	if Day(end).Before(Day(start)) {
		return fmt.Errorf("end date %s is before start date %s", FormatDate(end), FormatDate(start))
	}
	if n := DayCount(start, end); n > MaxRangeDays {
		return fmt.Errorf("range of %d days exceeds the %d day limit", n, MaxRangeDays)
	}
	return nil
}

// Windows collapses a sorted list of days into contiguous [start, end] runs.
func Windows(days []time.Time) [][2]time.Time {
	var out [][2]time.Time
	for _, d := range days {
		d = Day(d)
		if n := len(out); n > 0 && out[n-1][1].AddDate(0, 0, 1).Equal(d) {
			out[n-1][1] = d
			continue
		}
		out = append(out, [2]time.Time{d, d})
	}
	return out
}
