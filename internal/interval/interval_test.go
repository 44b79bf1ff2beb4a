package interval

import (
	"math"
	"testing"
	"time"
)

func d(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name         string
		aStart, aEnd string
		bStart, bEnd string
		want         bool
	}{
		{"disjoint", "2024-01-01", "2024-01-10", "2024-01-11", "2024-01-20", false},
		{"a ends when b starts", "2024-01-01", "2024-01-10", "2024-01-10", "2024-01-20", true},
		{"b ends when a starts", "2024-01-10", "2024-01-20", "2024-01-01", "2024-01-10", true},
		{"contained", "2024-01-01", "2024-01-31", "2024-01-10", "2024-01-12", true},
		{"single days equal", "2024-03-01", "2024-03-01", "2024-03-01", "2024-03-01", true},
		{"single days apart", "2024-03-01", "2024-03-01", "2024-03-02", "2024-03-02", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overlaps(d(tt.aStart), d(tt.aEnd), d(tt.bStart), d(tt.bEnd))
			if got != tt.want {
				t.Errorf("Overlaps(a,b) = %v, want %v", got, tt.want)
			}
			if rev := Overlaps(d(tt.bStart), d(tt.bEnd), d(tt.aStart), d(tt.aEnd)); rev != got {
				t.Errorf("Overlaps is not symmetric: (a,b)=%v (b,a)=%v", got, rev)
			}
		})
	}
}

func TestOverlaps_IgnoresTimeOfDay(t *testing.T) {
	a := time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 10, 1, 0, 0, 0, time.UTC)
	if !Overlaps(b, b, a, a) {
		t.Fatal("expected same calendar day to overlap regardless of clock time")
	}
}

func TestIntersect(t *testing.T) {
	start, end, ok := Intersect(d("2024-01-01"), d("2024-01-31"), d("2024-01-15"), d("2024-02-15"))
	if !ok {
		t.Fatal("expected intersection")
	}
	if FormatDate(start) != "2024-01-15" || FormatDate(end) != "2024-01-31" {
		t.Errorf("got %s..%s, want 2024-01-15..2024-01-31", FormatDate(start), FormatDate(end))
	}

	if _, _, ok := Intersect(d("2024-01-01"), d("2024-01-31"), d("2024-02-01"), d("2024-02-15")); ok {
		t.Error("expected no intersection for adjacent ranges")
	}
}

func TestDaysInRange(t *testing.T) {
	days := DaysInRange(d("2024-02-27"), d("2024-03-02"))
	want := []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}
	if len(days) != len(want) {
		t.Fatalf("got %d days, want %d", len(days), len(want))
	}
	for i, day := range days {
		if FormatDate(day) != want[i] {
			t.Errorf("day %d = %s, want %s", i, FormatDate(day), want[i])
		}
	}

	if got := DaysInRange(d("2024-03-02"), d("2024-03-01")); got != nil {
		t.Errorf("expected nil for inverted range, got %v", got)
	}

	// restartable: a second call yields the same sequence
	again := DaysInRange(d("2024-02-27"), d("2024-03-02"))
	for i := range days {
		if !days[i].Equal(again[i]) {
			t.Fatalf("second expansion differs at %d", i)
		}
	}
}

func TestDayCountAndDailyHours(t *testing.T) {
	if n := DayCount(d("2024-01-01"), d("2024-01-31")); n != 31 {
		t.Errorf("DayCount = %d, want 31", n)
	}
	if n := DayCount(d("2024-01-05"), d("2024-01-05")); n != 1 {
		t.Errorf("single-day DayCount = %d, want 1", n)
	}
	if got := DailyHours(31, d("2024-01-01"), d("2024-01-31")); got != 1 {
		t.Errorf("DailyHours = %v, want 1", got)
	}
	if got := DailyHours(6, d("2024-01-05"), d("2024-01-05")); got != 6 {
		t.Errorf("single-day DailyHours = %v, want 6", got)
	}
}

func TestHoursForWeeklyRate(t *testing.T) {
	total := HoursForWeeklyRate(40, d("2024-01-01"), d("2024-01-31"))
	daily := DailyHours(total, d("2024-01-01"), d("2024-01-31"))
	if math.Abs(daily-40.0/7) > 1e-9 {
		t.Errorf("daily = %v, want %v", daily, 40.0/7)
	}
}

func TestCheckBounds(t *testing.T) {
	if err := CheckBounds(d("2024-01-01"), d("2024-01-01")); err != nil {
		t.Errorf("single day should be valid: %v", err)
	}
	if err := CheckBounds(d("2024-01-02"), d("2024-01-01")); err == nil {
		t.Error("expected error for inverted range")
	}
	if err := CheckBounds(time.Time{}, d("2024-01-01")); err == nil {
		t.Error("expected error for missing start")
	}
	if err := CheckBounds(d("2020-01-01"), d("2030-01-01")); err == nil {
		t.Error("expected error for a range longer than the limit")
	}
}

func TestWindows(t *testing.T) {
	days := []time.Time{d("2024-01-01"), d("2024-01-02"), d("2024-01-03"), d("2024-01-07"), d("2024-01-09"), d("2024-01-10")}
	got := Windows(days)
	want := [][2]string{{"2024-01-01", "2024-01-03"}, {"2024-01-07", "2024-01-07"}, {"2024-01-09", "2024-01-10"}}
	if len(got) != len(want) {
		t.Fatalf("got %d windows, want %d", len(got), len(want))
	}
	for i := range want {
		if FormatDate(got[i][0]) != want[i][0] || FormatDate(got[i][1]) != want[i][1] {
			t.Errorf("window %d = %s..%s, want %s..%s", i, FormatDate(got[i][0]), FormatDate(got[i][1]), want[i][0], want[i][1])
		}
	}
}
