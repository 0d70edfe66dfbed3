package window

import (
	"testing"
	"time"
)

func mustWindow(t *testing.T, start, end string) *TimeWindow {
	t.Helper()
	w, err := ParseWindow(start, end, "UTC")
	if err != nil {
		t.Fatalf("ParseWindow(%s, %s): %v", start, end, err)
	}
	return w
}

func at(t *testing.T, clock string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", "2026-03-10 "+clock)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestParseWindow_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		tz    string
	}{
		{"missing colon", "2200", "06:00", "UTC"},
		{"hour out of range", "25:00", "06:00", "UTC"},
		{"minute out of range", "22:61", "06:00", "UTC"},
		{"bad timezone", "22:00", "06:00", "Not/AZone"},
		{"empty start", "", "06:00", "UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWindow(tt.start, tt.end, tt.tz); err == nil {
				t.Errorf("ParseWindow(%q, %q, %q) should fail", tt.start, tt.end, tt.tz)
			}
		})
	}
}

func TestTimeWindow_Contains(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		end    string
		clock  string
		inside bool
	}{
		{"daytime window inside", "09:00", "17:00", "12:00", true},
		{"daytime window before", "09:00", "17:00", "08:59", false},
		{"daytime window after", "09:00", "17:00", "17:01", false},
		{"daytime start boundary", "09:00", "17:00", "09:00", true},
		{"daytime end boundary", "09:00", "17:00", "17:00", true},

		{"overnight late evening", "22:00", "06:00", "23:30", true},
		{"overnight early morning", "22:00", "06:00", "03:00", true},
		{"overnight midday outside", "22:00", "06:00", "12:00", false},
		{"overnight start boundary", "22:00", "06:00", "22:00", true},
		{"overnight end boundary", "22:00", "06:00", "06:00", true},
		{"overnight just after end", "22:00", "06:00", "06:01", false},

		{"equal boundaries always open", "10:00", "10:00", "04:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := mustWindow(t, tt.start, tt.end)
			if got := w.Contains(at(t, tt.clock)); got != tt.inside {
				t.Errorf("Contains(%s) in %s = %v, want %v", tt.clock, w, got, tt.inside)
			}
		})
	}
}

func TestTimeWindow_NextStart(t *testing.T) {
	w := mustWindow(t, "22:00", "06:00")

	// Before today's opening: opens today.
	next := w.NextStart(at(t, "12:00"))
	if next.Day() != 10 || next.Hour() != 22 {
		t.Errorf("NextStart(12:00) = %s, want today 22:00", next)
	}

	// Inside the window after opening: next opening is tomorrow.
	next = w.NextStart(at(t, "23:00"))
	if next.Day() != 11 || next.Hour() != 22 {
		t.Errorf("NextStart(23:00) = %s, want tomorrow 22:00", next)
	}
}

func TestTimeWindow_NextEnd(t *testing.T) {
	w := mustWindow(t, "22:00", "06:00")

	// Late evening: window closes tomorrow morning.
	next := w.NextEnd(at(t, "23:00"))
	if next.Day() != 11 || next.Hour() != 6 {
		t.Errorf("NextEnd(23:00) = %s, want tomorrow 06:00", next)
	}

	// Early morning inside the window: closes this morning.
	next = w.NextEnd(at(t, "03:00"))
	if next.Day() != 10 || next.Hour() != 6 {
		t.Errorf("NextEnd(03:00) = %s, want today 06:00", next)
	}
}

func TestTimeWindow_Timezone(t *testing.T) {
	w, err := ParseWindow("22:00", "06:00", "America/New_York")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}

	// 03:00 UTC is 22:00 or 23:00 in New York depending on DST, both inside.
	utc := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	if !w.Contains(utc) {
		t.Errorf("03:00 UTC should be inside a 22:00-06:00 New York window")
	}
	// 18:00 UTC is early afternoon in New York, outside.
	utc = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	if w.Contains(utc) {
		t.Errorf("18:00 UTC should be outside a 22:00-06:00 New York window")
	}
}
