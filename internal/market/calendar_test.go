package market

import (
	"testing"
	"time"
)

func mustCalendar(t *testing.T, opts CalendarOptions) *Calendar {
	t.Helper()
	c, err := NewCalendar(opts)
	if err != nil {
		t.Fatalf("build calendar: %v", err)
	}
	return c
}

func TestCalendarRegularSession(t *testing.T) {
	c := mustCalendar(t, CalendarOptions{Enabled: true, Timezone: "America/New_York"})
	loc, _ := time.LoadLocation("America/New_York")

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"weekday midday", time.Date(2024, 7, 2, 12, 0, 0, 0, loc), true},
		{"weekday at open", time.Date(2024, 7, 2, 9, 30, 0, 0, loc), true},
		{"weekday before open", time.Date(2024, 7, 2, 9, 29, 0, 0, loc), false},
		{"weekday at close", time.Date(2024, 7, 2, 16, 0, 0, 0, loc), false},
		{"saturday", time.Date(2024, 7, 6, 12, 0, 0, 0, loc), false},
		{"sunday", time.Date(2024, 7, 7, 12, 0, 0, 0, loc), false},
	}

	for _, tc := range cases {
		if got := c.IsOpen(tc.at); got != tc.open {
			t.Errorf("%s: IsOpen = %v, want %v", tc.name, got, tc.open)
		}
	}
}

func TestCalendarDisabledAlwaysOpen(t *testing.T) {
	c := mustCalendar(t, CalendarOptions{Enabled: false})
	if !c.IsOpen(time.Date(2024, 7, 6, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("disabled calendar must report open")
	}
}

func TestCalendarCustomWindow(t *testing.T) {
	c := mustCalendar(t, CalendarOptions{Enabled: true, Timezone: "UTC", Open: "08:00", Close: "17:30"})

	if !c.IsOpen(time.Date(2024, 7, 2, 8, 0, 0, 0, time.UTC)) {
		t.Fatal("custom open boundary should be open")
	}
	if c.IsOpen(time.Date(2024, 7, 2, 17, 30, 0, 0, time.UTC)) {
		t.Fatal("custom close boundary should be closed")
	}
}

func TestCalendarRejectsInvertedWindow(t *testing.T) {
	if _, err := NewCalendar(CalendarOptions{Enabled: true, Timezone: "UTC", Open: "16:00", Close: "09:30"}); err == nil {
		t.Fatal("close before open should be rejected")
	}
}
