package schedule

import (
	"testing"
	"time"
)

func weekdaySchedule() *BusinessHours {
	return &BusinessHours{
		Enabled:  true,
		Timezone: "UTC",
		Schedule: map[string][]Slot{
			"monday":    {{Start: "09:00", End: "17:00"}},
			"tuesday":   {{Start: "09:00", End: "17:00"}},
			"wednesday": {{Start: "09:00", End: "17:00"}},
			"thursday":  {{Start: "09:00", End: "17:00"}},
			"friday":    {{Start: "09:00", End: "12:00"}, {Start: "14:00", End: "17:00"}},
		},
	}
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestIsWithinWindow_DisabledAlwaysTrue(t *testing.T) {
	if !IsWithinWindow(nil, "UTC", time.Now()) {
		t.Fatalf("nil config should allow calling")
	}
	cfg := weekdaySchedule()
	cfg.Enabled = false
	// Sunday, no slots configured.
	if !IsWithinWindow(cfg, "UTC", mustTime(t, "2024-01-07T03:00:00Z")) {
		t.Fatalf("disabled config should allow calling")
	}
}

func TestIsWithinWindow_InclusiveBoundaries(t *testing.T) {
	cfg := weekdaySchedule()
	// 2024-01-08 is a Monday.
	cases := []struct {
		at   string
		want bool
	}{
		{"2024-01-08T09:00:00Z", true},  // exactly at open
		{"2024-01-08T17:00:00Z", true},  // exactly at close
		{"2024-01-08T08:59:00Z", false}, // one minute before open
		{"2024-01-08T17:01:00Z", false}, // one minute after close
		{"2024-01-08T12:30:00Z", true},
	}
	for _, tc := range cases {
		if got := IsWithinWindow(cfg, "UTC", mustTime(t, tc.at)); got != tc.want {
			t.Fatalf("at %s: expected %v, got %v", tc.at, tc.want, got)
		}
	}
}

func TestIsWithinWindow_RespectsTimezone(t *testing.T) {
	cfg := weekdaySchedule()
	cfg.Timezone = "America/New_York"
	// 14:00 UTC on a Monday is 09:00 in New York.
	if !IsWithinWindow(cfg, "UTC", mustTime(t, "2024-01-08T14:00:00Z")) {
		t.Fatalf("expected window open at 09:00 New York time")
	}
	// 13:00 UTC is 08:00 in New York.
	if IsWithinWindow(cfg, "UTC", mustTime(t, "2024-01-08T13:00:00Z")) {
		t.Fatalf("expected window closed at 08:00 New York time")
	}
}

func TestNextWindow_SameDayLaterSlot(t *testing.T) {
	cfg := weekdaySchedule()
	// Friday 12:30, between the morning and afternoon slots.
	next, ok := NextWindow(cfg, "UTC", mustTime(t, "2024-01-12T12:30:00Z"))
	if !ok {
		t.Fatalf("expected a next window")
	}
	if next.Format("2006-01-02 15:04") != "2024-01-12 14:00" {
		t.Fatalf("expected Friday 14:00, got %s", next.Format("2006-01-02 15:04"))
	}
}

func TestNextWindow_SkipsToNextConfiguredDay(t *testing.T) {
	cfg := weekdaySchedule()
	// Friday 18:00: weekend has no slots, expect Monday 09:00.
	next, ok := NextWindow(cfg, "UTC", mustTime(t, "2024-01-12T18:00:00Z"))
	if !ok {
		t.Fatalf("expected a next window")
	}
	if next.Format("2006-01-02 15:04") != "2024-01-15 09:00" {
		t.Fatalf("expected Monday 09:00, got %s", next.Format("2006-01-02 15:04"))
	}
}

func TestValidate(t *testing.T) {
	if err := weekdaySchedule().Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	var nilCfg *BusinessHours
	if err := nilCfg.Validate(); err != nil {
		t.Fatalf("nil config should be valid: %v", err)
	}

	bad := weekdaySchedule()
	bad.Schedule["funday"] = []Slot{{Start: "09:00", End: "17:00"}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown day key")
	}

	bad = weekdaySchedule()
	bad.Schedule["monday"] = []Slot{{Start: "9:00x", End: "17:00"}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for malformed slot bound")
	}

	bad = weekdaySchedule()
	bad.Schedule["monday"] = []Slot{{Start: "17:00", End: "09:00"}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for end before start")
	}
}

func TestNextWindow_NoneWhenInsideOrEmpty(t *testing.T) {
	cfg := weekdaySchedule()
	if _, ok := NextWindow(cfg, "UTC", mustTime(t, "2024-01-08T10:00:00Z")); ok {
		t.Fatalf("expected no next window while inside one")
	}

	empty := &BusinessHours{Enabled: true, Timezone: "UTC", Schedule: map[string][]Slot{}}
	if _, ok := NextWindow(empty, "UTC", mustTime(t, "2024-01-08T10:00:00Z")); ok {
		t.Fatalf("expected no next window for empty schedule")
	}
}
