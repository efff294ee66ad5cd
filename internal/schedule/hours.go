package schedule

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// BusinessHours is the persisted business-hours configuration for a campaign.
//
// Slot bounds are inclusive "HH:MM" strings. Zero-padded lexicographic
// comparison is deliberate: it sidesteps timezone-arithmetic bugs entirely.
type BusinessHours struct {
	Enabled  bool              `json:"enabled"`
	Timezone string            `json:"timezone" validate:"omitempty,timezone"`
	Schedule map[string][]Slot `json:"schedule" validate:"dive,dive"`
}

type Slot struct {
	Start string `json:"start" validate:"required,len=5"`
	End   string `json:"end" validate:"required,len=5"`
}

var (
	validate = validator.New()
	hhmmRe   = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// Validate rejects malformed configs before they are persisted. Day keys,
// slot syntax and slot ordering are checked here; the struct tags cover the
// timezone name.
func (b *BusinessHours) Validate() error {
	if b == nil {
		return nil
	}
	if err := validate.Struct(b); err != nil {
		return err
	}
	for day, slots := range b.Schedule {
		if !validDayKey(day) {
			return fmt.Errorf("unknown day %q", day)
		}
		for _, s := range slots {
			if !hhmmRe.MatchString(s.Start) || !hhmmRe.MatchString(s.End) {
				return fmt.Errorf("slot %s-%s on %s: bounds must be HH:MM", s.Start, s.End, day)
			}
			if s.End < s.Start {
				return fmt.Errorf("slot %s-%s on %s: end before start", s.Start, s.End, day)
			}
		}
	}
	return nil
}

func validDayKey(day string) bool {
	for _, k := range dayKeys {
		if k == day {
			return true
		}
	}
	return false
}

var dayKeys = [...]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// IsWithinWindow reports whether now falls inside a configured slot.
// A nil or disabled config always allows calling.
// fallbackTZ is used when the config carries no timezone of its own.
func IsWithinWindow(cfg *BusinessHours, fallbackTZ string, now time.Time) bool {
	if cfg == nil || !cfg.Enabled {
		return true
	}

	local := now.In(resolveLocation(cfg.Timezone, fallbackTZ))
	hhmm := local.Format("15:04")

	for _, s := range cfg.Schedule[dayKeys[local.Weekday()]] {
		if s.Start <= hhmm && hhmm <= s.End {
			return true
		}
	}
	return false
}

// NextWindow returns the opening time of the next configured slot within the
// coming 7 days, scanning today first. It returns false when no slot exists
// (misconfiguration) or when now is already inside a window.
func NextWindow(cfg *BusinessHours, fallbackTZ string, now time.Time) (time.Time, bool) {
	if cfg == nil || !cfg.Enabled {
		return time.Time{}, false
	}
	if IsWithinWindow(cfg, fallbackTZ, now) {
		return time.Time{}, false
	}

	loc := resolveLocation(cfg.Timezone, fallbackTZ)
	local := now.In(loc)
	hhmm := local.Format("15:04")

	for offset := 0; offset < 7; offset++ {
		day := local.AddDate(0, 0, offset)
		best := ""
		for _, s := range cfg.Schedule[dayKeys[day.Weekday()]] {
			// Today: only slots that still lie ahead.
			if offset == 0 && s.Start <= hhmm {
				continue
			}
			if best == "" || s.Start < best {
				best = s.Start
			}
		}
		if best == "" {
			continue
		}
		var h, m int
		if _, err := fmt.Sscanf(best, "%02d:%02d", &h, &m); err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), true
	}
	return time.Time{}, false
}

func resolveLocation(tz, fallback string) *time.Location {
	for _, name := range []string{tz, fallback} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
