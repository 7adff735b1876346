// Package timemath converts between wall-clock times in IANA timezones and
// absolute instants. ALL instants in the codebase are absolute (time.Time);
// these functions handle the projection to/from local wall time for display
// and day-boundary comparison only.
package timemath

import (
	"fmt"
	"time"
)

// LocalNow returns the given instant expressed as wall-clock time in the
// named IANA timezone.
// Example: LocalNow("Asia/Yerevan", t) for t = 12:00 UTC returns 16:00 local.
func LocalNow(timezoneID string, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %q: %w", timezoneID, err)
	}
	return now.In(loc), nil
}

// ResolveAbsolute computes the instant whose wall-clock representation in the
// named timezone is today's date (as seen in that timezone) at hours:minutes.
// Constructing the wall time directly in the zone absorbs the zone's current
// UTC offset, including DST, because the date comes from the same moment.
//
// A time-of-day that has already passed "now" in that zone is NOT rolled to
// tomorrow: the nearest same-day instant (in the past) is returned. The
// primary use is same-day coordination.
func ResolveAbsolute(timezoneID string, hours, minutes int, now time.Time) (time.Time, error) {
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return time.Time{}, fmt.Errorf("invalid wall time %d:%02d", hours, minutes)
	}
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %q: %w", timezoneID, err)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hours, minutes, 0, 0, loc), nil
}

// FormatLocal renders an instant as "HH:MM" wall-clock time in the named
// timezone.
func FormatLocal(instant time.Time, timezoneID string) (string, error) {
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		return "", fmt.Errorf("loading timezone %q: %w", timezoneID, err)
	}
	return instant.In(loc).Format("15:04"), nil
}

// LocalCalendarDate renders the calendar date ("YYYY-MM-DD") an instant falls
// on in the named timezone. The strings compare lexicographically in
// chronological order, which is what day-shift detection relies on.
func LocalCalendarDate(instant time.Time, timezoneID string) (string, error) {
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		return "", fmt.Errorf("loading timezone %q: %w", timezoneID, err)
	}
	return instant.In(loc).Format("2006-01-02"), nil
}
