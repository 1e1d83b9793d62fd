package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock instant within a day, stored as seconds since
// midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM:SS" (or "HH:MM").
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("config: invalid time of day %q", s)
	}
	var hms [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("config: invalid time of day %q", s)
		}
		hms[i] = n
	}
	if hms[0] > 23 || hms[1] > 59 || hms[2] > 59 || hms[0] < 0 || hms[1] < 0 || hms[2] < 0 {
		return 0, fmt.Errorf("config: time of day %q out of range", s)
	}
	return TimeOfDay(hms[0]*3600 + hms[1]*60 + hms[2]), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)/60%60, int(t)%60)
}

// TimeOfDayOf extracts the TimeOfDay from a wall-clock moment.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// TimeRange is a daily [Start, End] window, inclusive on both ends.
type TimeRange struct {
	Start, End TimeOfDay
}

// ParseTimeRange parses "HH:MM:SS-HH:MM:SS".
func ParseTimeRange(s string) (TimeRange, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return TimeRange{}, fmt.Errorf("config: invalid time range %q", s)
	}
	start, err := ParseTimeOfDay(parts[0])
	if err != nil {
		return TimeRange{}, err
	}
	end, err := ParseTimeOfDay(parts[1])
	if err != nil {
		return TimeRange{}, err
	}
	return TimeRange{Start: start, End: end}, nil
}

// Contains reports whether the wall-clock moment t falls inside the window.
func (r TimeRange) Contains(t time.Time) bool {
	tod := TimeOfDayOf(t)
	return tod >= r.Start && tod <= r.End
}

// WholeDay spans 00:00:00 through 23:59:59, the default runtime window.
var WholeDay = TimeRange{Start: 0, End: 23*3600 + 59*60 + 59}

// ParseDuration parses an interval written as whitespace-separated tokens
// "Nd", "Nh", "Nm", "Ns". Each unit may appear at most once; an empty string
// is a zero duration.
func ParseDuration(s string) (time.Duration, error) {
	var total time.Duration
	seen := map[byte]bool{}
	for _, tok := range strings.Fields(s) {
		unit := tok[len(tok)-1]
		n, err := strconv.Atoi(tok[:len(tok)-1])
		if err != nil {
			return 0, fmt.Errorf("config: invalid interval token %q", tok)
		}
		if seen[unit] {
			return 0, fmt.Errorf("config: interval unit %q given twice", string(unit))
		}
		seen[unit] = true
		switch unit {
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("config: invalid interval token %q", tok)
		}
	}
	return total, nil
}

// ParseDate parses "YYYY-MM-DD" in the local timezone.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: invalid date %q", s)
	}
	return t, nil
}
