// internal/dates/dates.go
package dates

import (
	"sync"
	"time"
)

const (
	keyLayout      = "2006-01-02"
	slashKeyLayout = "2006/01/02"

	// DayMillis is one calendar day as UTC-anchored milliseconds. Day
	// arithmetic happens on UTC-midnight stamps, never on local elapsed
	// time, so DST transitions cannot skip or double-count a day.
	DayMillis int64 = 24 * 60 * 60 * 1000
)

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

// loadLocation is time.LoadLocation with a process-wide cache. Unknown
// names fall back to UTC so a bad stored time zone degrades instead of
// failing every conversion.
func loadLocation(name string) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locCache[name] = loc
	return loc
}

// ValidTimeZone reports whether name resolves to a known IANA zone.
func ValidTimeZone(name string) bool {
	if name == "" {
		return false
	}
	if name == "UTC" {
		return true
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// ToDateKey converts an absolute timestamp (epoch milliseconds) to the
// calendar-local "YYYY-MM-DD" key in the named time zone.
func ToDateKey(timestampMs int64, timeZone string) string {
	return time.UnixMilli(timestampMs).In(loadLocation(timeZone)).Format(keyLayout)
}

// TimeToDateKey is ToDateKey for a time.Time.
func TimeToDateKey(t time.Time, timeZone string) string {
	return t.In(loadLocation(timeZone)).Format(keyLayout)
}

// DateKeyToDayStamp maps a date key back to its UTC-midnight epoch
// milliseconds. Accepts "YYYY-MM-DD" and "YYYY/MM/DD"; ok is false for
// anything else so callers can filter junk silently.
func DateKeyToDayStamp(dateKey string) (int64, bool) {
	for _, layout := range [...]string{keyLayout, slashKeyLayout} {
		if t, err := time.ParseInLocation(layout, dateKey, time.UTC); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// DayStampToKey renders a UTC-midnight stamp back into a date key.
func DayStampToKey(stamp int64) string {
	return time.UnixMilli(stamp).UTC().Format(keyLayout)
}

// AddDays shifts a date key by n calendar days. Returns ok=false when the
// key does not parse.
func AddDays(dateKey string, n int) (string, bool) {
	stamp, ok := DateKeyToDayStamp(dateKey)
	if !ok {
		return "", false
	}
	return DayStampToKey(stamp + int64(n)*DayMillis), true
}

// HourIn returns the hour-of-day [0,23] of t in the named time zone.
func HourIn(t time.Time, timeZone string) int {
	return t.In(loadLocation(timeZone)).Hour()
}
