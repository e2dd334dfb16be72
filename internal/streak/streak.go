// internal/streak/streak.go

// Package streak computes the current consecutive-day commit streak from a
// set of event timestamps. Correctness is defined purely in terms of
// calendar day keys in the user's time zone; elapsed-millisecond arithmetic
// is never used, so DST transitions cannot shift the result.
package streak

import (
	"time"

	"streak-service/internal/dates"
)

// Result describes the computed streak ending at (or adjacent to) the
// anchor day.
type Result struct {
	// Length is the number of consecutive active days, 0 when neither the
	// anchor day nor the day before it has an event.
	Length int
	// StartKey is the most recent day of the streak ("" when Length is 0).
	StartKey string
	// FirstGapKey is the day that broke the chain ("" when Length is 0).
	FirstGapKey string
	// NewestKey and OldestKey are the extreme day keys observed in the
	// input, for diagnostics ("" on empty input).
	NewestKey string
	OldestKey string
}

// Compute converts every event timestamp to a day key in timeZone,
// deduplicates, and walks backward from the anchor.
//
// The anchor day qualifies as the streak's most recent day if it has an
// event; otherwise the day before the anchor qualifies if it has one. A gap
// of two or more days before the anchor never revives a streak.
func Compute(eventTimes []time.Time, anchor time.Time, timeZone string) Result {
	keys := make(map[string]struct{}, len(eventTimes))
	for _, t := range eventTimes {
		keys[dates.TimeToDateKey(t, timeZone)] = struct{}{}
	}
	return ComputeFromKeys(keys, dates.TimeToDateKey(anchor, timeZone))
}

// ComputeFromKeys is Compute over already-derived, deduplicated day keys.
func ComputeFromKeys(dayKeys map[string]struct{}, anchorKey string) Result {
	var res Result
	for k := range dayKeys {
		if _, ok := dates.DateKeyToDayStamp(k); !ok {
			continue
		}
		if res.NewestKey == "" || k > res.NewestKey {
			res.NewestKey = k
		}
		if res.OldestKey == "" || k < res.OldestKey {
			res.OldestKey = k
		}
	}
	if len(dayKeys) == 0 {
		return res
	}

	start := anchorKey
	if _, ok := dayKeys[start]; !ok {
		prev, ok := dates.AddDays(anchorKey, -1)
		if !ok {
			return res
		}
		if _, active := dayKeys[prev]; !active {
			return res
		}
		start = prev
	}

	res.StartKey = start
	day := start
	for {
		if _, active := dayKeys[day]; !active {
			res.FirstGapKey = day
			return res
		}
		res.Length++
		prev, ok := dates.AddDays(day, -1)
		if !ok {
			return res
		}
		day = prev
	}
}

// TouchesLookbackBoundary reports whether the streak's oldest day (start
// key minus length-1 days) is on or before the lookback window's first
// day, in which case the streak may be truncated by how far back data was
// fetched.
func TouchesLookbackBoundary(res Result, lookbackStartKey string) bool {
	if res.Length == 0 || res.StartKey == "" {
		return false
	}
	oldest, ok := dates.AddDays(res.StartKey, -(res.Length - 1))
	if !ok {
		return false
	}
	return oldest <= lookbackStartKey
}
