package pipeline

import (
	"time"

	"github.com/balrng/kogb/pkg/types"
)

// ShouldAppend decides whether a new snapshot may be appended to the day log.
// An empty log always accepts. Otherwise the elapsed time since the last
// logged snapshot must reach the minimum interval; a negative elapsed time
// (clock skew) counts as "too soon". A last entry whose timestamp cannot be
// parsed does not gate the append, so one corrupt entry cannot starve the log.
func ShouldAppend(log types.DayLog, now time.Time, minInterval time.Duration, loc *time.Location) bool {
	last := log.Last()
	if last == nil {
		return true
	}
	loggedAt, err := last.ScrapedTime(loc)
	if err != nil {
		return true
	}
	elapsed := now.Sub(loggedAt)
	if elapsed < 0 {
		return false
	}
	return elapsed >= minInterval
}
