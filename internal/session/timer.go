package session

import (
	"math"
	"time"
)

// RestTimer is a countdown over a fixed duration, anchored to the
// wall-clock moment the rest period began. The remaining time is
// recomputed from the clock on every observation instead of being
// decremented tick by tick, so the countdown stays correct across
// process suspension (the app being backgrounded on a phone).
type RestTimer struct {
	StartedAt time.Time
	Duration  int // seconds
}

// TimeLeft returns max(0, duration - elapsed) in whole seconds, rounded
// up so the display shows the full duration at the start.
func (t RestTimer) TimeLeft(now time.Time) int {
	if t.StartedAt.IsZero() {
		return 0
	}
	left := float64(t.Duration) - now.Sub(t.StartedAt).Seconds()
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left))
}

// Done reports whether the rest period has fully elapsed. A pure
// function of time: late checks after suspension still report correctly.
func (t RestTimer) Done(now time.Time) bool {
	return t.TimeLeft(now) == 0
}
