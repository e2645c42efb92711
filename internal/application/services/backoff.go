package services

import (
	"time"
)

// BackoffDuration computes the delay before the next post-commit operation
// retry: initial × 2^(attemptCount−1) minutes, capped at max. attemptCount is
// clamped to one so a zero or negative count still yields the initial delay.
func BackoffDuration(attemptCount, initialMinutes, maxMinutes int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}

	minutes := initialMinutes
	for i := 1; i < attemptCount; i++ {
		minutes *= 2
		if minutes >= maxMinutes {
			minutes = maxMinutes
			break
		}
	}
	if minutes > maxMinutes {
		minutes = maxMinutes
	}

	return time.Duration(minutes) * time.Minute
}

// RetryWaitSeconds returns how many whole seconds remain before another
// manual retry is allowed, or zero when the minimum interval has elapsed or
// no prior retry exists. Partial seconds round up so the caller never retries
// early.
func RetryWaitSeconds(lastRetryAt *time.Time, now time.Time, minInterval time.Duration) int {
	if lastRetryAt == nil {
		return 0
	}

	elapsed := now.Sub(*lastRetryAt)
	if elapsed >= minInterval {
		return 0
	}

	remaining := minInterval - elapsed
	seconds := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		seconds++
	}
	return seconds
}
