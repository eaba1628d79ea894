package edgar

import (
	"time"

	"golang.org/x/time/rate"
)

// MaxRequestsPerSecond is the archive's published fair-access ceiling.
const MaxRequestsPerSecond = 10

// paddedInterval keeps the top rate slightly under 10/sec so clock jitter
// cannot push a burst over the limit.
const paddedInterval = 105 * time.Millisecond

// NewLimiter returns a limiter admitting rps archive requests per second
// with no bursting. rps is clamped to [1, MaxRequestsPerSecond]. It is
// shared by every client that talks to the archive.
func NewLimiter(rps int) *rate.Limiter {
	return rate.NewLimiter(LimitFor(rps), 1)
}

// LimitFor maps a requests-per-second setting to a rate.Limit.
func LimitFor(rps int) rate.Limit {
	if rps <= 0 {
		rps = 1
	}
	if rps >= MaxRequestsPerSecond {
		return rate.Every(paddedInterval)
	}
	return rate.Limit(rps)
}
