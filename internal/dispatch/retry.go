package dispatch

import (
	"math"
	"net/http"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
)

// Retryable reports whether an HTTP status is worth another attempt
func Retryable(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500 && code <= 599:
		return true
	}
	return false
}

// Policy computes the retry schedule of a queue item
type Policy struct {
	Base     time.Duration
	MaxDelay time.Duration
}

// Delay is base * 2^attempts, capped at MaxDelay when set. It saturates instead of overflowing
func (p Policy) Delay(attempts int) time.Duration {
	d := p.Base
	for i := 0; i < attempts; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Outcome is the bookkeeping that follows a failed attempt
type Outcome struct {
	Status      models.Status
	Attempts    int
	NextRetryAt *time.Time
}

// Decide classifies a non-2xx answer for an item that had made `attempts`
// attempts before this one. It is pending again only while budget remains.
func (p Policy) Decide(code, attempts, maxAttempts int, now time.Time) Outcome {
	next := attempts + 1
	if Retryable(code) && next < maxAttempts {
		at := now.Add(p.Delay(attempts))
		return Outcome{Status: models.StatusPending, Attempts: next, NextRetryAt: &at}
	}
	return Outcome{Status: models.StatusFailed, Attempts: next}
}
