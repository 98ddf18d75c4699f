package ledger

import (
	"fmt"
	"time"
)

// ConflictError is a 409 active_job_in_progress reservation response.
// The session must surface a takeover notice and abort without retrying.
type ConflictError struct {
	ActiveSince string
}

func (e *ConflictError) Error() string {
	return "another session holds the active job slot"
}

// RateLimitError is a 429 reservation response. Wait carries the cooldown
// derived from the Retry-After header, or the configured default.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("reservation rate limited, retry after %s", e.Wait)
}

// QuotaError is a 429 reservation response whose detail names a quota
// block rather than transient rate limiting.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return "reservation blocked by quota: " + e.Reason
}

func isQuotaBlockCode(code string) bool {
	switch code {
	case BlockedMonthlyExhausted, BlockedDailyLimit, BlockedDailyJobLimit:
		return true
	}
	return false
}
