package ledger

import (
	"time"
)

// Blocked reason codes returned by the usage backend.
const (
	BlockedMonthlyExhausted = "monthly_quota_exhausted"
	BlockedDailyLimit       = "daily_limit_reached"
	BlockedDailyJobLimit    = "daily_job_limit_reached"
)

// Quota is the cached usage snapshot. Nil pointer fields mean the backend
// did not report that value.
type Quota struct {
	Plan                    string
	BaseRemainingThisMonth  *int
	TotalAvailableThisMonth *int
	BaseDailyQuotaSeconds   *int
	DailyRemainingSeconds   *int
	CreditSeconds           *int
	MaxSessionSeconds       *int
	NextResetAt             string
	BlockedReason           string
	DayJobLimit             *int
	DayJobUsed              int
	DayJobRemaining         *int
	ConcurrentLimit         int
	ConcurrentActive        int
	Loaded                  bool
}

// quotaPayload mirrors the quota fields the backend inlines on reserve,
// complete and /me responses.
type quotaPayload struct {
	Plan                    string `json:"plan"`
	ServerTime              string `json:"serverTime"`
	BaseRemainingThisMonth  *int   `json:"baseRemainingThisMonth"`
	TotalAvailableThisMonth *int   `json:"totalAvailableThisMonth"`
	BaseDailyQuotaSeconds   *int   `json:"baseDailyQuotaSeconds"`
	DailyRemainingSeconds   *int   `json:"dailyRemainingSeconds"`
	CreditSeconds           *int   `json:"creditSeconds"`
	MaxSessionSeconds       *int   `json:"maxSessionSeconds"`
	NextResetAt             string `json:"nextResetAt"`
	BlockedReason           string `json:"blockedReason"`
	DayJobLimit             *int   `json:"dayJobLimit"`
	DayJobUsed              int    `json:"dayJobUsed"`
	DayJobRemaining         *int   `json:"dayJobRemaining"`
	ConcurrentLimit         *int   `json:"concurrentLimit"`
	ConcurrentActive        int    `json:"concurrentActive"`
}

func (p quotaPayload) toQuota(prev Quota) Quota {
	q := Quota{
		Plan:                    p.Plan,
		BaseRemainingThisMonth:  p.BaseRemainingThisMonth,
		TotalAvailableThisMonth: p.TotalAvailableThisMonth,
		BaseDailyQuotaSeconds:   p.BaseDailyQuotaSeconds,
		DailyRemainingSeconds:   p.DailyRemainingSeconds,
		CreditSeconds:           p.CreditSeconds,
		MaxSessionSeconds:       p.MaxSessionSeconds,
		NextResetAt:             p.NextResetAt,
		BlockedReason:           p.BlockedReason,
		DayJobLimit:             p.DayJobLimit,
		DayJobUsed:              p.DayJobUsed,
		DayJobRemaining:         p.DayJobRemaining,
		ConcurrentActive:        p.ConcurrentActive,
		ConcurrentLimit:         1,
		Loaded:                  true,
	}
	if q.Plan == "" {
		q.Plan = prev.Plan
	}
	if q.Plan == "" {
		q.Plan = "free"
	}
	if q.MaxSessionSeconds == nil {
		q.MaxSessionSeconds = prev.MaxSessionSeconds
	}
	if p.ConcurrentLimit != nil {
		q.ConcurrentLimit = *p.ConcurrentLimit
	}
	return q
}

// StartBlockReason explains why a new session may not start, empty when
// allowed. The backend's blockedReason takes precedence; local fallbacks
// cover backends that omit it.
func (q Quota) StartBlockReason() string {
	if !q.Loaded {
		return "quota_not_loaded"
	}
	if q.BlockedReason != "" {
		return q.BlockedReason
	}
	if q.TotalAvailableThisMonth != nil && *q.TotalAvailableThisMonth <= 0 {
		return BlockedMonthlyExhausted
	}
	if q.Plan == "free" && q.DailyRemainingSeconds != nil && *q.DailyRemainingSeconds <= 0 {
		return BlockedDailyLimit
	}
	return ""
}

// parseServerTimeOffset derives the server clock offset from an RFC3339
// serverTime field, or nil when absent or malformed.
func parseServerTimeOffset(serverTime string, now time.Time) *time.Duration {
	if serverTime == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, serverTime)
	if err != nil {
		return nil
	}
	offset := ts.Sub(now)
	return &offset
}
