package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Yoshiki785/realtime-translator/internal/observability"
	"github.com/Yoshiki785/realtime-translator/internal/resilience"
)

// Job is the active reservation held by this client.
type Job struct {
	JobID           string
	ClientRequestID string
	StartedAt       time.Time
	ReservedSeconds int
	Reused          bool
}

// PendingFinalize is a completion deferred by a disconnect, finalized on
// the next online signal within a small retry budget.
type PendingFinalize struct {
	JobID        string
	AudioSeconds int
	Attempts     int
}

// Options configure a ledger client.
type Options struct {
	BaseURL   string
	AuthToken string
	// MaxFinalizeRetries bounds retries after the first pending finalize
	// attempt. With the default of 1, a record gets two attempts total.
	MaxFinalizeRetries int
	Client             *http.Client
	Logger             *zerolog.Logger
	Now                func() time.Time
}

// Client talks to the usage backend: job reservation, completion, quota.
// Reservation idempotency is the backend's contract; this client only
// supplies the clientRequestId and refuses to double-reserve locally.
type Client struct {
	baseURL            string
	authToken          string
	httpc              *http.Client
	logger             zerolog.Logger
	now                func() time.Time
	maxFinalizeRetries int

	// breaker guards quota refreshes only. Reserve and Complete bypass it:
	// their 409/429 handling and the unconditional completion attempt are
	// load-bearing.
	breaker *resilience.CircuitBreaker

	mu               sync.Mutex
	job              *Job
	jobActive        bool
	pending          *PendingFinalize
	quota            Quota
	serverTimeOffset *time.Duration
}

// NewClient creates a ledger client against the usage backend.
func NewClient(opts Options) *Client {
	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	httpc := opts.Client
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	retries := opts.MaxFinalizeRetries
	if retries <= 0 {
		retries = 1
	}
	return &Client{
		baseURL:            strings.TrimRight(opts.BaseURL, "/"),
		authToken:          opts.AuthToken,
		httpc:              httpc,
		logger:             logger,
		now:                now,
		maxFinalizeRetries: retries,
		breaker:            resilience.NewCircuitBreaker("usage-backend", 5, 30*time.Second),
	}
}

type reserveResponse struct {
	quotaPayload
	JobID           string `json:"jobId"`
	Reused          bool   `json:"reused"`
	ReservedSeconds int    `json:"reservedSeconds"`
}

type errorDetail struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	ActiveSince string `json:"activeSince"`
}

type errorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// detailCode resolves the error code, accepting both the string and object
// detail shapes the backend has produced.
func (r errorResponse) detailCode() (code, activeSince string) {
	if len(r.Detail) > 0 {
		var s string
		if json.Unmarshal(r.Detail, &s) == nil {
			return s, ""
		}
		var d errorDetail
		if json.Unmarshal(r.Detail, &d) == nil {
			return d.Error, d.ActiveSince
		}
	}
	return r.Error, ""
}

// Reserve obtains the job slot. A second call while a job is active returns
// the existing record without touching the backend.
func (c *Client) Reserve(ctx context.Context) (*Job, error) {
	c.mu.Lock()
	if c.jobActive && c.job != nil {
		job := *c.job
		c.mu.Unlock()
		c.logger.Debug().Str("job_id", job.JobID).Msg("Reservation skipped, job already active")
		return &job, nil
	}
	c.mu.Unlock()

	clientRequestID := uuid.New().String()
	body, _ := json.Marshal(map[string]string{"clientRequestId": clientRequestID})

	res, raw, err := c.post(ctx, "/api/v1/jobs/create", body)
	if err != nil {
		observability.RecordLedgerRequest("reserve", "error")
		return nil, fmt.Errorf("reserve job: %w", err)
	}

	if res.StatusCode == http.StatusConflict {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		code, activeSince := er.detailCode()
		if code == "active_job_in_progress" {
			observability.RecordLedgerRequest("reserve", "conflict")
			c.logger.Warn().Str("active_since", activeSince).Msg("Reservation blocked by active job")
			return nil, &ConflictError{ActiveSince: activeSince}
		}
	}

	if res.StatusCode == http.StatusTooManyRequests {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		code, _ := er.detailCode()
		if isQuotaBlockCode(code) {
			observability.RecordLedgerRequest("reserve", "quota_blocked")
			return nil, &QuotaError{Reason: code}
		}
		wait := time.Duration(0)
		if header := res.Header.Get("Retry-After"); header != "" {
			if sec, err := strconv.Atoi(header); err == nil && sec > 0 {
				wait = time.Duration(sec) * time.Second
			}
		}
		observability.RecordLedgerRequest("reserve", "rate_limited")
		return nil, &RateLimitError{Wait: wait}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		observability.RecordLedgerRequest("reserve", "error")
		return nil, fmt.Errorf("reserve job: backend returned %d: %s", res.StatusCode, truncate(raw, 256))
	}

	var rr reserveResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		observability.RecordLedgerRequest("reserve", "error")
		return nil, fmt.Errorf("reserve job: decode response: %w", err)
	}
	if rr.JobID == "" {
		observability.RecordLedgerRequest("reserve", "error")
		return nil, fmt.Errorf("reserve job: jobId missing in response")
	}

	job := &Job{
		JobID:           rr.JobID,
		ClientRequestID: clientRequestID,
		StartedAt:       c.now(),
		ReservedSeconds: rr.ReservedSeconds,
		Reused:          rr.Reused,
	}

	c.mu.Lock()
	c.job = job
	c.jobActive = true
	c.applyQuotaLocked(rr.quotaPayload)
	c.mu.Unlock()

	observability.RecordLedgerRequest("reserve", "ok")
	c.logger.Info().
		Str("job_id", job.JobID).
		Str("client_request_id", clientRequestID).
		Bool("reused", job.Reused).
		Msg("Job reserved")
	return job, nil
}

// ElapsedSeconds returns whole seconds since the job started, floored at
// zero. Zero when no job is active.
func (c *Client) ElapsedSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil || c.job.StartedAt.IsZero() {
		return 0
	}
	sec := int(c.now().Sub(c.job.StartedAt).Round(time.Second) / time.Second)
	if sec < 0 {
		return 0
	}
	return sec
}

// Complete finalizes the active job with the given billed seconds, or the
// elapsed wall clock when seconds is negative. Local job state is cleared
// whether or not the backend call succeeds, so a failed completion can
// never wedge the active flag. Failures are logged, not returned.
func (c *Client) Complete(ctx context.Context, seconds int) {
	c.mu.Lock()
	if c.job == nil || !c.jobActive {
		c.mu.Unlock()
		c.logger.Debug().Msg("Completion skipped, no active job")
		return
	}
	job := *c.job
	c.mu.Unlock()

	if seconds < 0 {
		seconds = c.ElapsedSeconds()
	}

	defer func() {
		c.mu.Lock()
		c.job = nil
		c.jobActive = false
		c.mu.Unlock()
	}()

	payload, _ := json.Marshal(map[string]any{
		"jobId":        job.JobID,
		"audioSeconds": seconds,
	})
	res, raw, err := c.post(ctx, "/api/v1/jobs/complete", payload)
	if err != nil {
		observability.RecordLedgerRequest("complete", "error")
		c.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Job completion failed")
		return
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		observability.RecordLedgerRequest("complete", "error")
		c.logger.Warn().
			Int("status", res.StatusCode).
			Str("job_id", job.JobID).
			Msg("Job completion rejected")
		return
	}

	var qp quotaPayload
	if json.Unmarshal(raw, &qp) == nil {
		c.mu.Lock()
		c.applyQuotaLocked(qp)
		c.mu.Unlock()
	}
	observability.RecordLedgerRequest("complete", "ok")
	observability.RecordBilledSeconds(seconds)
	c.logger.Info().Str("job_id", job.JobID).Int("billed_seconds", seconds).Msg("Job completed")
}

// SavePending moves the active job into a pending-finalize record and marks
// it inactive. No-op without an active job or when a record already exists.
func (c *Client) SavePending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil || !c.jobActive || c.pending != nil {
		return
	}
	elapsed := 0
	if !c.job.StartedAt.IsZero() {
		elapsed = int(c.now().Sub(c.job.StartedAt).Round(time.Second) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
	}
	c.pending = &PendingFinalize{JobID: c.job.JobID, AudioSeconds: elapsed}
	c.jobActive = false
	c.logger.Info().
		Str("job_id", c.job.JobID).
		Int("audio_seconds", elapsed).
		Msg("Pending finalize saved")
}

// HasPending reports whether a deferred completion is waiting.
func (c *Client) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// TryFinalizePending attempts the deferred completion. Success clears the
// record; a failure increments the attempt count, and once the retry budget
// is exceeded the record is discarded regardless of outcome.
func (c *Client) TryFinalizePending(ctx context.Context) {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	if c.pending.Attempts > c.maxFinalizeRetries {
		c.logger.Warn().Str("job_id", c.pending.JobID).Msg("Pending finalize budget exhausted, discarding")
		c.pending = nil
		c.job = nil
		c.mu.Unlock()
		return
	}
	pending := *c.pending
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{
		"jobId":        pending.JobID,
		"audioSeconds": pending.AudioSeconds,
	})
	res, raw, err := c.post(ctx, "/api/v1/jobs/complete", payload)
	if err == nil && res.StatusCode >= 200 && res.StatusCode <= 299 {
		var qp quotaPayload
		if json.Unmarshal(raw, &qp) == nil {
			c.mu.Lock()
			c.applyQuotaLocked(qp)
			c.mu.Unlock()
		}
		c.mu.Lock()
		c.pending = nil
		c.job = nil
		c.mu.Unlock()
		observability.RecordLedgerRequest("finalize_pending", "ok")
		observability.RecordBilledSeconds(pending.AudioSeconds)
		c.logger.Info().Str("job_id", pending.JobID).Msg("Pending finalize succeeded")
		return
	}

	observability.RecordLedgerRequest("finalize_pending", "error")
	c.mu.Lock()
	if c.pending != nil {
		c.pending.Attempts++
	}
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Str("job_id", pending.JobID).Msg("Pending finalize failed")
	} else {
		c.logger.Warn().Int("status", res.StatusCode).Str("job_id", pending.JobID).Msg("Pending finalize rejected")
	}
}

// RefreshQuota fetches a fresh usage snapshot. Calls run under the circuit
// breaker; while the backend is failing they short-circuit and the cached
// snapshot stands.
func (c *Client) RefreshQuota(ctx context.Context) (Quota, error) {
	err := c.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/me", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		res, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return err
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return fmt.Errorf("quota fetch: backend returned %d", res.StatusCode)
		}
		var qp quotaPayload
		if err := json.Unmarshal(raw, &qp); err != nil {
			return fmt.Errorf("quota fetch: decode response: %w", err)
		}
		c.mu.Lock()
		c.applyQuotaLocked(qp)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		observability.RecordLedgerRequest("quota", "error")
		return c.Quota(), err
	}
	observability.RecordLedgerRequest("quota", "ok")
	return c.Quota(), nil
}

// Quota returns the cached usage snapshot.
func (c *Client) Quota() Quota {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quota
}

// ServerTimeOffset returns the last observed server clock offset, or nil.
func (c *Client) ServerTimeOffset() *time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverTimeOffset
}

// JobActive reports whether a reserved job is currently active.
func (c *Client) JobActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobActive
}

func (c *Client) applyQuotaLocked(p quotaPayload) {
	c.quota = p.toQuota(c.quota)
	if offset := parseServerTimeOffset(p.ServerTime, c.now()); offset != nil {
		c.serverTimeOffset = offset
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	res, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, nil, err
	}
	return res, raw, nil
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
