package realtime

import (
	"fmt"
	"strings"
)

// Context tags attached at the failure boundary so classification can stay
// in one place instead of being scattered across call sites.
const (
	ContextToken     = "token"
	ContextNegotiate = "negotiate"
)

// HTTPError is a non-2xx response from the token or negotiation exchange.
type HTTPError struct {
	StatusCode int
	Body       string
	Context    string // ContextToken or ContextNegotiate
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Context, e.StatusCode, e.Body)
}

// IsAuthFailure reports whether the response signals an authorization
// problem rather than a transient negotiation failure.
func (e *HTTPError) IsAuthFailure() bool {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return true
	}
	body := strings.ToLower(e.Body)
	return strings.Contains(body, "invalid_auth") || strings.Contains(body, "unauthorized")
}

// IsRateLimit reports a 429 response.
func (e *HTTPError) IsRateLimit() bool {
	return e.StatusCode == 429
}

// IsServerError reports a 5xx response.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}
