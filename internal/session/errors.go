package session

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/Yoshiki785/realtime-translator/internal/audio"
	"github.com/Yoshiki785/realtime-translator/internal/ledger"
	"github.com/Yoshiki785/realtime-translator/internal/realtime"
)

// Category buckets a start failure. Retryability follows the category, not
// the call site.
type Category string

const (
	CategoryMicPermission     Category = "mic_permission"
	CategoryTokenAuth         Category = "token_auth"
	CategoryRealtimeNegotiate Category = "realtime_negotiate"
	CategoryICEFailed         Category = "ice_failed"
	CategoryConnectionTimeout Category = "connection_timeout"
	CategoryNetwork           Category = "network"
	CategoryRateLimit         Category = "rate_limit"
	CategoryServerError       Category = "server_error"
	CategoryUnknown           Category = "unknown"
)

var categoryMessages = map[Category]string{
	CategoryMicPermission:     "Microphone access denied. Please allow microphone access in system settings.",
	CategoryTokenAuth:         "Authentication error. Please log in again.",
	CategoryRealtimeNegotiate: "Failed to establish realtime connection. Please try again later.",
	CategoryICEFailed:         "Failed to establish communication path. Please check your network.",
	CategoryConnectionTimeout: "Connection timed out. Please check your network and try again.",
	CategoryNetwork:           "Network error. Please check your internet connection.",
	CategoryRateLimit:         "Rate limited. Please wait and try again.",
	CategoryServerError:       "Server error. Please try again later.",
	CategoryUnknown:           "Unexpected error. Please try again.",
}

// ClassifiedError is a start failure with its category, user-facing
// message, and retry decision attached.
type ClassifiedError struct {
	Category  Category
	Retryable bool
	Message   string
	Err       error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func classified(category Category, retryable bool, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:  category,
		Retryable: retryable,
		Message:   categoryMessages[category],
		Err:       err,
	}
}

// Classify maps an error from any phase of the start sequence to its
// category. Typed errors decide first; message sniffing is the fallback for
// errors that cross untyped boundaries.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, audio.ErrCaptureDenied) {
		return classified(CategoryMicPermission, false, err)
	}

	var rateLimit *ledger.RateLimitError
	if errors.As(err, &rateLimit) {
		return classified(CategoryRateLimit, false, err)
	}

	var httpErr *realtime.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.IsAuthFailure():
			return classified(CategoryTokenAuth, false, err)
		case httpErr.IsRateLimit():
			return classified(CategoryRateLimit, false, err)
		case httpErr.IsServerError():
			return classified(CategoryServerError, true, err)
		case httpErr.Context == realtime.ContextToken:
			return classified(CategoryTokenAuth, false, err)
		default:
			return classified(CategoryRealtimeNegotiate, true, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classified(CategoryConnectionTimeout, true, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return classified(CategoryConnectionTimeout, true, err)
		}
		return classified(CategoryNetwork, true, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return classified(CategoryMicPermission, false, err)
	case strings.Contains(msg, "401"), strings.Contains(msg, "invalid_auth"), strings.Contains(msg, realtime.ContextToken+":"):
		return classified(CategoryTokenAuth, false, err)
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "too many requests"):
		return classified(CategoryRateLimit, false, err)
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"), strings.Contains(msg, "server error"):
		return classified(CategoryServerError, true, err)
	case strings.Contains(msg, "negotiate"), strings.Contains(msg, "realtime"):
		return classified(CategoryRealtimeNegotiate, true, err)
	case strings.Contains(msg, "ice"), strings.Contains(msg, "connection failed"):
		return classified(CategoryICEFailed, true, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return classified(CategoryConnectionTimeout, true, err)
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection refused"):
		return classified(CategoryNetwork, true, err)
	}

	return classified(CategoryUnknown, true, err)
}
