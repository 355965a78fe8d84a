package reliability

import (
	"context"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes, such as the
// status of a failed realtime WebSocket handshake.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsFatalRealtimeError reports whether a realtime backend error event ends the call.
func IsFatalRealtimeError(errType, code string) bool {
	switch errType {
	case "authentication_error", "permission_error", "server_error":
		return true
	}
	switch code {
	case "session_expired", "invalid_api_key", "insufficient_quota", "model_not_found":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
