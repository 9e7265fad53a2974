package providers

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"lead-enricher/internal/common/errors"
)

// classifyTransportError maps network-level failures to the taxonomy.
func classifyTransportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.TimeoutError(fmt.Sprintf("provider %s call", provider))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.TimeoutError(fmt.Sprintf("provider %s call", provider))
	}

	return errors.ProviderTransientError(provider, err)
}

// classifyStatus maps a non-2xx provider response to the taxonomy.
func classifyStatus(provider string, statusCode int, body []byte) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errors.ProviderAuthError(provider, fmt.Errorf("HTTP %d", statusCode))
	case statusCode == http.StatusTooManyRequests:
		return errors.ProviderRateLimitError(provider)
	case statusCode == http.StatusNotFound:
		return errors.ProviderNotFoundError(provider)
	case statusCode >= 500:
		return errors.ProviderTransientError(provider, fmt.Errorf("HTTP %d: %s", statusCode, truncate(body, 200)))
	default:
		return errors.InvalidInputError(fmt.Sprintf("provider %s rejected request: HTTP %d: %s", provider, statusCode, truncate(body, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
