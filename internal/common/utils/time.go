// Package utils holds helpers shared across the service: retry with
// backoff, duration parsing and nullable-string bindings.
package utils

import (
	"fmt"
	"time"
)

// ParseDuration parses a duration string, extending the standard Go format
// with days ("30d") and weeks ("2w"). Cache TTLs are long enough that the
// standard hour-capped syntax gets unwieldy.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	if n, err := fmt.Sscanf(s, "%dd", &days); err == nil && n == 1 {
		return time.Duration(days) * 24 * time.Hour, nil
	}

	var weeks int
	if n, err := fmt.Sscanf(s, "%dw", &weeks); err == nil && n == 1 {
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

