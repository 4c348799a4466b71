package sweep

import "time"

// Backoff is the wait before retry number attempt (1-based): base × attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}
