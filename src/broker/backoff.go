package broker

import "time"

const (
	backoffBase = 5 * time.Second
	backoffCap  = 60 * time.Second
)

// MaxRetries is the number of consecutive BrokerConnect failures a session
// tolerates before giving up permanently (SPEC_FULL §4.2).
const MaxRetries = 20

// Backoff returns the sleep duration for the given consecutive-failure
// count: min(5s * 2^attempt, 60s), deterministic and jitter-free so it can
// be reasoned about and tested as a pure function.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
