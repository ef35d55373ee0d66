package resilience

import (
	"time"

	"github.com/sells-group/prospect-intel/internal/config"
)

// FromFetchConfig derives the retry and breaker settings of the fetcher.
// max_retries counts retries, so the attempt budget is one more.
func FromFetchConfig(cfg config.FetchConfig) (RetryConfig, BreakerConfig) {
	retry := DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		retry.MaxAttempts = cfg.MaxRetries + 1
	}
	if cfg.TimeoutSecs > 0 {
		retry.MaxBackoff = time.Duration(cfg.TimeoutSecs) * time.Second
	}

	breaker := DefaultBreakerConfig()
	if cfg.BreakerFailures > 0 {
		breaker.FailureThreshold = cfg.BreakerFailures
	}
	return retry, breaker
}
