package llm

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy bounds the attempts of a single Generate call.
type RetryPolicy struct {
	MaxAttempts       int           `json:"maxAttempts" yaml:"maxAttempts"`             // total attempts, the first one included
	BaseDelay         time.Duration `json:"baseDelay" yaml:"baseDelay"`                 // delay after the first failed attempt
	BackoffMultiplier float64       `json:"backoffMultiplier" yaml:"backoffMultiplier"` // growth factor, > 1
	MaxDelay          time.Duration `json:"maxDelay" yaml:"maxDelay"`                   // cap for every delay
}

// DefaultRetryPolicy returns 10 attempts starting at 1s, doubling, capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       10,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          60 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.Errorf("retry policy: max attempts must be >= 1, got %d", p.MaxAttempts)
	case p.BaseDelay <= 0:
		return errors.Errorf("retry policy: base delay must be positive, got %s", p.BaseDelay)
	case p.BackoffMultiplier <= 1:
		return errors.Errorf("retry policy: backoff multiplier must be > 1, got %g", p.BackoffMultiplier)
	case p.MaxDelay < p.BaseDelay:
		return errors.Errorf("retry policy: max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Delay returns the sleep after the given failed attempt (1-indexed):
// min(BaseDelay * BackoffMultiplier^(attempt-1), MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
