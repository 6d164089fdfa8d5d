package config

// RetryConfig bounds the internal retry loop around transactions that flip
// is_latest flags. A writer losing the race past MaxAttempts surfaces a
// concurrent modification error to the caller.
type RetryConfig struct {
	MaxAttempts  int  `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" validate:"omitempty,gte=1,lte=20"`
	BaseDelayMs  int  `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty" validate:"omitempty,gte=1"`
	MaxDelayMs   int  `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty" validate:"omitempty,gte=1"`
	EnableJitter bool `json:"enable_jitter,omitempty" yaml:"enable_jitter,omitempty"`
}

// NewDefaultRetryConfig creates default retry configuration
func NewDefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  DefaultRetryMaxAttempts,
		BaseDelayMs:  DefaultRetryBaseDelayMs,
		MaxDelayMs:   DefaultRetryMaxDelayMs,
		EnableJitter: true,
	}
}
