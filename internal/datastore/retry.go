package datastore

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/resc-project/resc/internal/config"
	"github.com/rs/zerolog"
)

// TxRetrier retries transactions that lose a lock race, with exponential
// backoff. Writers that flip is_latest flags serialize on the affected rows;
// a writer still losing after the attempt budget surfaces
// ErrConcurrentModification.
type TxRetrier struct {
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	enableJitter bool
	logger       zerolog.Logger
}

// NewTxRetrier creates a new transaction retrier
func NewTxRetrier(cfg config.RetryConfig, logger zerolog.Logger) *TxRetrier {
	return &TxRetrier{
		maxAttempts:  cfg.MaxAttempts,
		baseDelay:    time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		maxDelay:     time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		enableJitter: cfg.EnableJitter,
		logger:       logger.With().Str("component", "TxRetrier").Logger(),
	}
}

// CalculateDelay computes the delay for the next retry attempt using
// exponential backoff capped at the configured maximum.
func (tr *TxRetrier) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return tr.baseDelay
	}

	delay := tr.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > tr.maxDelay {
		delay = tr.maxDelay
	}

	if tr.enableJitter && delay >= 10*time.Millisecond {
		jitter := time.Duration(rand.Intn(int(delay.Milliseconds()/10))) * time.Millisecond
		delay += jitter
	}

	return delay
}

// Do executes op, retrying on transient lock contention. Non-transient
// errors surface immediately. entity names the contended row for the
// ErrConcurrentModification wrap.
func (tr *TxRetrier) Do(ctx context.Context, entity string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < tr.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return translateErr(ctx.Err(), entity)
		default:
		}

		err := op()
		if err == nil {
			return nil
		}
		// An expired deadline can abort the driver mid statement; the error
		// it reports then depends on where the interrupt landed. Attribute
		// the failure to the deadline, not to the statement it cut short.
		if ctx.Err() != nil {
			return translateErr(ctx.Err(), entity)
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err

		if attempt == tr.maxAttempts-1 {
			break
		}

		delay := tr.CalculateDelay(attempt)
		tr.logger.Warn().
			Str("entity", entity).
			Int("attempt", attempt+1).
			Int("max_attempts", tr.maxAttempts).
			Dur("delay", delay).
			Msg("Lock contention, waiting before retry")

		select {
		case <-ctx.Done():
			return translateErr(ctx.Err(), entity)
		case <-time.After(delay):
		}
	}

	return entityErr(ErrConcurrentModification, "%s: %v", entity, lastErr)
}
