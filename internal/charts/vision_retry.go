package charts

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"chart-backend/internal/shared/telemetry"
	"chart-backend/internal/vision"
)

// RetryPolicy bounds the provider retry loop shared by both pipeline stages.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls per stage, first try included.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	return p
}

// retryingVision wraps a vision client with exponential backoff and jitter.
// A malformed response is retried like any transient call failure; only
// context cancellation stops the loop early.
type retryingVision struct {
	base    vision.Client
	policy  RetryPolicy
	chartID string
	jitter  func() float64
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRetryingVision(base vision.Client, policy RetryPolicy, chartID string) vision.Client {
	return &retryingVision{
		base:    base,
		policy:  policy.withDefaults(),
		chartID: chartID,
		jitter:  rand.Float64,
		sleep:   sleepContext,
	}
}

func (r *retryingVision) ExtractFields(ctx context.Context, image vision.Image, fieldNames []string) ([]vision.RawField, error) {
	var out []vision.RawField
	err := r.do(ctx, "extract", func() error {
		var callErr error
		out, callErr = r.base.ExtractFields(ctx, image, fieldNames)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *retryingVision) Interpret(ctx context.Context, fields []vision.RawField) ([]vision.InterpretedField, error) {
	var out []vision.InterpretedField
	err := r.do(ctx, "interpret", func() error {
		var callErr error
		out, callErr = r.base.Interpret(ctx, fields)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *retryingVision) do(ctx context.Context, stage string, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := backoffDelay(r.policy.BaseDelay, attempt, r.jitter())
		telemetry.Warn("vision.retry", map[string]any{
			"chart_id": r.chartID,
			"stage":    stage,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    lastErr.Error(),
		})
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// backoffDelay computes base * 2^(attempt-1) * (0.5 + jitter) so consecutive
// failures double the wait while staying randomized across workers.
func backoffDelay(base time.Duration, attempt int, jitter float64) time.Duration {
	factor := math.Pow(2, float64(attempt-1)) * (0.5 + jitter)
	return time.Duration(float64(base) * factor)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
