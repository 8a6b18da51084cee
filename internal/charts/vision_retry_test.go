package charts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chart-backend/internal/vision"
)

// flakyVision fails the first N calls of each stage, then succeeds.
type flakyVision struct {
	failures       int
	err            error
	extractCalls   int
	interpretCalls int
}

func (v *flakyVision) ExtractFields(ctx context.Context, image vision.Image, fieldNames []string) ([]vision.RawField, error) {
	v.extractCalls++
	if v.extractCalls <= v.failures {
		return nil, v.err
	}
	return []vision.RawField{{Name: "主訴", Text: "頭痛"}}, nil
}

func (v *flakyVision) Interpret(ctx context.Context, fields []vision.RawField) ([]vision.InterpretedField, error) {
	v.interpretCalls++
	if v.interpretCalls <= v.failures {
		return nil, v.err
	}
	return []vision.InterpretedField{{Name: "主訴", Text: "頭痛"}}, nil
}

func newTestRetrier(base vision.Client, maxAttempts int, slept *[]time.Duration) *retryingVision {
	return &retryingVision{
		base:    base,
		policy:  RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: 10 * time.Millisecond}.withDefaults(),
		chartID: "chart-test",
		jitter:  func() float64 { return 0.5 },
		sleep: func(ctx context.Context, d time.Duration) error {
			if slept != nil {
				*slept = append(*slept, d)
			}
			return nil
		},
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	client := &flakyVision{failures: 2, err: errors.New("temporarily overloaded")}
	var slept []time.Duration
	r := newTestRetrier(client, 3, &slept)

	raws, err := r.ExtractFields(context.Background(), vision.Image{}, nil)
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected payload from the successful attempt, got %v", raws)
	}
	if client.extractCalls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.extractCalls)
	}
	// With fixed jitter 0.5 the factor is exactly 2^(attempt-1).
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(slept))
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], slept[i])
		}
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	wantErr := errors.New("still broken")
	client := &flakyVision{failures: 10, err: wantErr}
	r := newTestRetrier(client, 3, nil)

	_, err := r.Interpret(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if client.interpretCalls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", client.interpretCalls)
	}
}

func TestRetryMalformedResponseIsRetried(t *testing.T) {
	client := &flakyVision{failures: 1, err: fmt.Errorf("%w: not json", vision.ErrMalformedResponse)}
	r := newTestRetrier(client, 3, nil)

	if _, err := r.ExtractFields(context.Background(), vision.Image{}, nil); err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if client.extractCalls != 2 {
		t.Fatalf("malformed response must be retried, got %d calls", client.extractCalls)
	}
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	client := &flakyVision{failures: 10, err: context.Canceled}
	var slept []time.Duration
	r := newTestRetrier(client, 3, &slept)

	_, err := r.ExtractFields(context.Background(), vision.Image{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.extractCalls != 1 {
		t.Fatalf("cancellation must not be retried, got %d calls", client.extractCalls)
	}
	if len(slept) != 0 {
		t.Fatalf("cancellation must not wait, got %v", slept)
	}
}

func TestRetryAbortsWhenSleepIsInterrupted(t *testing.T) {
	client := &flakyVision{failures: 10, err: errors.New("transient")}
	r := newTestRetrier(client, 3, nil)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}

	_, err := r.Interpret(context.Background(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded from the interrupted wait, got %v", err)
	}
	if client.interpretCalls != 1 {
		t.Fatalf("expected a single call before the interrupted wait, got %d", client.interpretCalls)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	cases := []struct {
		attempt int
		jitter  float64
		want    time.Duration
	}{
		{attempt: 1, jitter: 0, want: 1 * time.Second},
		{attempt: 1, jitter: 0.5, want: 2 * time.Second},
		{attempt: 2, jitter: 0.5, want: 4 * time.Second},
		{attempt: 3, jitter: 0.5, want: 8 * time.Second},
		{attempt: 3, jitter: 1, want: 12 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(base, tc.attempt, tc.jitter); got != tc.want {
			t.Fatalf("attempt=%d jitter=%v: expected %v, got %v", tc.attempt, tc.jitter, tc.want, got)
		}
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	if p.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts by default, got %d", p.MaxAttempts)
	}
	if p.BaseDelay != 2*time.Second {
		t.Fatalf("expected 2s base delay by default, got %v", p.BaseDelay)
	}

	p = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}.withDefaults()
	if p.MaxAttempts != 5 || p.BaseDelay != time.Second {
		t.Fatalf("explicit values must be kept, got %+v", p)
	}
}
