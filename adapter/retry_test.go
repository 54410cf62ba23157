package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), "test", 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_Exhausts(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), "test", 2, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("down")
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentStopsEarly(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Retry(t.Context(), "test", 5, time.Millisecond, func(context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, permanent) })

	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := Retry(ctx, "test", 3, time.Millisecond, func(context.Context) error {
		t.Error("attempt ran with a canceled context")
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
