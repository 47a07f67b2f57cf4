package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestBackoffBounds(t *testing.T) {
	if Backoff(time.Second, 0) != 0 {
		t.Fatalf("attempt 0 must not wait")
	}
	for attempt := 1; attempt <= 5; attempt++ {
		base := 10 * time.Millisecond * time.Duration(1<<uint(attempt))
		got := Backoff(10*time.Millisecond, attempt)
		if got < base*3/4 || got > base*5/4 {
			t.Fatalf("attempt %d: %v outside [%v, %v]", attempt, got, base*3/4, base*5/4)
		}
	}
	if got := Backoff(time.Second, 40); got > 30*time.Second*5/4 {
		t.Fatalf("backoff not capped: %v", got)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errTransient
			}
			return 42, nil
		})
	if err != nil || got != 42 {
		t.Fatalf("Do = %d, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad input")
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 5, BaseDelay: time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context) (string, error) {
			calls++
			return "", permanent
		})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 2, BaseDelay: time.Millisecond},
		func(error) bool { return true },
		func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})
	if !errors.Is(err, errTransient) || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{Attempts: 5, BaseDelay: time.Hour},
		func(error) bool { return true },
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errTransient
		})
	if !errors.Is(err, errTransient) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
