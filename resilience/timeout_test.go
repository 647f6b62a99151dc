package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeout_CompletesInTime(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})

	err := to.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestTimeout_Expires(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: 10 * time.Millisecond})

	err := to.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute = %v, want ErrTimeout", err)
	}
}

func TestTimeout_PropagatesError(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})

	wantErr := errors.New("backend said no")
	err := to.Execute(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Execute = %v, want %v", err, wantErr)
	}
}

func TestTimeout_DefaultApplied(t *testing.T) {
	to := NewTimeout(TimeoutConfig{})
	if to.Config().Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", to.Config().Timeout)
	}
}
