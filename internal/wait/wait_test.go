package wait

import (
	"context"
	"testing"
	"time"

	"github.com/anvil-vm/anvil/internal/faults"
)

func TestUntil(t *testing.T) {
	tests := []struct {
		name        string
		trueAfter   int // predicate returns true on this call (1-based), 0 = never
		maxAttempts int
		wantErr     bool
		wantCalls   int
	}{
		{name: "immediately true", trueAfter: 1, maxAttempts: 5, wantCalls: 1},
		{name: "true on third attempt", trueAfter: 3, maxAttempts: 5, wantCalls: 3},
		{name: "exhausted", trueAfter: 0, maxAttempts: 3, wantErr: true, wantCalls: 3},
		{name: "true on final attempt", trueAfter: 4, maxAttempts: 4, wantCalls: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Until(context.Background(), func() bool {
				calls++
				return tt.trueAfter != 0 && calls >= tt.trueAfter
			}, time.Millisecond, tt.maxAttempts)

			if tt.wantErr {
				if err == nil {
					t.Fatal("Until() = nil, want timeout error")
				}
				if !faults.IsKind(err, faults.KindTimeout) {
					t.Errorf("Until() error = %v, want timeout kind", err)
				}
			} else if err != nil {
				t.Fatalf("Until() unexpected error: %v", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("predicate called %d times, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestUntilContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Until(ctx, func() bool { return false }, 10*time.Millisecond, 100)
	if err != context.Canceled {
		t.Errorf("Until() = %v, want context.Canceled", err)
	}
}

func TestForTCPUnreachable(t *testing.T) {
	// Reserved TEST-NET-1 address, nothing listens there.
	err := ForTCP(context.Background(), "192.0.2.1:22", 10*time.Millisecond, 2)
	if !faults.IsKind(err, faults.KindTimeout) {
		t.Errorf("ForTCP() = %v, want timeout kind", err)
	}
}
