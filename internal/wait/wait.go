// Package wait provides bounded wait-until-predicate polling used for
// "VM reached target state" and "network port open" conditions.
package wait

import (
	"context"
	"net"
	"time"

	"github.com/anvil-vm/anvil/internal/faults"
)

// Predicate reports whether the awaited condition holds.
type Predicate func() bool

// Until polls predicate every interval until it returns true or maxAttempts
// are exhausted. The first attempt happens immediately, so a condition that
// already holds returns without sleeping. Context cancellation aborts the
// wait with the context's error.
func Until(ctx context.Context, predicate Predicate, interval time.Duration, maxAttempts int) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if predicate() {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return faults.New(faults.KindTimeout, "wait", "condition not met after %d attempts", maxAttempts)
}

// ForTCP waits until a TCP connection to addr succeeds. The dial timeout per
// attempt matches the poll interval so a black-holed address does not stall
// longer than interval per attempt.
func ForTCP(ctx context.Context, addr string, interval time.Duration, maxAttempts int) error {
	return Until(ctx, func() bool {
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, interval, maxAttempts)
}
