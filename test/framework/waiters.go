package framework

import (
	"context"
	"fmt"
	"time"
)

// Waiter provides utilities for waiting on conditions with timeouts.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter with sensible defaults (30s timeout, 1s interval).
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 1*time.Second)
}

// WaitFor waits for a condition to become true.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForLeaderElection waits for a leader to be elected in the cluster.
func (w *Waiter) WaitForLeaderElection(ctx context.Context, cluster *Cluster) error {
	return w.WaitFor(ctx, func() bool {
		_, err := cluster.GetLeader()
		return err == nil
	}, "leader election to complete")
}

// WaitForQuorum waits for Raft quorum to be established.
func (w *Waiter) WaitForQuorum(ctx context.Context, cluster *Cluster) error {
	return w.WaitFor(ctx, cluster.hasQuorum, "Raft quorum to be established")
}

// WaitForTableExists waits for a table to appear in sqlite_master.
func (w *Waiter) WaitForTableExists(ctx context.Context, client *Client, dbID uint32, table string) error {
	return w.WaitFor(ctx, func() bool {
		ok, err := client.TableExists(dbID, table)
		return err == nil && ok
	}, fmt.Sprintf("table %s to exist", table))
}

// WaitForRowCount waits for a table to reach an exact row count.
func (w *Waiter) WaitForRowCount(ctx context.Context, client *Client, dbID uint32, table string, count int64) error {
	return w.WaitFor(ctx, func() bool {
		n, err := client.RowCount(dbID, table)
		return err == nil && n == count
	}, fmt.Sprintf("table %s to have %d rows", table, count))
}

// WaitForConditionWithRetry waits for a condition with exponential backoff retry.
func (w *Waiter) WaitForConditionWithRetry(ctx context.Context, condition func() (bool, error), description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	interval := w.interval
	maxInterval := 10 * time.Second

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("error checking condition '%s': %w", description, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-time.After(interval):
			interval *= 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}

// PollUntil polls a condition until it returns true or context is cancelled.
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// PollUntilWithError polls a condition that can return an error.
func PollUntilWithError(ctx context.Context, interval time.Duration, condition func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if ok, err := condition(); err != nil {
		return err
	} else if ok {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ok, err := condition(); err != nil {
				return err
			} else if ok {
				return nil
			}
		}
	}
}

// Retry retries an operation with exponential backoff.
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, operation func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}
