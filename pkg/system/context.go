package system

import (
	"context"
)

// RunWithContext executes a shutdown operation under a context. The
// operation runs on its own goroutine with an independent context so that
// cancellation of the parent signals it to stop without abandoning it
// mid-cleanup: the caller always waits for the operation to return.
//
// Returns nil on success, the operation's error on failure, or the
// operation's result after cancellation was signalled.
func RunWithContext(ctx context.Context, operation func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	opCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Buffered so the goroutine can exit even if nobody reads immediately.
	done := make(chan error, 1)

	go func() {
		done <- operation(opCtx)
		close(done)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Signal the operation to wrap up, then wait for it. Cleanup must
		// finish its critical work even when the parent gave up on it.
		cancel()
		return <-done
	}
}
