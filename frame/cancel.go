package frame

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is returned by long running operations when their context is
// cancelled. No partial output is produced.
var ErrCancelled = errors.New("conversion cancelled")

// Cancelled returns ErrCancelled, wrapping the context error, once ctx is
// done and nil otherwise.
func Cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
