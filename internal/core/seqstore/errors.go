package seqstore

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
)

// classify maps a substrate error onto the store's error kinds.
// Domain errors pass through; everything else, including context expiry,
// is reported as ErrStoreUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}

// withTimeout bounds ctx by d unless it already has a deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
