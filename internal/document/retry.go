package document

import (
	"context"
	"errors"
	"time"

	"claw-companion/backend/internal/models"
)

// RetryPolicy bounds RetryOnConflict
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Backoff: 50 * time.Millisecond}
}

// RetryOnConflict re-reads the document and reapplies fn whenever the write
// loses a version race. Other errors are returned as is.
func (e *Editor) RetryOnConflict(ctx context.Context, ownerID string, by models.Writer, policy RetryPolicy, fn Mutation) (*Document, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 && policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.Backoff * time.Duration(attempt)):
			}
		}
		doc, err := e.store.Get(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		out, err := e.Mutate(ctx, ownerID, doc.Version, by, fn)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
