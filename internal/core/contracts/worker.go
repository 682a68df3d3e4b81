package contracts

import (
	"context"

	"stranger/internal/core/domain"
)

// ProcessFunc handles a batch and returns the ids it finished. Ids left out
// stay pending and become eligible for reclaim.
type ProcessFunc func(ctx context.Context, entries []domain.Entry) ([]string, error)

type AsyncWorker interface {
	// Run consumes until ctx is cancelled.
	Run(ctx context.Context) error
}
