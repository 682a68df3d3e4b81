package contracts

import (
	"context"
	"time"

	"stranger/internal/core/domain"
)

// StreamQueue is a durable, replayable log with consumer-group semantics.
type StreamQueue interface {
	// Enqueue serializes payload and appends it to stream, returning the
	// broker-assigned entry id.
	Enqueue(ctx context.Context, stream string, payload any) (string, error)
	// EnsureConsumerGroup creates group on stream; an existing group is not an error.
	EnsureConsumerGroup(ctx context.Context, stream, group string) error
	// Consume waits up to block for entries never delivered to group. A
	// timeout yields an empty batch.
	Consume(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.Entry, error)
	// Ack marks ids processed. Unknown ids are ignored.
	Ack(ctx context.Context, stream, group string, ids ...string) error
	// Reclaim moves entries pending longer than minIdle to consumer, scanning
	// the pending list from start. next is where the following scan should
	// begin; domain.ReclaimStart means the list was scanned to the end.
	Reclaim(ctx context.Context, stream, group, consumer, start string, minIdle time.Duration, count int) (entries []domain.Entry, next string, err error)
	// DeliveryCount reports how many times id has been delivered within group.
	DeliveryCount(ctx context.Context, stream, group, id string) (int64, error)
}

// WaitingPool pairs matchmaking requests within a bucket.
type WaitingPool interface {
	// Pair returns the oldest other waiter of bucket and removes it, or parks
	// userID and returns matched == false.
	Pair(ctx context.Context, bucket, userID string) (partner string, matched bool, err error)
	// Leave removes userID from bucket.
	Leave(ctx context.Context, bucket, userID string) error
}

// StreamDeleter is implemented by queues that can drop acknowledged entries.
type StreamDeleter interface {
	Delete(ctx context.Context, stream string, ids ...string) error
}
