package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
)

// dataField is the single stream field carrying the JSON payload.
const dataField = "data"

var (
	_ contracts.StreamQueue   = (*StreamQueue)(nil)
	_ contracts.StreamDeleter = (*StreamQueue)(nil)
	_ contracts.WaitingPool   = (*RedisWaitingPool)(nil)
)

type StreamQueue struct {
	rdb    redis.UniversalClient
	maxLen int64
}

// NewStreamQueue wraps rdb. maxLen > 0 caps each stream approximately on
// every append; 0 leaves trimming to the operator.
func NewStreamQueue(rdb redis.UniversalClient, maxLen int64) *StreamQueue {
	return &StreamQueue{rdb: rdb, maxLen: maxLen}
}

func (q *StreamQueue) Enqueue(ctx context.Context, stream string, payload any) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEnqueue, err)
	}
	id, err := q.rdb.XAdd(ctx, q.addArgs(stream, raw)).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrEnqueue, classify(err))
	}
	return id, nil
}

// EnqueueBatch appends every payload in order through one pipeline.
func (q *StreamQueue) EnqueueBatch(ctx context.Context, stream string, payloads []any) ([]string, error) {
	cmds := make([]*redis.StringCmd, 0, len(payloads))
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range payloads {
			raw, err := encodePayload(p)
			if err != nil {
				return err
			}
			cmds = append(cmds, pipe.XAdd(ctx, q.addArgs(stream, raw)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEnqueue, classify(err))
	}
	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

func (q *StreamQueue) addArgs(stream, raw string) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{dataField: raw},
	}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = true
	}
	return args
}

func (q *StreamQueue) EnsureConsumerGroup(ctx context.Context, stream, group string) error {
	// "0" so entries appended before the group existed are still delivered.
	err := q.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", group, stream, classify(err))
	}
	return nil
}

func (q *StreamQueue) Consume(
	ctx context.Context,
	stream, group, consumer string,
	count int,
	block time.Duration,
) ([]domain.Entry, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, classify(err)
	}
	var entries []domain.Entry
	for _, s := range res {
		entries = append(entries, toEntries(s.Messages)...)
	}
	return entries, nil
}

func (q *StreamQueue) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (q *StreamQueue) Reclaim(
	ctx context.Context,
	stream, group, consumer, start string,
	minIdle time.Duration,
	count int,
) ([]domain.Entry, string, error) {
	if start == "" {
		start = domain.ReclaimStart
	}
	// XAUTOCLAIM is atomic and resets idle time, so concurrent reclaimers
	// never both take the same entry.
	msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ReclaimStart, nil
		}
		return nil, start, classify(err)
	}
	if next == "" {
		next = domain.ReclaimStart
	}
	return toEntries(msgs), next, nil
}

// Pending returns the number of delivered but unacknowledged entries.
func (q *StreamQueue) Pending(ctx context.Context, stream, group string) (int64, error) {
	res, err := q.rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, classify(err)
	}
	return res.Count, nil
}

func (q *StreamQueue) DeliveryCount(ctx context.Context, stream, group, id string) (int64, error) {
	res, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, classify(err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0].RetryCount, nil
}

// Delete removes entries from the stream entirely.
func (q *StreamQueue) Delete(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.rdb.XDel(ctx, stream, ids...).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func encodePayload(payload any) (string, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return string(p), nil
	case []byte:
		return string(p), nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

func toEntries(msgs []redis.XMessage) []domain.Entry {
	entries := make([]domain.Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[dataField].(string)
		if !ok {
			// Foreign entry without a data field; surface it empty so the
			// caller can still ack or dead-letter it.
			raw = ""
		}
		entries = append(entries, domain.Entry{ID: msg.ID, Payload: []byte(raw)})
	}
	return entries
}

// classify tags broker errors so workers can tell a slow poll from an outage.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", domain.ErrTransportTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransport, err)
}
