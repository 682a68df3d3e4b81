package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stranger/internal/core/domain"
)

const (
	testStream = "test:stream"
	testGroup  = "test-group"
)

func newTestQueue(t *testing.T) (*StreamQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStreamQueue(rdb, 0), mr
}

func TestEnqueueConsumeAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))

	req := domain.MatchRequest{UserID: "alice", GameType: "pvp", Timestamp: 1700000000}
	id, err := q.Enqueue(ctx, testStream, req)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := q.Consume(ctx, testStream, testGroup, "c1", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	var got domain.MatchRequest
	require.NoError(t, json.Unmarshal(entries[0].Payload, &got))
	assert.Equal(t, req, got)

	pending, err := q.Pending(ctx, testStream, testGroup)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	require.NoError(t, q.Ack(ctx, testStream, testGroup, id))
	pending, err = q.Pending(ctx, testStream, testGroup)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending)
}

func TestEnqueue_RawPayloadPassesThrough(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	_, err := q.Enqueue(ctx, testStream, []byte(`{"user_id":"bob"}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testStream, json.RawMessage(`{"user_id":"carol"}`))
	require.NoError(t, err)

	stream, err := mr.Stream(testStream)
	require.NoError(t, err)
	require.Len(t, stream, 2)
	assert.Equal(t, []string{"data", `{"user_id":"bob"}`}, stream[0].Values)
	assert.Equal(t, []string{"data", `{"user_id":"carol"}`}, stream[1].Values)
}

func TestEnqueueBatch_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))

	ids, err := q.EnqueueBatch(ctx, testStream, []any{
		domain.MatchRequest{UserID: "a"},
		domain.MatchRequest{UserID: "b"},
		domain.MatchRequest{UserID: "c"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	entries, err := q.Consume(ctx, testStream, testGroup, "c1", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID)
	}
}

func TestEnsureConsumerGroup_Idempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
}

func TestEnsureConsumerGroup_SeesEarlierEntries(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	id, err := q.Enqueue(ctx, testStream, domain.MatchRequest{UserID: "early"})
	require.NoError(t, err)

	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
	entries, err := q.Consume(ctx, testStream, testGroup, "c1", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}

func TestConsume_TimeoutIsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))

	entries, err := q.Consume(ctx, testStream, testGroup, "c1", 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConsume_CompetingConsumersSplitEntries(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
	for _, u := range []string{"a", "b"} {
		_, err := q.Enqueue(ctx, testStream, domain.MatchRequest{UserID: u})
		require.NoError(t, err)
	}

	first, err := q.Consume(ctx, testStream, testGroup, "c1", 1, 20*time.Millisecond)
	require.NoError(t, err)
	second, err := q.Consume(ctx, testStream, testGroup, "c2", 1, 20*time.Millisecond)
	require.NoError(t, err)
	third, err := q.Consume(ctx, testStream, testGroup, "c1", 1, 20*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Empty(t, third)
}

func TestAck_EmptyAndUnknownIDs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))

	assert.NoError(t, q.Ack(ctx, testStream, testGroup))
	assert.NoError(t, q.Ack(ctx, testStream, testGroup, "1-1", "2-2"))
}

func TestReclaim_IdleEntryMovesToNewConsumer(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
	id, err := q.Enqueue(ctx, testStream, domain.MatchRequest{UserID: "alice"})
	require.NoError(t, err)

	_, err = q.Consume(ctx, testStream, testGroup, "crashed", 10, 20*time.Millisecond)
	require.NoError(t, err)

	entries, _, err := q.Reclaim(ctx, testStream, testGroup, "rescuer", domain.ReclaimStart, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "entry is not idle long enough yet")

	time.Sleep(60 * time.Millisecond)
	entries, _, err = q.Reclaim(ctx, testStream, testGroup, "rescuer", domain.ReclaimStart, 50*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	n, err := q.DeliveryCount(ctx, testStream, testGroup, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
}

func TestReclaim_AckedEntryNeverReappears(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
	id, err := q.Enqueue(ctx, testStream, domain.MatchRequest{UserID: "alice"})
	require.NoError(t, err)

	_, err = q.Consume(ctx, testStream, testGroup, "c1", 10, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, testStream, testGroup, id))

	time.Sleep(30 * time.Millisecond)
	entries, _, err := q.Reclaim(ctx, testStream, testGroup, "c2", "", 10*time.Millisecond, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := q.DeliveryCount(ctx, testStream, testGroup, id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReclaim_ConcurrentReclaimersNeverShareAnEntry(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
	_, err := q.Enqueue(ctx, testStream, domain.MatchRequest{UserID: "alice"})
	require.NoError(t, err)
	_, err = q.Consume(ctx, testStream, testGroup, "crashed", 10, 20*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for _, name := range []string{"r1", "r2", "r3"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			entries, _, err := q.Reclaim(ctx, testStream, testGroup, name, domain.ReclaimStart, 50*time.Millisecond, 10)
			assert.NoError(t, err)
			mu.Lock()
			total += len(entries)
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	assert.Equal(t, 1, total)
}

func TestEnqueue_TransportFailure(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	mr.Close()

	_, err := q.Enqueue(ctx, testStream, domain.MatchRequest{UserID: "alice"})
	assert.ErrorIs(t, err, domain.ErrEnqueue)
	assert.ErrorIs(t, err, domain.ErrTransport)

	_, err = q.Consume(ctx, testStream, testGroup, "c1", 1, 10*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestReclaim_CursorContinuesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureConsumerGroup(ctx, testStream, testGroup))
	ids, err := q.EnqueueBatch(ctx, testStream, []any{
		domain.MatchRequest{UserID: "a"},
		domain.MatchRequest{UserID: "b"},
		domain.MatchRequest{UserID: "c"},
	})
	require.NoError(t, err)
	_, err = q.Consume(ctx, testStream, testGroup, "crashed", 10, 20*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	first, next, err := q.Reclaim(ctx, testStream, testGroup, "rescuer", domain.ReclaimStart, 10*time.Millisecond, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[2], next)

	rest, next, err := q.Reclaim(ctx, testStream, testGroup, "rescuer", next, 10*time.Millisecond, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[2], rest[0].ID)
	assert.Equal(t, domain.ReclaimStart, next)
}

func TestEnqueueBatch_TrimsLikeEnqueue(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewStreamQueue(rdb, 2)

	ids, err := q.EnqueueBatch(ctx, testStream, []any{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, ids, 4)

	stream, err := mr.Stream(testStream)
	require.NoError(t, err)
	require.Len(t, stream, 2)
	assert.Equal(t, ids[2], stream[0].ID)
	assert.Equal(t, ids[3], stream[1].ID)
}

func TestDelete_RemovesEntriesAndClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	id, err := q.Enqueue(ctx, testStream, domain.MatchRequest{UserID: "alice"})
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, testStream))
	require.NoError(t, q.Delete(ctx, testStream, id))
	stream, err := mr.Stream(testStream)
	require.NoError(t, err)
	assert.Empty(t, stream)

	mr.Close()
	assert.ErrorIs(t, q.Delete(ctx, testStream, id), domain.ErrTransport)
}
