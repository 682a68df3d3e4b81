package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stranger/internal/core/domain"
	"stranger/internal/platform/metrics"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New())
}

func drain(t *testing.T, ch chan []byte) domain.ServerEvent {
	t.Helper()
	select {
	case data := <-ch:
		ev, err := domain.DecodeEvent(data)
		require.NoError(t, err)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func TestRegister_DistinctIDs(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 10; i++ {
		require.True(t, r.Register(fmt.Sprintf("client-%d", i), make(chan []byte, 1)))
	}
	assert.Equal(t, 10, r.OnlineCount())
	assert.Equal(t, 10.0, testutil.ToFloat64(r.metrics.OnlineClients))
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := newTestRegistry()
	first := make(chan []byte, 1)
	second := make(chan []byte, 1)

	require.True(t, r.Register("alice", first))
	assert.False(t, r.Register("alice", second))
	assert.Equal(t, 1, r.OnlineCount())

	// The original entry still receives.
	require.NoError(t, r.SendTo("alice", domain.PongEvent{}))
	assert.Equal(t, domain.PongEvent{}, drain(t, first))
	assert.Empty(t, second)
}

func TestUnregister_Idempotent(t *testing.T) {
	r := newTestRegistry()
	out := make(chan []byte, 1)
	require.True(t, r.Register("alice", out))
	require.True(t, r.Register("bob", make(chan []byte, 1)))

	r.Unregister("alice")
	r.Unregister("alice")
	r.Unregister("nobody")

	assert.Equal(t, 1, r.OnlineCount())
	assert.False(t, r.IsOnline("alice"))
	_, open := <-out
	assert.False(t, open, "unregister closes the outbound channel")

	// The id is free again.
	assert.True(t, r.Register("alice", make(chan []byte, 1)))
}

func TestSendTo_NotOnline(t *testing.T) {
	r := newTestRegistry()
	err := r.SendTo("bob", domain.PongEvent{})
	assert.ErrorIs(t, err, domain.ErrNotOnline)
	assert.NotErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestSendTo_FullBufferIsDeliveryFailure(t *testing.T) {
	r := newTestRegistry()
	out := make(chan []byte, 1)
	require.True(t, r.Register("alice", out))

	require.NoError(t, r.SendTo("alice", domain.PongEvent{}))
	err := r.SendTo("alice", domain.PongEvent{})
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.NotErrorIs(t, err, domain.ErrNotOnline)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.DeliveryFailures))
}

func TestBroadcast_SkipsSender(t *testing.T) {
	r := newTestRegistry()
	chans := map[string]chan []byte{}
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		chans[id] = make(chan []byte, 4)
		require.True(t, r.Register(id, chans[id]))
	}

	ts := time.Unix(1700000000, 0)
	assert.Equal(t, 3, r.Broadcast("alice", "hello", ts))

	assert.Empty(t, chans["alice"])
	want := domain.BroadcastEvent{From: "alice", Message: "hello", Timestamp: 1700000000}
	for _, id := range []string{"bob", "carol", "dave"} {
		assert.Equal(t, want, drain(t, chans[id]), id)
	}
}

func TestBroadcast_SlowRecipientDoesNotBlockOthers(t *testing.T) {
	r := newTestRegistry()
	slow := make(chan []byte) // unbuffered and never read
	fast := make(chan []byte, 1)
	require.True(t, r.Register("slow", slow))
	require.True(t, r.Register("fast", fast))
	require.True(t, r.Register("alice", make(chan []byte, 1)))

	assert.Equal(t, 1, r.Broadcast("alice", "hi", time.Now()))
	assert.Len(t, fast, 1)
}

func TestList_Snapshot(t *testing.T) {
	r := newTestRegistry()
	before := time.Now().Unix()
	require.True(t, r.Register("alice", make(chan []byte, 1)))
	require.True(t, r.Register("bob", make(chan []byte, 1)))

	list := r.List()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
	for _, c := range list {
		assert.GreaterOrEqual(t, c.ConnectedAt, before)
	}
}

func TestClose_ReleasesChannelsAndRefusesRegistrations(t *testing.T) {
	r := newTestRegistry()
	out := make(chan []byte, 1)
	require.True(t, r.Register("alice", out))

	r.Close()
	r.Close()

	_, open := <-out
	assert.False(t, open)
	assert.Equal(t, 0, r.OnlineCount())
	assert.False(t, r.Register("bob", make(chan []byte, 1)))
	assert.ErrorIs(t, r.SendTo("alice", domain.PongEvent{}), domain.ErrRegistryClosed)
	// Unregister after close is still safe.
	r.Unregister("alice")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	wins := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", i%10)
			if r.Register(id, make(chan []byte, 8)) {
				wins <- id
			}
			r.Broadcast(id, "x", time.Now())
			_ = r.SendTo(id, domain.PongEvent{})
			_ = r.List()
		}(i)
	}
	wg.Wait()
	close(wins)

	seen := map[string]int{}
	for id := range wins {
		seen[id]++
	}
	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, "%s registered more than once", id)
	}
	assert.Equal(t, 10, r.OnlineCount())
}
