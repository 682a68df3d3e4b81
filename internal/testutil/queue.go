// Package testutil holds in-memory stand-ins for the Redis-backed contracts.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"stranger/internal/core/domain"
)

type pendingEntry struct {
	entry      domain.Entry
	consumer   string
	deliveries int64
	claimedAt  time.Time
}

type stream struct {
	entries []domain.Entry
	// next undelivered offset per group
	cursor  map[string]int
	pending map[string]map[string]*pendingEntry
}

// MemoryQueue implements contracts.StreamQueue in memory. Hooks let tests
// inject failures per call.
type MemoryQueue struct {
	mu      sync.Mutex
	streams map[string]*stream
	seq     int64

	EnqueueErr func(stream string) error
	ConsumeErr func(stream string) error
	AckErr     func(stream string) error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{streams: make(map[string]*stream)}
}

func (q *MemoryQueue) stream(name string) *stream {
	s, ok := q.streams[name]
	if !ok {
		s = &stream{cursor: map[string]int{}, pending: map[string]map[string]*pendingEntry{}}
		q.streams[name] = s
	}
	return s
}

func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload any) (string, error) {
	if q.EnqueueErr != nil {
		if err := q.EnqueueErr(name); err != nil {
			return "", err
		}
	}
	var raw []byte
	switch p := payload.(type) {
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrEnqueue, err)
		}
		raw = b
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := fmt.Sprintf("%d-0", q.seq)
	s := q.stream(name)
	s.entries = append(s.entries, domain.Entry{ID: id, Payload: raw})
	return id, nil
}

func (q *MemoryQueue) EnsureConsumerGroup(_ context.Context, name, group string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stream(name)
	if _, ok := s.pending[group]; !ok {
		s.pending[group] = map[string]*pendingEntry{}
		s.cursor[group] = 0
	}
	return nil
}

// Consume waits out block when nothing is available, like a poll timeout.
func (q *MemoryQueue) Consume(ctx context.Context, name, group, consumer string, count int, block time.Duration) ([]domain.Entry, error) {
	if q.ConsumeErr != nil {
		if err := q.ConsumeErr(name); err != nil {
			return nil, err
		}
	}
	out, err := q.take(name, group, consumer, count)
	if err != nil || len(out) > 0 {
		return out, err
	}
	select {
	case <-time.After(block):
	case <-ctx.Done():
	}
	return nil, nil
}

func (q *MemoryQueue) take(name, group, consumer string, count int) ([]domain.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stream(name)
	pend, ok := s.pending[group]
	if !ok {
		return nil, fmt.Errorf("%w: NOGROUP %s", domain.ErrTransport, group)
	}
	var out []domain.Entry
	for s.cursor[group] < len(s.entries) && len(out) < count {
		e := s.entries[s.cursor[group]]
		s.cursor[group]++
		pend[e.ID] = &pendingEntry{entry: e, consumer: consumer, deliveries: 1, claimedAt: time.Now()}
		out = append(out, e)
	}
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, name, group string, ids ...string) error {
	if q.AckErr != nil {
		if err := q.AckErr(name); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	pend := q.stream(name).pending[group]
	for _, id := range ids {
		delete(pend, id)
	}
	return nil
}

// Reclaim walks the pending list in stream order from start. Like XAUTOCLAIM,
// next is the first pending id after a full page, or domain.ReclaimStart.
func (q *MemoryQueue) Reclaim(_ context.Context, name, group, consumer, start string, minIdle time.Duration, count int) ([]domain.Entry, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stream(name)
	from := seq(start)
	var out []domain.Entry
	for _, e := range s.entries {
		p, ok := s.pending[group][e.ID]
		if !ok || seq(e.ID) < from {
			continue
		}
		if len(out) >= count {
			return out, e.ID, nil
		}
		if time.Since(p.claimedAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveries++
		p.claimedAt = time.Now()
		out = append(out, p.entry)
	}
	return out, domain.ReclaimStart, nil
}

// seq reads the sequence part of the ids this queue hands out.
func seq(id string) int64 {
	n, _ := strconv.ParseInt(strings.SplitN(id, "-", 2)[0], 10, 64)
	return n
}

func (q *MemoryQueue) DeliveryCount(_ context.Context, name, group, id string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.stream(name).pending[group][id]; ok {
		return p.deliveries, nil
	}
	return 0, nil
}

// Delete removes ids from the stream and from every group's pending list.
func (q *MemoryQueue) Delete(_ context.Context, name string, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stream(name)
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		for _, pend := range s.pending {
			delete(pend, id)
		}
	}
	kept := s.entries[:0]
	removedBefore := map[string]int{}
	for i, e := range s.entries {
		if drop[e.ID] {
			for g, c := range s.cursor {
				if i < c {
					removedBefore[g]++
				}
			}
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	for g, n := range removedBefore {
		s.cursor[g] -= n
	}
	return nil
}

// Pending lists the ids delivered to group but not yet acknowledged.
func (q *MemoryQueue) Pending(name, group string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stream(name)
	var ids []string
	for _, e := range s.entries {
		if _, ok := s.pending[group][e.ID]; ok {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Entries returns a copy of everything appended to name.
func (q *MemoryQueue) Entries(name string) []domain.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Entry(nil), q.stream(name).entries...)
}
