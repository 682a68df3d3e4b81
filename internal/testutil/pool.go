package testutil

import (
	"context"
	"slices"
	"sync"
)

// MemoryPool implements contracts.WaitingPool with one FIFO per bucket.
type MemoryPool struct {
	mu      sync.Mutex
	buckets map[string][]string

	PairErr error
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{buckets: make(map[string][]string)}
}

func (p *MemoryPool) Pair(_ context.Context, bucket, userID string) (string, bool, error) {
	if p.PairErr != nil {
		return "", false, p.PairErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	waiting := p.buckets[bucket]
	for i, w := range waiting {
		if w != userID {
			p.buckets[bucket] = slices.Delete(waiting, i, i+1)
			return w, true, nil
		}
	}
	if !slices.Contains(waiting, userID) {
		p.buckets[bucket] = append(waiting, userID)
	}
	return "", false, nil
}

func (p *MemoryPool) Leave(_ context.Context, bucket, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets[bucket] = slices.DeleteFunc(p.buckets[bucket], func(w string) bool { return w == userID })
	return nil
}

// Park puts userID at the back of bucket without pairing.
func (p *MemoryPool) Park(bucket, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets[bucket] = append(p.buckets[bucket], userID)
}

func (p *MemoryPool) Waiting(bucket string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.buckets[bucket])
}
