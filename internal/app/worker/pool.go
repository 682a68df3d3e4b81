package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stranger/internal/config"
	"stranger/internal/core/contracts"
	"stranger/internal/platform/metrics"
)

// Pool runs a fixed number of MatchWorkers as competing consumers of one
// group.
type Pool struct {
	log     *slog.Logger
	queue   contracts.StreamQueue
	workers []*MatchWorker
	cfg     config.WorkerConfig
}

func NewPool(
	log *slog.Logger,
	queue contracts.StreamQueue,
	process contracts.ProcessFunc,
	cfg config.WorkerConfig,
	m *metrics.Metrics,
) *Pool {
	p := &Pool{log: log, queue: queue, cfg: cfg}
	for i := 0; i < cfg.Count; i++ {
		p.workers = append(p.workers, NewMatchWorker(log, queue, process, Options{
			Stream:      cfg.MatchStream,
			Group:       cfg.Group,
			Consumer:    ConsumerName(cfg.ConsumerPrefix),
			BatchSize:   cfg.BatchSize,
			Block:       cfg.BlockTimeout,
			Backoff:     cfg.Backoff,
			DeleteAcked: cfg.DeleteAcked,
		}, m))
	}
	return p
}

// ConsumerName returns a group-unique consumer name for this process.
func ConsumerName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Consumers lists the names the pool's workers read as.
func (p *Pool) Consumers() []string {
	names := make([]string, len(p.workers))
	for i, w := range p.workers {
		names[i] = w.opts.Consumer
	}
	return names
}

// Run ensures the consumer group and blocks until every worker has returned.
// Only the group setup can fail.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.queue.EnsureConsumerGroup(ctx, p.cfg.MatchStream, p.cfg.Group); err != nil {
		return fmt.Errorf("worker pool - ensure consumer group: %w", err)
	}
	p.log.InfoContext(ctx, "worker pool - run - starting workers", "count", len(p.workers), "stream", p.cfg.MatchStream, "group", p.cfg.Group)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	err := g.Wait()
	p.log.InfoContext(ctx, "worker pool - run - all workers stopped")
	return err
}
