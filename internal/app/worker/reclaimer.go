package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stranger/internal/config"
	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/internal/platform/metrics"
	"stranger/pkg/logging"
)

// Reclaimer periodically takes over entries left pending by crashed or
// failing consumers. Entries past the retry budget go to the dead-letter
// stream; the rest are processed again.
type Reclaimer struct {
	log      *slog.Logger
	queue    contracts.StreamQueue
	process  contracts.ProcessFunc
	cfg      config.WorkerConfig
	consumer string
	metrics  *metrics.Metrics
	now      func() time.Time

	// cursor carries the XAUTOCLAIM position across passes so a long pending
	// list is swept end to end instead of always from its head.
	cursor string
}

func NewReclaimer(
	log *slog.Logger,
	queue contracts.StreamQueue,
	process contracts.ProcessFunc,
	cfg config.WorkerConfig,
	m *metrics.Metrics,
) *Reclaimer {
	consumer := ConsumerName(cfg.ConsumerPrefix + "-reclaim")
	return &Reclaimer{
		log:      log.With(logging.Consumer(consumer), logging.Stream(cfg.MatchStream)),
		queue:    queue,
		process:  process,
		cfg:      cfg,
		consumer: consumer,
		metrics:  m,
		now:      time.Now,
		cursor:   domain.ReclaimStart,
	}
}

func (r *Reclaimer) Run(ctx context.Context) error {
	if r.cfg.ReclaimInterval <= 0 {
		r.log.InfoContext(ctx, "reclaimer - run - disabled")
		return nil
	}
	ticker := time.NewTicker(r.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.ErrorContext(ctx, "reclaimer - run - pass failed", logging.Err(err))
			}
		}
	}
}

// RunOnce performs one reclaim pass and reports how many entries it took over.
func (r *Reclaimer) RunOnce(ctx context.Context) (int, error) {
	entries, next, err := r.queue.Reclaim(ctx, r.cfg.MatchStream, r.cfg.Group, r.consumer, r.cursor, r.cfg.ReclaimMinIdle, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	r.cursor = next
	if len(entries) == 0 {
		return 0, nil
	}
	r.metrics.WorkerEntries.WithLabelValues("reclaimed").Add(float64(len(entries)))

	// Delivery count after reclaim: 1 for the first delivery plus one per reclaim.
	limit := int64(r.cfg.MaxRetries) + 1
	retry := make([]domain.Entry, 0, len(entries))
	var dead []string
	for _, e := range entries {
		n, err := r.queue.DeliveryCount(ctx, r.cfg.MatchStream, r.cfg.Group, e.ID)
		if err != nil {
			r.log.WarnContext(ctx, "reclaimer - delivery count failed", logging.Entry(e.ID), logging.Err(err))
			continue
		}
		if n > limit {
			if err := r.deadLetter(ctx, e, n); err != nil {
				r.log.ErrorContext(ctx, "reclaimer - dead letter failed", logging.Entry(e.ID), logging.Err(err))
				continue
			}
			dead = append(dead, e.ID)
			continue
		}
		retry = append(retry, e)
	}
	ackEntries(ctx, r.log, r.queue, r.metrics, r.cfg.MatchStream, r.cfg.Group, dead, false)

	if len(retry) > 0 {
		done, err := safeProcess(ctx, r.log, r.process, retry)
		if err != nil {
			r.log.WarnContext(ctx, "reclaimer - process - retry had failures", logging.Batch(len(retry)), logging.Err(err))
		}
		ids := successful(retry, done)
		r.metrics.WorkerEntries.WithLabelValues("failed").Add(float64(len(retry) - len(ids)))
		ackEntries(ctx, r.log, r.queue, r.metrics, r.cfg.MatchStream, r.cfg.Group, ids, r.cfg.DeleteAcked)
	}
	r.log.InfoContext(ctx, "reclaimer - run once - pass finished", slog.Int("reclaimed", len(entries)), slog.Int("dead_lettered", len(dead)))
	return len(entries), nil
}

func (r *Reclaimer) deadLetter(ctx context.Context, e domain.Entry, deliveries int64) error {
	_, err := r.queue.Enqueue(ctx, r.cfg.DeadLetterStream, domain.DeadLetter{
		EntryID:    e.ID,
		Stream:     r.cfg.MatchStream,
		Deliveries: deliveries,
		Data:       string(e.Payload),
		Reason:     fmt.Sprintf("exceeded %d retries", r.cfg.MaxRetries),
		DeadAt:     r.now().Unix(),
	})
	if err != nil {
		return err
	}
	r.metrics.WorkerEntries.WithLabelValues("dead_lettered").Inc()
	r.log.WarnContext(ctx, "reclaimer - dead letter - entry moved", logging.Entry(e.ID), logging.Stream(r.cfg.DeadLetterStream), slog.Int64("deliveries", deliveries))
	return nil
}
