package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/internal/platform/metrics"
	"stranger/pkg/logging"
)

// ackTimeout bounds the final Ack of a batch that finished after shutdown began.
const ackTimeout = 5 * time.Second

var tracer = otel.Tracer("match-worker")

var (
	_ contracts.AsyncWorker = (*MatchWorker)(nil)
	_ contracts.AsyncWorker = (*Pool)(nil)
	_ contracts.AsyncWorker = (*Reclaimer)(nil)
)

// Options configures one consumer loop.
type Options struct {
	Stream      string
	Group       string
	Consumer    string
	BatchSize   int
	Block       time.Duration
	Backoff     time.Duration
	DeleteAcked bool
}

// MatchWorker is one competing consumer: Consume, process, then Ack exactly
// the entries the processing function reports as done.
type MatchWorker struct {
	log     *slog.Logger
	queue   contracts.StreamQueue
	process contracts.ProcessFunc
	opts    Options
	metrics *metrics.Metrics
}

func NewMatchWorker(
	log *slog.Logger,
	queue contracts.StreamQueue,
	process contracts.ProcessFunc,
	opts Options,
	m *metrics.Metrics,
) *MatchWorker {
	return &MatchWorker{
		log:     log.With(logging.Consumer(opts.Consumer), logging.Stream(opts.Stream)),
		queue:   queue,
		process: process,
		opts:    opts,
		metrics: m,
	}
}

// Run loops until ctx is cancelled. It never returns an error for transport
// trouble: timeouts re-poll at once, other failures wait Backoff first.
func (w *MatchWorker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker - run - consumer started")
	for {
		if ctx.Err() != nil {
			w.log.InfoContext(ctx, "worker - run - consumer stopped")
			return nil
		}
		entries, err := w.queue.Consume(ctx, w.opts.Stream, w.opts.Group, w.opts.Consumer, w.opts.BatchSize, w.opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, domain.ErrTransportTimeout) {
				w.log.DebugContext(ctx, "worker - consume - poll timed out")
				continue
			}
			w.log.ErrorContext(ctx, "worker - consume - transport failed, backing off", logging.Err(err), slog.Duration("backoff", w.opts.Backoff))
			sleep(ctx, w.opts.Backoff)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		w.handle(ctx, entries)
	}
}

// handle processes one batch and acks the successful subset.
func (w *MatchWorker) handle(ctx context.Context, entries []domain.Entry) {
	ctx, span := tracer.Start(ctx, "MatchWorker.handle", trace.WithAttributes(
		attribute.String("stream", w.opts.Stream),
		attribute.Int("batch.size", len(entries)),
	))
	defer span.End()
	start := time.Now()
	w.metrics.WorkerEntries.WithLabelValues("consumed").Add(float64(len(entries)))

	done, err := safeProcess(ctx, w.log, w.process, entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		w.log.ErrorContext(ctx, "worker - process - batch had failures", logging.Batch(len(entries)), logging.Err(err))
	}
	ids := successful(entries, done)
	w.metrics.WorkerEntries.WithLabelValues("failed").Add(float64(len(entries) - len(ids)))
	ackEntries(ctx, w.log, w.queue, w.metrics, w.opts.Stream, w.opts.Group, ids, w.opts.DeleteAcked)
	w.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	w.log.DebugContext(ctx, "worker - handle - batch finished", logging.Batch(len(entries)), slog.Int("acked", len(ids)), logging.Elapsed(time.Since(start)))
}

// safeProcess runs process and turns a panic into an empty success set, so
// the whole batch stays pending for the reclaimer.
func safeProcess(ctx context.Context, log *slog.Logger, process contracts.ProcessFunc, entries []domain.Entry) (done []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "worker - process - panic recovered", slog.Any("panic", r), logging.Batch(len(entries)))
			done, err = nil, fmt.Errorf("process panic: %v", r)
		}
	}()
	return process(ctx, entries)
}

// successful keeps the ids of done that belong to entries, in batch order and
// without duplicates.
func successful(entries []domain.Entry, done []string) []string {
	if len(done) == 0 {
		return nil
	}
	want := make(map[string]bool, len(done))
	for _, id := range done {
		want[id] = true
	}
	ids := make([]string, 0, len(done))
	for _, e := range entries {
		if want[e.ID] {
			ids = append(ids, e.ID)
			delete(want, e.ID)
		}
	}
	return ids
}

// ackEntries acks ids on a context that survives shutdown, so a processed
// batch is not redelivered just because the worker is stopping.
func ackEntries(
	ctx context.Context,
	log *slog.Logger,
	queue contracts.StreamQueue,
	m *metrics.Metrics,
	stream, group string,
	ids []string,
	deleteAcked bool,
) {
	if len(ids) == 0 {
		return
	}
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := queue.Ack(ackCtx, stream, group, ids...); err != nil {
		log.ErrorContext(ctx, "worker - ack - acknowledge failed", logging.Group(group), slog.Int("count", len(ids)), logging.Err(err))
		return
	}
	m.WorkerEntries.WithLabelValues("acked").Add(float64(len(ids)))
	if !deleteAcked {
		return
	}
	if d, ok := queue.(contracts.StreamDeleter); ok {
		// the entries are already processed and ACKed.
		if err := d.Delete(ackCtx, stream, ids...); err != nil {
			log.WarnContext(ctx, "worker - ack - delete acked entries failed", logging.Err(err))
		}
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
