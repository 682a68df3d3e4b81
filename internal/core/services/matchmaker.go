package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/pkg/logging"
)

// maxPairAttempts bounds how many stale waiters one request may skip.
const maxPairAttempts = 16

const expiredMessage = "match request expired"

// Matchmaker is the processing function behind the match stream. It pairs
// requests through a shared waiting pool and notifies both sides.
type Matchmaker struct {
	pool     contracts.WaitingPool
	registry contracts.Registry
	repo     domain.MatchRepository // nil disables match history
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewMatchmaker builds a Matchmaker. Requests older than timeout are dropped
// with an error event; timeout <= 0 keeps every request.
func NewMatchmaker(
	log *slog.Logger,
	pool contracts.WaitingPool,
	registry contracts.Registry,
	repo domain.MatchRepository,
	timeout time.Duration,
) *Matchmaker {
	return &Matchmaker{
		pool:     pool,
		registry: registry,
		repo:     repo,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// Process handles a batch and returns the ids that are done. Entries that
// cannot be decoded or hit a pool failure are left out so they stay pending.
func (m *Matchmaker) Process(ctx context.Context, entries []domain.Entry) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Matchmaker.Process", trace.WithAttributes(
		attribute.Int("batch.size", len(entries)),
	))
	defer span.End()

	done := make([]string, 0, len(entries))
	var errs []error
	for _, e := range entries {
		if err := m.processOne(ctx, e); err != nil {
			m.log.WarnContext(ctx, "matchmaker - process - entry failed", logging.Entry(e.ID), logging.Err(err))
			errs = append(errs, fmt.Errorf("entry %s: %w", e.ID, err))
			continue
		}
		done = append(done, e.ID)
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return done, err
}

func (m *Matchmaker) processOne(ctx context.Context, e domain.Entry) error {
	var req domain.MatchRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: match request without user", domain.ErrDecode)
	}
	if !m.registry.IsOnline(req.UserID) {
		// An earlier request may have parked this user.
		if err := m.pool.Leave(ctx, req.Bucket(), req.UserID); err != nil {
			m.log.WarnContext(ctx, "matchmaker - process - leave pool failed", logging.Client(req.UserID), logging.Err(err))
		}
		m.log.InfoContext(ctx, "matchmaker - process - requester offline, dropping", logging.Entry(e.ID), logging.Client(req.UserID))
		return nil
	}
	if m.timeout > 0 && req.Timestamp > 0 && m.now().Sub(time.Unix(req.Timestamp, 0)) > m.timeout {
		_ = m.registry.SendTo(req.UserID, domain.ErrorEvent{Message: expiredMessage})
		m.log.InfoContext(ctx, "matchmaker - process - request expired", logging.Entry(e.ID), logging.Client(req.UserID))
		return nil
	}

	bucket := req.Bucket()
	for attempt := 0; attempt < maxPairAttempts; attempt++ {
		partner, matched, err := m.pool.Pair(ctx, bucket, req.UserID)
		if err != nil {
			return err
		}
		if !matched {
			m.log.DebugContext(ctx, "matchmaker - process - waiting for partner", logging.Client(req.UserID), slog.String("bucket", bucket))
			return nil
		}
		if !m.registry.IsOnline(partner) {
			m.log.DebugContext(ctx, "matchmaker - process - discarded stale waiter", logging.Peer(partner), slog.String("bucket", bucket))
			continue
		}
		m.announce(ctx, domain.NewMatch(partner, req.UserID, bucket))
		return nil
	}
	return fmt.Errorf("no live partner for %s after %d stale waiters", req.UserID, maxPairAttempts)
}

func (m *Matchmaker) announce(ctx context.Context, match *domain.Match) {
	ts := match.CreatedAt.Unix()
	for _, side := range [][2]string{{match.UserA, match.UserB}, {match.UserB, match.UserA}} {
		err := m.registry.SendTo(side[0], domain.MatchedEvent{
			MatchID:   match.ID.String(),
			Partner:   side[1],
			GameType:  match.GameType,
			Timestamp: ts,
		})
		if err != nil {
			m.log.WarnContext(ctx, "matchmaker - announce - notify failed", logging.Client(side[0]), logging.Err(err))
		}
	}
	m.log.InfoContext(ctx, "matchmaker - announce - matched",
		slog.String("match_id", match.ID.String()),
		slog.String("user_a", match.UserA),
		slog.String("user_b", match.UserB),
		slog.String("game_type", match.GameType),
	)
	if m.repo == nil {
		return
	}
	if err := m.repo.SaveMatch(ctx, match); err != nil {
		m.log.ErrorContext(ctx, "matchmaker - announce - save match failed", slog.String("match_id", match.ID.String()), logging.Err(err))
	}
}
