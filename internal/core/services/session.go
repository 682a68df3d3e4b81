package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/internal/platform/metrics"
	"stranger/pkg/logging"
)

const (
	matchingMessage    = "matching..."
	matchUnavailable   = "matchmaking unavailable"
	deliveryFailedText = "message to %s could not be delivered"
)

var tracer = otel.Tracer("session-service")

var _ ISessionEngine = (*SessionEngine)(nil)

type ISessionEngine interface {
	// HandleFrame decodes one inbound websocket frame from sender and
	// dispatches it. Every returned error leaves the session usable.
	HandleFrame(ctx context.Context, sender string, frameType int, data []byte) error
	// Dispatch routes an already decoded request.
	Dispatch(ctx context.Context, sender string, req domain.ClientRequest) error
}

// SessionEngine turns client requests into registry pushes or queue appends.
type SessionEngine struct {
	registry    contracts.Registry
	queue       contracts.StreamQueue
	matchStream string
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
}

func NewSessionEngine(
	log *slog.Logger,
	registry contracts.Registry,
	queue contracts.StreamQueue,
	matchStream string,
	m *metrics.Metrics,
) *SessionEngine {
	return &SessionEngine{
		registry:    registry,
		queue:       queue,
		matchStream: matchStream,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

func (s *SessionEngine) HandleFrame(ctx context.Context, sender string, frameType int, data []byte) error {
	if frameType != websocket.TextMessage {
		s.log.WarnContext(ctx, "session - handle frame - unsupported frame type", logging.Client(sender), logging.Frame(frameType))
		return fmt.Errorf("%w: %d", domain.ErrUnsupportedFrameType, frameType)
	}
	req, err := domain.DecodeRequest(data)
	if err != nil {
		s.log.WarnContext(ctx, "session - handle frame - decode failed", logging.Client(sender), logging.Err(err))
		return err
	}
	return s.Dispatch(ctx, sender, req)
}

func (s *SessionEngine) Dispatch(ctx context.Context, sender string, req domain.ClientRequest) error {
	ctx, span := tracer.Start(ctx, "SessionEngine.Dispatch",
		trace.WithAttributes(
			attribute.String("client.id", sender),
			attribute.String("request.type", req.RequestType()),
		),
	)
	defer span.End()
	s.metrics.Frames.WithLabelValues(req.RequestType()).Inc()

	var err error
	switch r := req.(type) {
	case domain.PrivateRequest:
		err = s.private(ctx, sender, r)
	case domain.ListRequest:
		err = s.reply(sender, domain.ListEvent{Clients: s.registry.List()})
	case domain.PingRequest:
		err = s.reply(sender, domain.PongEvent{})
	case domain.BroadcastRequest:
		err = s.broadcast(ctx, sender, r)
	case domain.MatchRequest:
		err = s.match(ctx, sender, r)
	default:
		err = fmt.Errorf("%w: %T", domain.ErrDecode, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *SessionEngine) private(ctx context.Context, sender string, r domain.PrivateRequest) error {
	if r.To == sender {
		_ = s.reply(sender, domain.ErrorEvent{Message: domain.ErrSelfTarget.Error()})
		return domain.ErrSelfTarget
	}
	err := s.registry.SendTo(r.To, domain.PrivateEvent{
		From:      sender,
		Message:   r.Message,
		Timestamp: s.now().Unix(),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotOnline):
		_ = s.reply(sender, domain.ErrorEvent{Message: fmt.Sprintf("user %s is not online", r.To)})
	default:
		s.log.WarnContext(ctx, "session - private - delivery failed", logging.Client(sender), logging.Peer(r.To), logging.Err(err))
		_ = s.reply(sender, domain.ErrorEvent{Message: fmt.Sprintf(deliveryFailedText, r.To)})
	}
	return err
}

func (s *SessionEngine) broadcast(ctx context.Context, sender string, r domain.BroadcastRequest) error {
	now := s.now()
	// Echo first so the sender sees its own message ahead of any reply.
	if err := s.reply(sender, domain.BroadcastEvent{
		From:      sender,
		Message:   r.Message,
		Timestamp: now.Unix(),
	}); err != nil {
		s.log.WarnContext(ctx, "session - broadcast - echo failed", logging.Client(sender), logging.Err(err))
	}
	n := s.registry.Broadcast(sender, r.Message, now)
	s.log.DebugContext(ctx, "session - broadcast - delivered", logging.Client(sender), slog.Int("recipients", n))
	return nil
}

func (s *SessionEngine) match(ctx context.Context, sender string, r domain.MatchRequest) error {
	// The connection identity and server clock are authoritative, whatever
	// the client claims.
	r.UserID = sender
	r.Timestamp = s.now().Unix()
	id, err := s.queue.Enqueue(ctx, s.matchStream, r)
	if err != nil {
		s.metrics.Enqueued.WithLabelValues(s.matchStream, "failed").Inc()
		s.log.ErrorContext(ctx, "session - match - enqueue failed", logging.Client(sender), logging.Stream(s.matchStream), logging.Err(err))
		_ = s.reply(sender, domain.ErrorEvent{Message: matchUnavailable})
		return err
	}
	s.metrics.Enqueued.WithLabelValues(s.matchStream, "ok").Inc()
	s.log.InfoContext(ctx, "session - match - enqueue success", logging.Client(sender), logging.Entry(id), slog.String("game_type", r.Bucket()))
	return s.reply(sender, domain.SystemEvent{Message: matchingMessage})
}

func (s *SessionEngine) reply(sender string, ev domain.ServerEvent) error {
	return s.registry.SendTo(sender, ev)
}
