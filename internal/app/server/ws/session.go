package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/pkg/logging"
)

type State int32

const (
	StateUpgrading State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUpgrading:
		return "upgrading"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// FrameHandler consumes inbound frames. Errors are reported per frame and
// never end the session.
type FrameHandler interface {
	HandleFrame(ctx context.Context, sender string, frameType int, data []byte) error
}

// Session drives one registered connection: a writer draining the outbound
// channel and a reader feeding the handler. Whichever stops first ends both.
type Session struct {
	id         string
	conn       *Conn
	out        chan []byte
	registry   contracts.Registry
	handler    FrameHandler
	pingPeriod time.Duration
	log        *slog.Logger

	state atomic.Int32
	once  sync.Once
}

// NewSession expects id to be registered already with out as its channel.
// log should already carry the client id.
func NewSession(
	log *slog.Logger,
	id string,
	conn *Conn,
	out chan []byte,
	registry contracts.Registry,
	handler FrameHandler,
	pingPeriod time.Duration,
) *Session {
	return &Session{
		id:         id,
		conn:       conn,
		out:        out,
		registry:   registry,
		handler:    handler,
		pingPeriod: pingPeriod,
		log:        log,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Run blocks until the connection is finished. The client is unregistered
// exactly once and the socket is closed before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.state.Store(int32(StateActive))
	s.log.InfoContext(ctx, "session - run - active")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.finish()
		return s.guard("writer", func() error { return s.writeLoop(gctx) })
	})
	g.Go(func() error {
		defer s.finish()
		return s.guard("reader", func() error { return s.readLoop(gctx) })
	})
	err := g.Wait()
	s.state.Store(int32(StateClosed))
	s.log.InfoContext(ctx, "session - run - closed", logging.Err(err))
	return err
}

// finish moves the session to Closing. Unregister closes out, which stops the
// writer; closing the socket stops the reader.
func (s *Session) finish() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosing))
		s.registry.Unregister(s.id)
		s.conn.Close()
	})
}

func (s *Session) guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session - "+name+" - panic recovered", slog.Any("panic", r))
			err = fmt.Errorf("%s panic: %v", name, r)
		}
	}()
	return fn()
}

func (s *Session) writeLoop(ctx context.Context) error {
	hello, err := domain.EncodeEvent(domain.ConnectedEvent{
		ClientID:    s.id,
		OnlineCount: s.registry.OnlineCount(),
	})
	if err != nil {
		return err
	}
	if err := s.conn.WriteText(hello); err != nil {
		return nil
	}

	var tick <-chan time.Time
	if s.pingPeriod > 0 {
		ticker := time.NewTicker(s.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case data, ok := <-s.out:
			if !ok {
				s.conn.WriteClose()
				return nil
			}
			if err := s.conn.WriteText(data); err != nil {
				s.log.DebugContext(ctx, "session - write - socket write failed", logging.Err(err))
				return nil
			}
		case <-tick:
			if err := s.conn.WritePing(); err != nil {
				s.log.DebugContext(ctx, "session - write - ping failed", logging.Err(err))
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		mt, data, err := s.conn.ReadFrame()
		if err != nil {
			// Check if it's a clean closure or an error
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WarnContext(ctx, "session - read - unexpected close", logging.Err(err))
			}
			return nil
		}
		// Frame errors are logged by the handler and leave the session active.
		_ = s.handler.HandleFrame(ctx, s.id, mt, data)
	}
}
