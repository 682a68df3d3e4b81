package handlers

import (
	"context"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stranger/internal/app/server/ws"
	"stranger/internal/config"
	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/pkg/logging"
)

type WSHandler struct {
	registry contracts.Registry
	engine   ws.FrameHandler
	cfg      config.SessionConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(registry contracts.Registry, engine ws.FrameHandler, cfg config.SessionConfig) *WSHandler {
	h := &WSHandler{
		registry: registry,
		engine:   engine,
		cfg:      cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows everything when no origins are configured. Requests
// without an Origin header are not from a browser and always pass.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.AllowOrigins, origin)
}

func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	clientID := r.URL.Query().Get(h.cfg.KeyParam)
	if clientID == "" {
		log.WarnContext(r.Context(), "ws handler - connect - missing client key")
		http.Error(w, "missing "+h.cfg.KeyParam+" query parameter", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("client.id", clientID))

	// Claim the identity before upgrading so a duplicate gets a plain HTTP answer.
	out := make(chan []byte, h.cfg.SendBuffer)
	if !h.registry.Register(clientID, out) {
		log.WarnContext(r.Context(), "ws handler - connect - duplicate client id", logging.Client(clientID))
		http.Error(w, domain.ErrDuplicateIdentity.Error(), http.StatusConflict)
		return
	}
	ctx, log := logging.With(r.Context(), logging.Client(clientID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(ctx, "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		h.registry.Unregister(clientID)
		return
	}
	log.InfoContext(ctx, "ws handler - ws connection established")

	// The session outlives the request's cancellation but keeps its values.
	sessionCtx := context.WithoutCancel(ctx)
	session := ws.NewSession(log, clientID, ws.NewConn(conn, h.cfg), out, h.registry, h.engine, h.cfg.PingPeriod)
	_ = session.Run(sessionCtx)
}
