package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/internal/platform/metrics"
)

var _ contracts.Registry = (*Registry)(nil)

type connection struct {
	out         chan []byte
	connectedAt time.Time
}

type Registry struct {
	mu      sync.RWMutex
	clients map[string]*connection // client_id → connection
	closed  bool
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		clients: make(map[string]*connection),
		log:     log,
		metrics: m,
	}
}

func (h *Registry) Register(id string, out chan []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, ok := h.clients[id]; ok {
		h.log.Warn("registry - register - duplicate client id", "client_id", id)
		return false
	}
	h.clients[id] = &connection{out: out, connectedAt: time.Now()}
	h.metrics.OnlineClients.Set(float64(len(h.clients)))
	h.log.Info("registry - register - client connected", "client_id", id, "online", len(h.clients))
	return true
}

func (h *Registry) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	// Pushes happen under the read lock, so nobody can be sending on out now.
	close(c.out)
	h.metrics.OnlineClients.Set(float64(len(h.clients)))
	h.log.Info("registry - unregister - client disconnected", "client_id", id, "online", len(h.clients))
}

func (h *Registry) SendTo(id string, ev domain.ServerEvent) error {
	data, err := domain.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return domain.ErrRegistryClosed
	}
	c, ok := h.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotOnline, id)
	}
	return h.push(id, c, data)
}

func (h *Registry) Broadcast(from, message string, ts time.Time) int {
	data, err := domain.EncodeEvent(domain.BroadcastEvent{
		From:      from,
		Message:   message,
		Timestamp: ts.Unix(),
	})
	if err != nil {
		h.log.Error("registry - broadcast - encode failed", "from", from, "err", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for id, c := range h.clients {
		if id == from {
			continue
		}
		if err := h.push(id, c, data); err == nil {
			delivered++
		}
	}
	return delivered
}

// push must be called with at least the read lock held.
func (h *Registry) push(id string, c *connection, data []byte) error {
	select {
	case c.out <- data:
		return nil
	default:
		h.metrics.DeliveryFailures.Inc()
		h.log.Warn("registry - push - client buffer full, dropping event", "client_id", id)
		return fmt.Errorf("%w: %s buffer full", domain.ErrDeliveryFailed, id)
	}
}

func (h *Registry) List() []domain.ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]domain.ClientInfo, 0, len(h.clients))
	for id, c := range h.clients {
		list = append(list, domain.ClientInfo{ID: id, ConnectedAt: c.connectedAt.Unix()})
	}
	return list
}

func (h *Registry) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Registry) IsOnline(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

// Close refuses further registrations and releases every channel. Writers
// draining those channels see them closed and finish their sessions.
func (h *Registry) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		close(c.out)
		delete(h.clients, id)
	}
	h.metrics.OnlineClients.Set(0)
	h.log.Info("registry - close - all clients released")
}
