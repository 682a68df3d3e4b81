package contracts

import (
	"time"

	"stranger/internal/core/domain"
)

// Registry is the process-local table of live connections. Every push is
// non-blocking: a slow client never stalls the caller.
type Registry interface {
	// Register adds id with its outbound channel. It returns false, without
	// touching the existing entry, when id is already connected.
	Register(id string, out chan []byte) bool
	// Unregister removes id and closes its channel. Unknown ids are a no-op.
	Unregister(id string)
	// SendTo delivers ev to one client.
	SendTo(id string, ev domain.ServerEvent) error
	// Broadcast sends a broadcast event to every client except from and
	// returns how many received it.
	Broadcast(from, message string, ts time.Time) int
	List() []domain.ClientInfo
	OnlineCount() int
	IsOnline(id string) bool
}
