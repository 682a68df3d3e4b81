package domain

import (
	"time"

	"github.com/google/uuid"
)

// Queue stream names and the group shared by every matchmaking worker.
const (
	MatchStream      = "match:request:stream"
	DeadLetterStream = "match:dead_letter:stream"
	MatchGroup       = "match-consumer-group"
	MatchPoolPrefix  = "match:pool:waiting:"
	MaxRetryCount    = 3
	MatchTimeout     = 30 * time.Second
)

// ReclaimStart is the cursor of a reclaim scan from the head of the pending list.
const ReclaimStart = "0-0"

// Entry is one record read from a stream. Payload is the raw value of the
// entry's "data" field.
type Entry struct {
	ID      string
	Payload []byte
}

// Match is a completed pairing.
type Match struct {
	ID        uuid.UUID
	UserA     string
	UserB     string
	GameType  string
	CreatedAt time.Time
}

func NewMatch(userA, userB, gameType string) *Match {
	return &Match{
		ID:        uuid.New(),
		UserA:     userA,
		UserB:     userB,
		GameType:  gameType,
		CreatedAt: time.Now(),
	}
}

// DeadLetter wraps an entry that ran out of delivery attempts.
type DeadLetter struct {
	EntryID    string `json:"entry_id"`
	Stream     string `json:"stream"`
	Deliveries int64  `json:"deliveries"`
	Data       string `json:"data"`
	Reason     string `json:"reason"`
	DeadAt     int64  `json:"dead_at"`
}
