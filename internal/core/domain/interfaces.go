package domain

import (
	"context"
)

// MatchRepository keeps the history of completed pairings.
type MatchRepository interface {
	SaveMatch(ctx context.Context, m *Match) error
	// RecentMatches returns the latest pairings a user took part in, newest first.
	RecentMatches(ctx context.Context, userID string, limit int) ([]Match, error)
}
