package postgres

import (
	"context"
	"database/sql"

	"stranger/internal/core/domain"
)

type MatchRepo struct {
	db *sql.DB
}

func NewMatchRepo(db *sql.DB) *MatchRepo {
	return &MatchRepo{db: db}
}

/*
	type MatchRepository interface {
		SaveMatch(ctx context.Context, m *Match) error
		RecentMatches(ctx context.Context, userID string, limit int) ([]Match, error)
	}
*/

func (r *MatchRepo) SaveMatch(ctx context.Context, m *domain.Match) error {
	return WithTx(ctx, r.db, func(txCtx context.Context) error {
		exec := GetExecutor(txCtx, r.db)
		// Redelivered entries may save the same match twice.
		if _, err := exec.ExecContext(txCtx,
			`INSERT INTO matches (id, game_type, user_a, user_b, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.GameType, m.UserA, m.UserB, m.CreatedAt,
		); err != nil {
			return err
		}
		for _, user := range []string{m.UserA, m.UserB} {
			if _, err := exec.ExecContext(txCtx,
				`INSERT INTO match_players (match_id, user_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING`,
				m.ID, user,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *MatchRepo) RecentMatches(ctx context.Context, userID string, limit int) ([]domain.Match, error) {
	query := `
		SELECT m.id, m.game_type, m.user_a, m.user_b, m.created_at
		FROM match_players p
		JOIN matches m ON m.id = p.match_id
		WHERE p.user_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2`
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var m domain.Match
		if err := rows.Scan(&m.ID, &m.GameType, &m.UserA, &m.UserB, &m.CreatedAt); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
