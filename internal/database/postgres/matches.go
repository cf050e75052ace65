package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gridmatch/internal/database"
)

// MatchRepository provides PostgreSQL-backed storage for match results.
type MatchRepository struct {
	pool *Pool
}

// NewMatchRepository creates a new PostgreSQL match repository.
func NewMatchRepository(pool *Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// SaveMatch stores one pair's match summary and correspondences in a single
// transaction. A fresh pair id is assigned when the match does not carry one;
// re-saving the same image pair replaces the previous result.
func (r *MatchRepository) SaveMatch(ctx context.Context, match *database.StoredMatch, points []database.MatchPoint) error {
	if match.PairID == "" {
		match.PairID = uuid.NewString()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Replace any previous result for the pair.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM matches WHERE image0 = $1 AND image1 = $2",
		match.ID0, match.ID1); err != nil {
		return fmt.Errorf("delete previous match: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO matches (pair_id, image0, image1, mode, match_count, mean_confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, match.PairID, match.ID0, match.ID1, match.Mode, match.MatchCount, match.MeanConfidence); err != nil {
		return fmt.Errorf("insert match: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO match_points (pair_id, i, j, x0, y0, x1, y1, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, match.PairID, p.I, p.J, p.X0, p.Y0, p.X1, p.Y1, p.Confidence); err != nil {
			return fmt.Errorf("insert match point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetMatch retrieves a match and its correspondences by pair id. Returns
// (nil, nil, nil) when the pair is unknown.
func (r *MatchRepository) GetMatch(ctx context.Context, pairID string) (*database.StoredMatch, []database.MatchPoint, error) {
	var m database.StoredMatch
	err := r.pool.QueryRow(ctx, `
		SELECT pair_id, image0, image1, mode, match_count, mean_confidence, created_at
		FROM matches
		WHERE pair_id = $1
	`, pairID).Scan(&m.PairID, &m.ID0, &m.ID1, &m.Mode, &m.MatchCount, &m.MeanConfidence, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query match: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT pair_id, i, j, x0, y0, x1, y1, confidence
		FROM match_points
		WHERE pair_id = $1
		ORDER BY i, j
	`, pairID)
	if err != nil {
		return nil, nil, fmt.Errorf("query match points: %w", err)
	}
	defer rows.Close()

	var points []database.MatchPoint
	for rows.Next() {
		var p database.MatchPoint
		if err := rows.Scan(&p.PairID, &p.I, &p.J, &p.X0, &p.Y0, &p.X1, &p.Y1, &p.Confidence); err != nil {
			return nil, nil, fmt.Errorf("scan match point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate match points: %w", err)
	}

	return &m, points, nil
}

// FindMatch looks a match up by its image pair, in either order. Returns nil
// when the pair has not been matched yet.
func (r *MatchRepository) FindMatch(ctx context.Context, id0, id1 string) (*database.StoredMatch, error) {
	var m database.StoredMatch
	err := r.pool.QueryRow(ctx, `
		SELECT pair_id, image0, image1, mode, match_count, mean_confidence, created_at
		FROM matches
		WHERE (image0 = $1 AND image1 = $2) OR (image0 = $2 AND image1 = $1)
	`, id0, id1).Scan(&m.PairID, &m.ID0, &m.ID1, &m.Mode, &m.MatchCount, &m.MeanConfidence, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query match by pair: %w", err)
	}
	return &m, nil
}

// ListMatches returns every stored match involving the given image, newest
// first.
func (r *MatchRepository) ListMatches(ctx context.Context, imageID string) ([]database.StoredMatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pair_id, image0, image1, mode, match_count, mean_confidence, created_at
		FROM matches
		WHERE image0 = $1 OR image1 = $1
		ORDER BY created_at DESC
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var matches []database.StoredMatch
	for rows.Next() {
		var m database.StoredMatch
		if err := rows.Scan(&m.PairID, &m.ID0, &m.ID1, &m.Mode, &m.MatchCount, &m.MeanConfidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

// DeleteMatch removes a match and its points (cascade).
func (r *MatchRepository) DeleteMatch(ctx context.Context, pairID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM matches WHERE pair_id = $1", pairID); err != nil {
		return fmt.Errorf("delete match: %w", err)
	}
	return nil
}

// Count returns the total number of stored matches.
func (r *MatchRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM matches").Scan(&count); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ database.MatchReader = (*MatchRepository)(nil)
var _ database.MatchWriter = (*MatchRepository)(nil)
