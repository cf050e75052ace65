package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"gridmatch/internal/database"
)

// ImageRepository provides PostgreSQL-backed storage for indexed images.
type ImageRepository struct {
	pool *Pool
}

// NewImageRepository creates a new PostgreSQL image repository.
func NewImageRepository(pool *Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

// Save stores an image record (upsert).
func (r *ImageRepository) Save(ctx context.Context, img *database.StoredImage) error {
	query := `
		INSERT INTO images (id, descriptor, coarse_h, coarse_w, full_h, full_w, channels)
		VALUES ($1, $2::vector, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			descriptor = EXCLUDED.descriptor,
			coarse_h = EXCLUDED.coarse_h,
			coarse_w = EXCLUDED.coarse_w,
			full_h = EXCLUDED.full_h,
			full_w = EXCLUDED.full_w,
			channels = EXCLUDED.channels,
			created_at = NOW()
	`

	vec := pgvector.NewVector(img.Descriptor)
	_, err := r.pool.Exec(ctx, query, img.ID, vec, img.CoarseH, img.CoarseW, img.FullH, img.FullW, img.Channels)
	if err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

// Get retrieves an image by id, returns nil if not found.
func (r *ImageRepository) Get(ctx context.Context, id string) (*database.StoredImage, error) {
	query := `
		SELECT id, descriptor, coarse_h, coarse_w, full_h, full_w, channels, created_at
		FROM images
		WHERE id = $1
	`

	var img database.StoredImage
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&img.ID,
		&vec,
		&img.CoarseH,
		&img.CoarseW,
		&img.FullH,
		&img.FullW,
		&img.Channels,
		&img.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query image: %w", err)
	}

	img.Descriptor = vec.Slice()
	return &img, nil
}

// Has checks if an image exists.
func (r *ImageRepository) Has(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM images WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check image exists: %w", err)
	}
	return exists, nil
}

// Count returns the total number of indexed images.
func (r *ImageRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM images").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

// FindSimilar finds the images whose descriptors are nearest to the query,
// by cosine distance, together with the distances.
func (r *ImageRepository) FindSimilar(ctx context.Context, descriptor []float32, limit int) ([]database.StoredImage, []float64, error) {
	query := `
		SELECT id, descriptor, coarse_h, coarse_w, full_h, full_w, channels, created_at,
		       descriptor <=> $1::vector AS distance
		FROM images
		ORDER BY distance
		LIMIT $2
	`

	vec := pgvector.NewVector(descriptor)
	rows, err := r.pool.Query(ctx, query, vec, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar images: %w", err)
	}
	defer rows.Close()

	var images []database.StoredImage
	var distances []float64

	for rows.Next() {
		var img database.StoredImage
		var v pgvector.Vector
		var dist float64

		if err := rows.Scan(
			&img.ID,
			&v,
			&img.CoarseH,
			&img.CoarseW,
			&img.FullH,
			&img.FullW,
			&img.Channels,
			&img.CreatedAt,
			&dist,
		); err != nil {
			return nil, nil, fmt.Errorf("scan image: %w", err)
		}

		img.Descriptor = v.Slice()
		images = append(images, img)
		distances = append(distances, dist)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate images: %w", err)
	}

	return images, distances, nil
}

// Delete removes an image record.
func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM images WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// ListIDs returns all image ids in the index, sorted.
func (r *ImageRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT id FROM images ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query image ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image ids: %w", err)
	}
	return ids, nil
}

// Verify interface compliance
var _ database.ImageReader = (*ImageRepository)(nil)
var _ database.ImageWriter = (*ImageRepository)(nil)
