// Package database defines the storage types and interfaces for indexed
// images and persisted match results.
package database

import (
	"context"
	"time"
)

// StoredImage is an indexed image: its whole-image descriptor for similarity
// search plus the grid metadata needed to sanity-check feature files against
// the database.
type StoredImage struct {
	ID         string
	Descriptor []float32
	CoarseH    int
	CoarseW    int
	FullH      int
	FullW      int
	Channels   int
	CreatedAt  time.Time
}

// StoredMatch is the persisted summary of one matched image pair.
type StoredMatch struct {
	PairID         string // UUID assigned at save time
	ID0            string
	ID1            string
	Mode           string // assignment scheme used
	MatchCount     int
	MeanConfidence float64
	CreatedAt      time.Time
}

// MatchPoint is one correspondence of a stored match, in full-resolution
// pixel coordinates.
type MatchPoint struct {
	PairID     string
	I          int
	J          int
	X0, Y0     float32
	X1, Y1     float32
	Confidence float32
}

// ImageReader provides read access to indexed images.
type ImageReader interface {
	Get(ctx context.Context, id string) (*StoredImage, error)
	Count(ctx context.Context) (int, error)
	FindSimilar(ctx context.Context, descriptor []float32, limit int) ([]StoredImage, []float64, error)
}

// ImageWriter provides write access to indexed images.
type ImageWriter interface {
	Save(ctx context.Context, img *StoredImage) error
	Delete(ctx context.Context, id string) error
}

// MatchReader provides read access to persisted matches.
type MatchReader interface {
	GetMatch(ctx context.Context, pairID string) (*StoredMatch, []MatchPoint, error)
	ListMatches(ctx context.Context, imageID string) ([]StoredMatch, error)
}

// MatchWriter provides write access to persisted matches.
type MatchWriter interface {
	SaveMatch(ctx context.Context, match *StoredMatch, points []MatchPoint) error
	DeleteMatch(ctx context.Context, pairID string) error
}
