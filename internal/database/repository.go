package database

import (
	"context"

	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// GalleryReader provides read-only access to enrolled embeddings
type GalleryReader interface {
	// LoadAll returns every stored vector as gallery entries, ordered by identity
	LoadAll(ctx context.Context) ([]gallery.Entry, error)
	// Identities returns the number of stored vectors per identity
	Identities(ctx context.Context) (map[string]int, error)
	// Count returns the total number of stored vectors
	Count(ctx context.Context) (int, error)
	// Nearest ranks stored vectors by cosine similarity to embedding
	Nearest(ctx context.Context, embedding []float32, limit int) ([]Neighbor, error)
}

// GalleryWriter provides write access to enrolled embeddings
type GalleryWriter interface {
	GalleryReader

	// ReplaceIdentity stores vectors for identity, dropping what was stored before
	ReplaceIdentity(ctx context.Context, identity string, vectors [][]float32, source string) error

	// DeleteIdentity removes all vectors of identity and returns how many were removed
	DeleteIdentity(ctx context.Context, identity string) (int, error)
}

// AttendanceReader provides read-only access to the delivery audit trail
type AttendanceReader interface {
	// Recent returns the latest audited attempts, newest first
	Recent(ctx context.Context, limit int) ([]AttendanceEvent, error)
	// CountDelivered returns the number of successfully delivered records
	CountDelivered(ctx context.Context) (int, error)
}
