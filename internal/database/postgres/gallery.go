package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// ErrNoVectors is returned when ReplaceIdentity is given nothing usable to store.
var ErrNoVectors = errors.New("no embeddings to store")

// GalleryRepository stores enrolled embeddings in the gallery_embeddings table.
type GalleryRepository struct {
	pool *Pool
}

// NewGalleryRepository creates a new PostgreSQL gallery repository
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// ReplaceIdentity normalizes vectors and stores them for identity in a single
// transaction, removing previously stored vectors of the identity.
func (r *GalleryRepository) ReplaceIdentity(ctx context.Context, identity string, vectors [][]float32, source string) error {
	if identity == "" || constants.IsReservedIdentity(identity) {
		return fmt.Errorf("%w: identity %q is not allowed", gallery.ErrMalformed, identity)
	}

	normalized := make([][]float32, 0, len(vectors))
	dim := 0
	for i, v := range vectors {
		n := gallery.Normalize(v)
		if n == nil {
			return fmt.Errorf("%w: vector %d has zero or non-finite norm", gallery.ErrMalformed, i)
		}
		if dim == 0 {
			dim = len(n)
		} else if len(n) != dim {
			return fmt.Errorf("%w: vector %d has %d values, expected %d", gallery.ErrMalformed, i, len(n), dim)
		}
		normalized = append(normalized, n)
	}
	if len(normalized) == 0 {
		return ErrNoVectors
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM gallery_embeddings WHERE identity = $1", identity); err != nil {
		return fmt.Errorf("delete existing embeddings: %w", err)
	}

	for i, v := range normalized {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO gallery_embeddings (identity, embedding, dim, source)
			VALUES ($1, $2::vector, $3, $4)
		`, identity, pgvector.NewVector(v), dim, source)
		if err != nil {
			return fmt.Errorf("insert embedding %d of %s: %w", i, identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteIdentity removes all vectors of identity.
func (r *GalleryRepository) DeleteIdentity(ctx context.Context, identity string) (int, error) {
	res, err := r.pool.Exec(ctx, "DELETE FROM gallery_embeddings WHERE identity = $1", identity)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings of %s: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// LoadAll returns every stored vector in enrollment order, grouped by identity.
// Reserved identity labels and vectors of a dimension different from the first row
// are rejected.
func (r *GalleryRepository) LoadAll(ctx context.Context) ([]gallery.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity, embedding
		FROM gallery_embeddings
		ORDER BY identity, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	var entries []gallery.Entry
	dim := 0
	for rows.Next() {
		var identity string
		var vec pgvector.Vector
		if err := rows.Scan(&identity, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery row: %w", err)
		}
		if constants.IsReservedIdentity(identity) {
			return nil, fmt.Errorf("%w: identity %q is reserved", gallery.ErrMalformed, identity)
		}
		emb := gallery.Normalize(vec.Slice())
		if emb == nil {
			return nil, fmt.Errorf("%w: %s has a zero-length vector", gallery.ErrMalformed, identity)
		}
		if dim == 0 {
			dim = len(emb)
		} else if len(emb) != dim {
			return nil, fmt.Errorf("%w: %s has %d values, expected %d", gallery.ErrMalformed, identity, len(emb), dim)
		}
		entries = append(entries, gallery.Entry{Identity: identity, Embedding: emb})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery: %w", err)
	}
	return entries, nil
}

// Identities returns the number of stored vectors per identity.
func (r *GalleryRepository) Identities(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, "SELECT identity, COUNT(*) FROM gallery_embeddings GROUP BY identity")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var identity string
		var n int
		if err := rows.Scan(&identity, &n); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out[identity] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// Count returns the total number of stored vectors
func (r *GalleryRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM gallery_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// Nearest ranks vectors of the query's dimension by cosine similarity. The
// similarity is 1 minus the pgvector cosine distance.
func (r *GalleryRepository) Nearest(ctx context.Context, embedding []float32, limit int) ([]database.Neighbor, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := gallery.Normalize(embedding)
	if query == nil {
		return nil, fmt.Errorf("%w: query has zero or non-finite norm", gallery.ErrMalformed)
	}

	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, identity, 1 - (embedding <=> $1::vector) AS similarity
		FROM gallery_embeddings
		WHERE dim = $2
		ORDER BY embedding <=> $1::vector, id
		LIMIT $3
	`, pgvector.NewVector(query), len(query), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.Neighbor
	for rows.Next() {
		var n database.Neighbor
		if err := rows.Scan(&n.ID, &n.Identity, &n.Similarity); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return out, nil
}

var _ database.GalleryWriter = (*GalleryRepository)(nil)
