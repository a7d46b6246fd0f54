// Package index answers "which gallery identity is most similar to this embedding".
package index

import (
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// Backend names accepted by Build.
const (
	BackendFlat = "flat"
	BackendHNSW = "hnsw"
)

// Match is the best gallery hit for a query embedding.
type Match struct {
	Identity   string  `json:"identity"`
	Similarity float64 `json:"similarity"`
}

// NoMatch is returned by every backend when the index is empty or the query is unusable.
var NoMatch = Match{Identity: constants.UnknownIdentity, Similarity: 0}

// Index is a read-only nearest-identity lookup built once from gallery entries.
type Index interface {
	// Query returns the most similar entry. It never fails; an empty index or a
	// query of the wrong dimension yields NoMatch.
	Query(embedding []float32) Match
	// Len returns the number of indexed entries.
	Len() int
	// Dim returns the embedding dimension, 0 when empty.
	Dim() int
}

// Build constructs the configured backend from entries.
func Build(entries []gallery.Entry, backend string, opts ...HNSWOption) (Index, error) {
	switch backend {
	case "", BackendFlat:
		return NewFlat(entries), nil
	case BackendHNSW:
		return NewHNSW(entries, opts...), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}

// prepareQuery normalizes the query, returning nil when it cannot be compared
// against vectors of dimension dim.
func prepareQuery(embedding []float32, dim int) []float32 {
	if dim == 0 || len(embedding) != dim {
		return nil
	}
	return gallery.Normalize(embedding)
}
