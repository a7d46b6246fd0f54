package index

import (
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// Flat is an exact index that scans every stored vector.
type Flat struct {
	vectors [][]float32
	labels  []string
	dim     int
}

// NewFlat stores the entries in order. Embeddings are expected to be unit length
// and are normalized again when they are not.
func NewFlat(entries []gallery.Entry) *Flat {
	f := &Flat{
		vectors: make([][]float32, 0, len(entries)),
		labels:  make([]string, 0, len(entries)),
	}
	for _, e := range entries {
		v := gallery.Normalize(e.Embedding)
		if v == nil {
			continue
		}
		if f.dim == 0 {
			f.dim = len(v)
		}
		if len(v) != f.dim {
			continue
		}
		f.vectors = append(f.vectors, v)
		f.labels = append(f.labels, e.Identity)
	}
	return f
}

// Query returns the label of the most similar stored vector. On ties the entry
// that was added first wins.
func (f *Flat) Query(embedding []float32) Match {
	q := prepareQuery(embedding, f.dim)
	if q == nil {
		return NoMatch
	}

	best := -1
	bestSim := 0.0
	for i, v := range f.vectors {
		sim := Dot(q, v)
		if best == -1 || sim > bestSim {
			best = i
			bestSim = sim
		}
	}
	if best == -1 {
		return NoMatch
	}
	return Match{Identity: f.labels[best], Similarity: bestSim}
}

func (f *Flat) Len() int { return len(f.vectors) }

func (f *Flat) Dim() int { return f.dim }
