package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// HNSW graph parameters.
const (
	HNSWMaxNeighbors = 16
	HNSWEfSearch     = 64
)

const hnswMetadataVersion = 1

// ErrStaleIndex is returned by LoadHNSW when the persisted graph was built from a
// different gallery.
var ErrStaleIndex = errors.New("persisted HNSW index does not match gallery")

// HNSWMetadata is stored next to a persisted graph to detect staleness.
type HNSWMetadata struct {
	Entries     int       `json:"entries"`
	Dim         int       `json:"dim"`
	Fingerprint uint64    `json:"fingerprint"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}

// HNSW is an approximate index. Candidates found by the graph are re-ranked with
// exact cosine similarity so scores match the flat index.
type HNSW struct {
	graph      *hnsw.Graph[int]
	vectors    [][]float32 // keyed by graph node key
	labels     []string
	dim        int
	candidates int
	maxNeigh   int
	mu         sync.RWMutex
}

// HNSWOption configures an HNSW index.
type HNSWOption func(*HNSW)

// WithCandidates sets how many graph neighbors are re-ranked per query.
func WithCandidates(k int) HNSWOption {
	return func(h *HNSW) {
		if k > 0 {
			h.candidates = k
		}
	}
}

// WithMaxNeighbors sets the graph's M parameter.
func WithMaxNeighbors(m int) HNSWOption {
	return func(h *HNSW) {
		if m > 1 {
			h.maxNeigh = m
		}
	}
}

func newHNSW(entries []gallery.Entry, opts []HNSWOption) *HNSW {
	flat := NewFlat(entries)
	h := &HNSW{
		vectors:    flat.vectors,
		labels:     flat.labels,
		dim:        flat.dim,
		candidates: constants.DefaultHNSWCandidates,
		maxNeigh:   HNSWMaxNeighbors,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewHNSW builds the graph from entries.
func NewHNSW(entries []gallery.Entry, opts ...HNSWOption) *HNSW {
	h := newHNSW(entries, opts)
	if len(h.vectors) == 0 {
		return h
	}

	g := hnsw.NewGraph[int]()
	g.M = h.maxNeigh
	g.Ml = 1.0 / float64(h.maxNeigh)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	for i, v := range h.vectors {
		g.Add(hnsw.MakeNode(i, v))
	}
	h.graph = g
	return h
}

// Query searches the graph for candidates and returns the one with the highest exact
// similarity. Ties go to the entry added first.
func (h *HNSW) Query(embedding []float32) Match {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return NoMatch
	}
	q := prepareQuery(embedding, h.dim)
	if q == nil {
		return NoMatch
	}

	k := h.candidates
	if k > len(h.vectors) {
		k = len(h.vectors)
	}

	best := -1
	bestSim := math.Inf(-1)
	for _, n := range h.graph.Search(q, k) {
		if n.Key < 0 || n.Key >= len(h.vectors) {
			continue
		}
		sim := Dot(q, h.vectors[n.Key])
		if sim > bestSim || (sim == bestSim && n.Key < best) {
			best = n.Key
			bestSim = sim
		}
	}
	if best == -1 {
		return NoMatch
	}
	return Match{Identity: h.labels[best], Similarity: bestSim}
}

func (h *HNSW) Len() int { return len(h.vectors) }

func (h *HNSW) Dim() int { return h.dim }

// Metadata describes the indexed entries.
func (h *HNSW) Metadata() HNSWMetadata {
	return HNSWMetadata{
		Entries:     len(h.vectors),
		Dim:         h.dim,
		Fingerprint: fingerprint(h.labels, h.vectors),
		Version:     hnswMetadataVersion,
	}
}

// Save writes the graph to path and its metadata to path.meta. An empty index removes
// both files.
func (h *HNSW) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	metadata := h.Metadata()
	metadata.BuildTime = time.Now()
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata reads path.meta.
func LoadHNSWMetadata(path string) (HNSWMetadata, error) {
	var metadata HNSWMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadHNSW restores a graph saved by Save for the same entries. ErrStaleIndex means
// the caller should rebuild with NewHNSW.
func LoadHNSW(path string, entries []gallery.Entry, opts ...HNSWOption) (*HNSW, error) {
	h := newHNSW(entries, opts)

	metadata, err := LoadHNSWMetadata(path)
	if err != nil {
		return nil, err
	}
	want := h.Metadata()
	if metadata.Version != hnswMetadataVersion || metadata.Entries != want.Entries ||
		metadata.Dim != want.Dim || metadata.Fingerprint != want.Fingerprint {
		return nil, ErrStaleIndex
	}

	saved, err := hnsw.LoadSavedGraph[int](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if saved.Len() != len(h.vectors) {
		return nil, ErrStaleIndex
	}
	saved.Graph.EfSearch = HNSWEfSearch
	h.graph = saved.Graph
	return h, nil
}

// LoadOrBuildHNSW loads the graph at path when it matches entries, otherwise builds
// a fresh one and saves it there.
func LoadOrBuildHNSW(path string, entries []gallery.Entry, opts ...HNSWOption) (*HNSW, bool, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			h, err := LoadHNSW(path, entries, opts...)
			if err == nil {
				return h, true, nil
			}
			if !errors.Is(err, ErrStaleIndex) {
				return nil, false, err
			}
		}
	}

	h := NewHNSW(entries, opts...)
	if path != "" {
		if err := h.Save(path); err != nil {
			return nil, false, err
		}
	}
	return h, false, nil
}

func fingerprint(labels []string, vectors [][]float32) uint64 {
	hash := fnv.New64a()
	var buf [4]byte
	for i, label := range labels {
		_, _ = hash.Write([]byte(label))
		_, _ = hash.Write([]byte{0})
		for _, x := range vectors[i] {
			bits := math.Float32bits(x)
			buf[0], buf[1], buf[2], buf[3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
			_, _ = hash.Write(buf[:])
		}
	}
	return hash.Sum64()
}
