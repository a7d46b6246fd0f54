// Package gallery loads the reference embeddings of known identities.
//
// The on-disk layout is one subdirectory per identity, each holding an
// embeddings.csv file with one comma-separated vector per row and no header.
package gallery

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

var (
	// ErrEmpty is returned when no embeddings were found anywhere under the root.
	// Callers treat it as "recognition disabled".
	ErrEmpty = errors.New("gallery is empty")

	// ErrMalformed wraps every parse failure of an embeddings file.
	ErrMalformed = errors.New("malformed embeddings file")
)

// Entry is a single reference embedding of an identity.
type Entry struct {
	Identity  string
	Embedding []float32 // L2-normalized
}

// Load reads every <root>/<identity>/embeddings.csv. Subdirectories without the
// file are skipped. All vectors across the tree must share one dimension.
func Load(root string) ([]Entry, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery root: %w", err)
	}

	var entries []Entry
	dim := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		identity := d.Name()
		path := filepath.Join(root, identity, constants.EmbeddingsFileName)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if constants.IsReservedIdentity(identity) {
			return nil, fmt.Errorf("%w: %s: identity %q is reserved", ErrMalformed, path, identity)
		}

		vectors, err := readEmbeddingsFile(path, &dim)
		if err != nil {
			return nil, err
		}
		for _, v := range vectors {
			entries = append(entries, Entry{Identity: identity, Embedding: v})
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no embeddings under %s", ErrEmpty, root)
	}
	return entries, nil
}

// readEmbeddingsFile parses one embeddings file. dim carries the dimension seen so
// far across files; zero means not yet known.
func readEmbeddingsFile(path string, dim *int) ([][]float32, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from the configured gallery root
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	vectors, err := ParseEmbeddings(f, dim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vectors, nil
}

// ParseEmbeddings reads comma-separated vectors, one per row, and normalizes each.
// If *dim is non-zero every row must have exactly that many values; otherwise the
// first row fixes it.
func ParseEmbeddings(r io.Reader, dim *int) ([][]float32, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var vectors [][]float32
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		if *dim == 0 {
			*dim = len(record)
		}
		if len(record) != *dim {
			return nil, fmt.Errorf("%w: line %d: expected %d values, got %d", ErrMalformed, line, *dim, len(record))
		}

		vec := make([]float32, len(record))
		for i, field := range record {
			x, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %d: %q is not a number", ErrMalformed, line, i+1, field)
			}
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: line %d column %d: non-finite value", ErrMalformed, line, i+1)
			}
			vec[i] = float32(x)
		}

		unit := Normalize(vec)
		if unit == nil {
			return nil, fmt.Errorf("%w: line %d: zero-length vector", ErrMalformed, line)
		}
		vectors = append(vectors, unit)
	}
	return vectors, nil
}

// Summary describes a loaded gallery.
type Summary struct {
	Identities map[string]int `json:"identities"` // identity -> number of reference embeddings
	Entries    int            `json:"entries"`
	Dim        int            `json:"dim"`
}

// Summarize counts entries per identity.
func Summarize(entries []Entry) Summary {
	s := Summary{Identities: make(map[string]int), Entries: len(entries)}
	for _, e := range entries {
		s.Identities[e.Identity]++
		if s.Dim == 0 {
			s.Dim = len(e.Embedding)
		}
	}
	return s
}
