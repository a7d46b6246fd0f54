package gallery

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// WriteEmbeddings replaces dir/embeddings.csv with the given vectors, normalized.
func WriteEmbeddings(dir string, vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no embeddings to write")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, v := range vectors {
		unit := Normalize(v)
		if unit == nil {
			return fmt.Errorf("embedding %d has zero length", i)
		}
		row := make([]string, len(unit))
		for j, x := range unit {
			row[j] = strconv.FormatFloat(float64(x), 'g', -1, 32)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to encode embedding %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}

	path := filepath.Join(dir, constants.EmbeddingsFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write embeddings file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace embeddings file: %w", err)
	}
	return nil
}
