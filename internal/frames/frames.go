// Package frames provides the sources the pipeline pulls video frames from.
package frames

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// Frame is one captured image.
type Frame struct {
	Seq        int64
	Source     string // file name or URL
	CapturedAt time.Time
	Image      image.Image
	Data       []byte // JPEG encoding of Image, sent to model servers
}

// Source yields frames until it returns io.EOF. Other errors affect only the
// current frame.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// NewFrame decodes data into a frame captured at capturedAt. Non-JPEG input is
// re-encoded so model servers always receive JPEG.
func NewFrame(seq int64, source string, data []byte, capturedAt time.Time) (Frame, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return Frame{}, err
	}
	if !isJPEG(data) {
		data, err = imaging.EncodeJPEG(img)
		if err != nil {
			return Frame{}, err
		}
	}
	return Frame{Seq: seq, Source: source, CapturedAt: capturedAt, Image: img, Data: data}, nil
}

func isJPEG(data []byte) bool {
	return len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// DirSource replays the images of a directory in name order.
type DirSource struct {
	files []string
	next  int
	now   func() time.Time
	mu    sync.Mutex
}

// NewDirSource lists the images in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return &DirSource{files: files, now: time.Now}, nil
}

// Len returns the number of frames in the directory.
func (s *DirSource) Len() int { return len(s.files) }

// Next reads the next file. A file that cannot be decoded is returned as an error
// and skipped on the following call.
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	if s.next >= len(s.files) {
		s.mu.Unlock()
		return Frame{}, io.EOF
	}
	path := s.files[s.next]
	s.next++
	seq := int64(s.next)
	s.mu.Unlock()

	captured := s.now()
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured frames directory
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	frame, err := NewFrame(seq, filepath.Base(path), data, captured)
	if err != nil {
		return Frame{}, fmt.Errorf("frame %s: %w", path, err)
	}
	return frame, nil
}

// SnapshotSource polls a camera's HTTP snapshot endpoint.
type SnapshotSource struct {
	url      string
	client   *http.Client
	interval time.Duration
	seq      int64
	last     time.Time
	mu       sync.Mutex
}

// NewSnapshotSource polls url at most once per interval. A non-positive interval
// falls back to the default.
func NewSnapshotSource(url string, interval, timeout time.Duration) *SnapshotSource {
	if interval <= 0 {
		interval = constants.DefaultSnapshotInterval
	}
	return &SnapshotSource{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
	}
}

// Next waits for the polling interval and fetches one snapshot.
func (s *SnapshotSource) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wait := s.interval - time.Since(s.last); !s.last.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, ctx.Err()
		case <-timer.C:
		}
	}
	s.last = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("could not create request: %w", err)
	}
	captured := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // URL comes from validated config
	if err != nil {
		return Frame{}, fmt.Errorf("could not fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("snapshot request failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxSnapshotBytes+1))
	if err != nil {
		return Frame{}, fmt.Errorf("could not read snapshot: %w", err)
	}
	if len(data) > constants.MaxSnapshotBytes {
		return Frame{}, fmt.Errorf("snapshot exceeds %d bytes", constants.MaxSnapshotBytes)
	}

	s.seq++
	return NewFrame(s.seq, s.url, data, captured)
}
