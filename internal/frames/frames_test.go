package frames

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

func encodedJPEG(t *testing.T) []byte {
	t.Helper()
	data, err := imaging.EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 16, 8)))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	jpg := encodedJPEG(t)
	for _, name := range []string{"002.jpg", "001.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), jpg, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	f, err := os.Create(filepath.Join(dir, "003.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatalf("NewDirSource() error = %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", src.Len())
	}

	wantNames := []string{"001.jpg", "002.jpg", "003.png"}
	for i, want := range wantNames {
		frame, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if frame.Source != want {
			t.Errorf("frame %d source = %q, want %q", i, frame.Source, want)
		}
		if frame.Seq != int64(i+1) {
			t.Errorf("frame %d seq = %d, want %d", i, frame.Seq, i+1)
		}
		if !isJPEG(frame.Data) {
			t.Errorf("frame %d data is not JPEG", i)
		}
		if frame.CapturedAt.IsZero() {
			t.Errorf("frame %d has no capture time", i)
		}
	}

	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after last frame error = %v, want io.EOF", err)
	}
}

func TestDirSource_BadFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001.jpg"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "002.jpg"), encodedJPEG(t), 0o600); err != nil {
		t.Fatal(err)
	}

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(context.Background()); err == nil {
		t.Error("Next() expected decode error for garbage frame")
	}
	frame, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if frame.Source != "002.jpg" {
		t.Errorf("Source = %q, want 002.jpg", frame.Source)
	}
}

func TestDirSource_Cancelled(t *testing.T) {
	src, err := NewDirSource(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

func TestSnapshotSource(t *testing.T) {
	jpg := encodedJPEG(t)
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpg)
	}))
	defer server.Close()

	src := NewSnapshotSource(server.URL, 10*time.Millisecond, time.Second)

	frame, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if frame.Seq != 1 || frame.Image.Bounds().Dx() != 16 {
		t.Errorf("frame = seq %d width %d, want seq 1 width 16", frame.Seq, frame.Image.Bounds().Dx())
	}

	start := time.Now()
	if _, err := src.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("second Next() returned after %v, want it to wait for the interval", elapsed)
	}

	fail.Store(true)
	if _, err := src.Next(context.Background()); err == nil {
		t.Error("Next() expected error for 503 response")
	}
}

func TestSnapshotSource_OversizedSnapshot(t *testing.T) {
	jpg := encodedJPEG(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(jpg)
		_, _ = w.Write(make([]byte, constants.MaxSnapshotBytes))
	}))
	defer server.Close()

	if _, err := NewSnapshotSource(server.URL, time.Millisecond, 10*time.Second).Next(context.Background()); err == nil {
		t.Error("Next() expected error for an oversized snapshot")
	}
}

func TestNewSnapshotSource_DefaultInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		if src := NewSnapshotSource("http://camera.local/snapshot.jpg", interval, time.Second); src.interval != constants.DefaultSnapshotInterval {
			t.Errorf("interval %v: got %v, want %v", interval, src.interval, constants.DefaultSnapshotInterval)
		}
	}
}
