//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ppe"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, applied, err := Open(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open database: %v", err)
	}
	if len(applied) == 0 {
		t.Errorf("expected migrations to be applied on a fresh database")
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return pool, cleanup
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	applied, err := pool.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second Migrate() applied %v, want nothing", applied)
	}

	versions, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("MigrationsApplied() error = %v", err)
	}
	if len(versions) == 0 || versions[0] != "001_init.sql" {
		t.Errorf("versions = %v, want 001_init.sql first", versions)
	}
}

func TestGalleryRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewGalleryRepository(pool)

	t.Run("ReplaceAndLoad", func(t *testing.T) {
		if err := repo.ReplaceIdentity(ctx, "bob", [][]float32{{0, 2, 0}}, "test"); err != nil {
			t.Fatalf("ReplaceIdentity(bob) error = %v", err)
		}
		if err := repo.ReplaceIdentity(ctx, "alice", [][]float32{{3, 0, 0}, {1, 1, 0}}, "test"); err != nil {
			t.Fatalf("ReplaceIdentity(alice) error = %v", err)
		}

		entries, err := repo.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("len(entries) = %d, want 3", len(entries))
		}
		if entries[0].Identity != "alice" || entries[2].Identity != "bob" {
			t.Errorf("order = %s, %s, %s, want alice first and bob last",
				entries[0].Identity, entries[1].Identity, entries[2].Identity)
		}
		if entries[0].Embedding[0] != 1 {
			t.Errorf("stored vector not normalized: %v", entries[0].Embedding)
		}
	})

	t.Run("ReplaceDropsOldVectors", func(t *testing.T) {
		if err := repo.ReplaceIdentity(ctx, "alice", [][]float32{{1, 0, 0}}, "test"); err != nil {
			t.Fatalf("ReplaceIdentity() error = %v", err)
		}
		ids, err := repo.Identities(ctx)
		if err != nil {
			t.Fatalf("Identities() error = %v", err)
		}
		if ids["alice"] != 1 || ids["bob"] != 1 {
			t.Errorf("identities = %v, want alice:1 bob:1", ids)
		}
	})

	t.Run("Nearest", func(t *testing.T) {
		got, err := repo.Nearest(ctx, []float32{0.9, 0.1, 0}, 2)
		if err != nil {
			t.Fatalf("Nearest() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len(neighbors) = %d, want 2", len(got))
		}
		if got[0].Identity != "alice" {
			t.Errorf("best = %s, want alice", got[0].Identity)
		}
		if got[0].Similarity < 0.99 || got[0].Similarity > 1 {
			t.Errorf("similarity = %v, want about 0.994", got[0].Similarity)
		}
	})

	t.Run("RejectsReservedIdentity", func(t *testing.T) {
		err := repo.ReplaceIdentity(ctx, "Unknown", [][]float32{{1, 0, 0}}, "test")
		if !errors.Is(err, gallery.ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})

	t.Run("LoadAllRejectsReservedRow", func(t *testing.T) {
		_, err := pool.Exec(ctx, `
			INSERT INTO gallery_embeddings (identity, embedding, dim, source)
			VALUES ($1, $2::vector, $3, $4)
		`, "Spoof Detected", pgvector.NewVector([]float32{1, 0, 0}), 3, "manual")
		if err != nil {
			t.Fatalf("insert error = %v", err)
		}
		defer func() {
			if _, err := repo.DeleteIdentity(ctx, "Spoof Detected"); err != nil {
				t.Errorf("cleanup error = %v", err)
			}
		}()

		if _, err := repo.LoadAll(ctx); !errors.Is(err, gallery.ErrMalformed) {
			t.Errorf("LoadAll() error = %v, want ErrMalformed", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		n, err := repo.DeleteIdentity(ctx, "bob")
		if err != nil {
			t.Fatalf("DeleteIdentity() error = %v", err)
		}
		if n != 1 {
			t.Errorf("deleted = %d, want 1", n)
		}
		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
	})
}

func TestAttendanceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewAttendanceRepository(pool)
	captured := time.Now().Add(-time.Second).UTC()

	verdict := ppe.Verdict{
		Available: true,
		Compliant: false,
		Missing:   []ppe.Item{ppe.Gloves},
		Details: map[ppe.Item]ppe.ItemStatus{
			ppe.Helmet: {Detected: true, Confidence: 0.9},
			ppe.Gloves: {Detected: false},
		},
	}

	failed := attendance.NewRecord("alice", captured, captured.Add(300*time.Millisecond), verdict)
	deliveryErr := &attendance.DeliveryError{StatusCode: 503, Body: "busy"}
	if err := repo.RecordDelivery(ctx, failed, verdict, deliveryErr); err != nil {
		t.Fatalf("RecordDelivery(failed) error = %v", err)
	}

	ok := attendance.NewRecord("alice", captured, captured.Add(time.Second), verdict)
	if err := repo.RecordDelivery(ctx, ok, verdict, nil); err != nil {
		t.Fatalf("RecordDelivery(ok) error = %v", err)
	}

	events, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}

	byID := map[string]int{}
	for i, ev := range events {
		byID[ev.ID] = i
	}
	f := events[byID[failed.ID.String()]]
	if f.Delivered || f.StatusCode != 503 || f.Error == "" {
		t.Errorf("failed event = %+v, want undelivered with status 503", f)
	}
	if len(f.PPEMissing) != 1 || f.PPEMissing[0] != "gloves" {
		t.Errorf("missing = %v, want [gloves]", f.PPEMissing)
	}
	if !f.PPEItems["helmet"] || f.PPEItems["gloves"] {
		t.Errorf("items = %v, want helmet true gloves false", f.PPEItems)
	}

	s := events[byID[ok.ID.String()]]
	if !s.Delivered || s.StatusCode != 0 {
		t.Errorf("delivered event = %+v, want delivered without status", s)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("event id %q is not a UUID", s.ID)
	}

	delivered, err := repo.CountDelivered(ctx)
	if err != nil {
		t.Fatalf("CountDelivered() error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}

	ids, err := repo.DeliveredSince(ctx, captured.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeliveredSince() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "alice" {
		t.Errorf("identities = %v, want [alice]", ids)
	}
}
