package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/face-attendance/internal/ai"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/detector"
	"github.com/kozaktomas/face-attendance/internal/frames"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/index"
	"github.com/kozaktomas/face-attendance/internal/ppe"
)

// openDatabase connects when database.url is set and returns nil otherwise.
func openDatabase(ctx context.Context, cfg *config.Config, log logs.Log) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	pool, applied, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	for _, m := range applied {
		log.Infof("Applied migration: %s", m)
	}
	return pool, nil
}

// requireDatabase is openDatabase for commands that cannot work without one.
func requireDatabase(ctx context.Context, cfg *config.Config, log logs.Log) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url (or DATABASE_URL) is required")
	}
	return openDatabase(ctx, cfg, log)
}

// loadGallery reads the gallery from the configured source. An empty gallery is
// returned as gallery.ErrEmpty.
func loadGallery(ctx context.Context, cfg *config.Config, pool *postgres.Pool) ([]gallery.Entry, error) {
	switch cfg.Gallery.Source {
	case "postgres":
		if pool == nil {
			return nil, errors.New("gallery.source postgres requires a database")
		}
		entries, err := postgres.NewGalleryRepository(pool).LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading gallery from PostgreSQL: %w", err)
		}
		if len(entries) == 0 {
			return nil, gallery.ErrEmpty
		}
		return entries, nil
	default:
		return gallery.Load(cfg.Gallery.Root)
	}
}

// loadGalleryForRun applies gallery.allow_empty: an empty gallery disables
// recognition instead of failing.
func loadGalleryForRun(ctx context.Context, cfg *config.Config, pool *postgres.Pool, log logs.Log) ([]gallery.Entry, error) {
	entries, err := loadGallery(ctx, cfg, pool)
	if errors.Is(err, gallery.ErrEmpty) && cfg.Gallery.AllowEmpty {
		log.Warnf("Gallery is empty, every face will be reported as %q", index.NoMatch.Identity)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// buildIndex builds the configured backend. A persisted HNSW graph is reused
// when it still matches the gallery, otherwise it is rebuilt and saved.
func buildIndex(cfg *config.Config, entries []gallery.Entry, log logs.Log) (index.Index, error) {
	opts := []index.HNSWOption{index.WithCandidates(cfg.Index.Candidates)}

	if cfg.Index.Backend != index.BackendHNSW || cfg.Index.HNSWPath == "" || len(entries) == 0 {
		idx, err := index.Build(entries, cfg.Index.Backend, opts...)
		if err != nil {
			return nil, fmt.Errorf("building index: %w", err)
		}
		return idx, nil
	}

	h, loaded, err := index.LoadOrBuildHNSW(cfg.Index.HNSWPath, entries, opts...)
	if err != nil {
		return nil, fmt.Errorf("building HNSW index: %w", err)
	}
	if loaded {
		log.Infof("Loaded HNSW index with %d entries from %s", h.Len(), cfg.Index.HNSWPath)
	} else {
		log.Infof("Built HNSW index with %d entries (persisted to %s)", h.Len(), cfg.Index.HNSWPath)
	}
	return h, nil
}

// ppeCapability selects the PPE detector backend, or explains why there is none.
func ppeCapability(ctx context.Context, cfg *config.Config) ppe.Capability {
	if !cfg.PPE.Enabled {
		return ppe.NoDetector("disabled by ppe.enabled")
	}
	switch cfg.PPE.Backend {
	case "openai":
		if cfg.PPE.OpenAIToken == "" {
			return ppe.NoDetector("ppe.openai_token is not set")
		}
		return ppe.Available(ai.NewOpenAIDetector(cfg.PPE.OpenAIToken))
	case "gemini":
		if cfg.PPE.GeminiAPIKey == "" {
			return ppe.NoDetector("ppe.gemini_api_key is not set")
		}
		d, err := ai.NewGeminiDetector(ctx, cfg.PPE.GeminiAPIKey)
		if err != nil {
			return ppe.NoDetector(err.Error())
		}
		return ppe.Available(d)
	default:
		if cfg.PPE.URL == "" {
			return ppe.NoDetector("ppe.url is not set")
		}
		return ppe.Available(detector.NewPPEClient(cfg.PPE.URL, cfg.PPE.Timeout))
	}
}

// ppeChecker wraps the capability with the configured requirements.
func ppeChecker(ctx context.Context, cfg *config.Config) (*ppe.Checker, error) {
	req, err := ppe.RequirementsFromConfig(cfg.PPE.Required)
	if err != nil {
		return nil, fmt.Errorf("%w: ppe.required: %v", config.ErrInvalidConfig, err)
	}
	return &ppe.Checker{
		Capability:   ppeCapability(ctx, cfg),
		Synonyms:     ppe.DefaultSynonyms(),
		Requirements: req,
		Threshold:    cfg.PPE.ConfidenceThreshold,
	}, nil
}

// frameSource opens the configured frame source.
func frameSource(cfg *config.Config) (frames.Source, error) {
	switch cfg.Frames.Source {
	case "snapshot":
		if cfg.Frames.SnapshotURL == "" {
			return nil, fmt.Errorf("%w: frames.snapshot_url is required", config.ErrInvalidConfig)
		}
		return frames.NewSnapshotSource(cfg.Frames.SnapshotURL, cfg.Frames.Interval, cfg.Detector.Timeout), nil
	default:
		src, err := frames.NewDirSource(cfg.Frames.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening frame directory: %w", err)
		}
		return src, nil
	}
}
