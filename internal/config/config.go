package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

type Config struct {
	Gallery  GalleryConfig  `koanf:"gallery"`
	Index    IndexConfig    `koanf:"index"`
	Match    MatchConfig    `koanf:"match"`
	Detector DetectorConfig `koanf:"detector"`
	Liveness LivenessConfig `koanf:"liveness"`
	PPE      PPEConfig      `koanf:"ppe"`
	Sink     SinkConfig     `koanf:"sink"`
	Frames   FramesConfig   `koanf:"frames"`
	Database DatabaseConfig `koanf:"database"`
	Web      WebConfig      `koanf:"web"`
}

type GalleryConfig struct {
	Root       string `koanf:"root"`        // directory with one subdirectory per identity
	Source     string `koanf:"source"`      // "dir" (default) or "postgres"
	AllowEmpty bool   `koanf:"allow_empty"` // run with recognition disabled instead of failing
}

type IndexConfig struct {
	Backend    string `koanf:"backend"`    // "flat" (default) or "hnsw"
	Candidates int    `koanf:"candidates"` // HNSW neighbors re-ranked exactly
	HNSWPath   string `koanf:"hnsw_path"`  // optional path to persist the HNSW graph
}

type MatchConfig struct {
	Threshold float64 `koanf:"threshold"` // minimum cosine similarity, defaults to 0.65
}

type DetectorConfig struct {
	URL     string        `koanf:"url"` // face embedding server, defaults to http://localhost:8000
	Timeout time.Duration `koanf:"timeout"`
}

type LivenessConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type PPEConfig struct {
	Enabled             bool            `koanf:"enabled"`
	Backend             string          `koanf:"backend"` // "http", "openai" or "gemini"
	URL                 string          `koanf:"url"`
	Timeout             time.Duration   `koanf:"timeout"`
	ConfidenceThreshold float64         `koanf:"confidence_threshold"`
	Required            map[string]bool `koanf:"required"`
	OpenAIToken         string          `koanf:"openai_token"`
	GeminiAPIKey        string          `koanf:"gemini_api_key"`
}

type SinkConfig struct {
	URL                  string        `koanf:"url"`
	Timeout              time.Duration `koanf:"timeout"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
}

type FramesConfig struct {
	Source      string        `koanf:"source"` // "dir" or "snapshot"
	Dir         string        `koanf:"dir"`
	SnapshotURL string        `koanf:"snapshot_url"`
	Interval    time.Duration `koanf:"interval"`
}

type DatabaseConfig struct {
	URL          string `koanf:"url"`            // PostgreSQL connection URL (optional)
	MaxOpenConns int    `koanf:"max_open_conns"` // Maximum open connections (default 10)
	MaxIdleConns int    `koanf:"max_idle_conns"` // Maximum idle connections (default 2)
}

type WebConfig struct {
	Host               string `koanf:"host"`
	Port               int    `koanf:"port"` // 0 disables the status server
	RateLimitPerMinute int    `koanf:"rate_limit_per_minute"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Gallery: GalleryConfig{
			Root:   "faces",
			Source: "dir",
		},
		Index: IndexConfig{
			Backend:    "flat",
			Candidates: constants.DefaultHNSWCandidates,
		},
		Match: MatchConfig{
			Threshold: constants.DefaultMatchThreshold,
		},
		Detector: DetectorConfig{
			URL:     "http://localhost:8000",
			Timeout: constants.DefaultCollaboratorTimeout,
		},
		Liveness: LivenessConfig{
			Enabled: true,
			URL:     "http://localhost:8000",
			Timeout: constants.DefaultCollaboratorTimeout,
		},
		PPE: PPEConfig{
			Enabled:             true,
			Backend:             "http",
			URL:                 "http://localhost:8000",
			Timeout:             constants.DefaultCollaboratorTimeout,
			ConfidenceThreshold: constants.DefaultPPEConfidence,
			Required: map[string]bool{
				"helmet": true,
				"gloves": true,
				"boots":  true,
				"jacket": true,
			},
		},
		Sink: SinkConfig{
			URL:                  constants.DefaultSinkURL,
			Timeout:              constants.DefaultSinkTimeout,
			RetryInitialInterval: constants.DefaultRetryInitialInterval,
			RetryMaxInterval:     constants.DefaultRetryMaxInterval,
		},
		Frames: FramesConfig{
			Source:   "dir",
			Dir:      "frames",
			Interval: constants.DefaultSnapshotInterval,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Web: WebConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			RateLimitPerMinute: constants.DefaultRateLimitPerMinute,
		},
	}
}

// Validate checks value ranges and enumerations. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Match.Threshold < -1 || c.Match.Threshold > 1 {
		return fmt.Errorf("%w: match.threshold %v outside [-1, 1]", ErrInvalidConfig, c.Match.Threshold)
	}
	if c.PPE.ConfidenceThreshold < 0 || c.PPE.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: ppe.confidence_threshold %v outside [0, 1]", ErrInvalidConfig, c.PPE.ConfidenceThreshold)
	}
	switch c.Gallery.Source {
	case "dir":
		if c.Gallery.Root == "" {
			return fmt.Errorf("%w: gallery.root is required", ErrInvalidConfig)
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("%w: gallery.source postgres requires database.url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown gallery.source %q", ErrInvalidConfig, c.Gallery.Source)
	}
	switch c.Index.Backend {
	case "flat", "hnsw":
	default:
		return fmt.Errorf("%w: unknown index.backend %q", ErrInvalidConfig, c.Index.Backend)
	}
	if c.Index.Backend == "hnsw" && c.Index.Candidates < 1 {
		return fmt.Errorf("%w: index.candidates must be positive", ErrInvalidConfig)
	}
	switch c.PPE.Backend {
	case "http", "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown ppe.backend %q", ErrInvalidConfig, c.PPE.Backend)
	}
	if err := validateURL("sink.url", c.Sink.URL); err != nil {
		return err
	}
	if c.Sink.Timeout <= 0 {
		return fmt.Errorf("%w: sink.timeout must be positive", ErrInvalidConfig)
	}
	if c.Sink.RetryMaxInterval < c.Sink.RetryInitialInterval {
		return fmt.Errorf("%w: sink.retry_max_interval below sink.retry_initial_interval", ErrInvalidConfig)
	}
	switch c.Frames.Source {
	case "dir", "snapshot":
	default:
		return fmt.Errorf("%w: unknown frames.source %q", ErrInvalidConfig, c.Frames.Source)
	}
	if c.Frames.Interval <= 0 {
		return fmt.Errorf("%w: frames.interval must be positive", ErrInvalidConfig)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("%w: web.port %d out of range", ErrInvalidConfig, c.Web.Port)
	}
	return nil
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s %q is not an absolute URL", ErrInvalidConfig, key, raw)
	}
	return nil
}
