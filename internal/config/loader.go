package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. FACEATT_MATCH_THRESHOLD.
const EnvPrefix = "FACEATT_"

// Load builds a Config by layering defaults, an optional YAML file and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. YAML file at path, or FACEATT_CONFIG when path is empty
//  3. env (prefix FACEATT_, first segment after the prefix is the section)
//
// DATABASE_URL is used when database.url is still empty after layering.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrLoadConfig, path, err)
		}
	}

	// FACEATT_SINK_RETRY_MAX_INTERVAL -> sink.retry_max_interval
	envProvider := env.Provider(EnvPrefix, ".", envKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: reading environment: %v", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Map-valued keys whose entries are addressed by one more env segment.
var envMapKeys = []string{"ppe.required"}

// envKey maps an environment variable name to a koanf key path.
// FACEATT_PPE_REQUIRED_HELMET maps to ppe.required.helmet.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if s == "config" {
		return ""
	}
	key := strings.Replace(s, "_", ".", 1)
	for _, m := range envMapKeys {
		if entry, ok := strings.CutPrefix(key, m+"_"); ok && entry != "" {
			return m + "." + entry
		}
	}
	return key
}
