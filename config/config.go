// Package config loads the vigil.yaml configuration file: the monitored
// provider set plus engine tunables. Values support ${ENV} expansion so
// API keys stay out of the file itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/vigil/core"
)

const (
	projectConfigName = "vigil.yaml"
	homeConfigName    = "config.yaml"

	defaultListenAddr = ":8080"
)

// file is the raw YAML shape. Durations are strings so the file reads
// naturally ("45s", "5m"); they are parsed and validated during Load.
type file struct {
	Listen    string                `yaml:"listen,omitempty"`
	Providers []core.ProviderConfig `yaml:"providers"`
	Settings  settingsSection       `yaml:"settings,omitempty"`
	History   historySection        `yaml:"history,omitempty"`
	Status    statusSection         `yaml:"status,omitempty"`
}

type settingsSection struct {
	CheckTimeout      string `yaml:"check_timeout,omitempty"`
	DegradedThreshold string `yaml:"degraded_threshold,omitempty"`
	PollInterval      string `yaml:"poll_interval,omitempty"`
	Cron              string `yaml:"cron,omitempty"`
}

type historySection struct {
	Path           string `yaml:"path,omitempty"`
	RetentionAge   string `yaml:"retention_age,omitempty"`
	RetentionCount int    `yaml:"retention_count,omitempty"`
}

type statusSection struct {
	RefreshInterval string `yaml:"refresh_interval,omitempty"`
}

// HistoryConfig controls check result persistence. An empty Path selects
// the in-memory store.
type HistoryConfig struct {
	Path           string
	RetentionAge   time.Duration
	RetentionCount int
}

// Config is a fully parsed and validated configuration.
type Config struct {
	// Listen is the HTTP API address (default ":8080").
	Listen string

	// Providers is the monitored endpoint set.
	Providers []core.ProviderConfig

	// Settings are the engine tunables; zero fields use the core defaults.
	Settings core.Settings

	// Cron, when set, replaces the fixed poll interval with a UTC cron
	// schedule.
	Cron string

	// History controls persistence.
	History HistoryConfig

	// StatusRefresh is the official status feed refresh interval
	// (0 uses the status package default).
	StatusRefresh time.Duration
}

// Discover resolves the config file location with first-match semantics:
// explicit path, then ./vigil.yaml, then ~/.vigil/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".vigil", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads, expands, and validates a config file.
func Load(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse expands and validates raw config bytes.
func Parse(data []byte) (Config, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := Config{
		Listen: strings.TrimSpace(expandEnvValue(raw.Listen)),
		Cron:   strings.TrimSpace(raw.Settings.Cron),
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListenAddr
	}

	if len(raw.Providers) == 0 {
		return Config{}, errors.New("config: at least one provider is required")
	}

	seen := make(map[string]struct{}, len(raw.Providers))
	for i := range raw.Providers {
		p := expandProvider(raw.Providers[i])
		if err := validateProvider(p); err != nil {
			return Config{}, err
		}
		if _, dup := seen[p.ID]; dup {
			return Config{}, fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		cfg.Providers = append(cfg.Providers, p)
	}

	var err error
	if cfg.Settings.CheckTimeout, err = parseDurationField("settings.check_timeout", raw.Settings.CheckTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Settings.DegradedThreshold, err = parseDurationField("settings.degraded_threshold", raw.Settings.DegradedThreshold); err != nil {
		return Config{}, err
	}
	if cfg.Settings.PollInterval, err = parseDurationField("settings.poll_interval", raw.Settings.PollInterval); err != nil {
		return Config{}, err
	}

	cfg.History.Path = strings.TrimSpace(expandEnvValue(raw.History.Path))
	cfg.History.RetentionCount = raw.History.RetentionCount
	if cfg.History.RetentionCount < 0 {
		return Config{}, errors.New("config: history.retention_count must not be negative")
	}
	if cfg.History.RetentionAge, err = parseDurationField("history.retention_age", raw.History.RetentionAge); err != nil {
		return Config{}, err
	}
	if cfg.StatusRefresh, err = parseDurationField("status.refresh_interval", raw.Status.RefreshInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func expandProvider(p core.ProviderConfig) core.ProviderConfig {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.APIKey = expandEnvValue(p.APIKey)
	p.Endpoint = strings.TrimSpace(expandEnvValue(p.Endpoint))
	p.Model = strings.TrimSpace(expandEnvValue(p.Model))
	if len(p.Headers) > 0 {
		out := make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			out[k] = expandEnvValue(v)
		}
		p.Headers = out
	}
	return p
}

func validateProvider(p core.ProviderConfig) error {
	if p.ID == "" {
		return errors.New("config: provider id is required")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("config: provider %q: unsupported type %q", p.ID, p.Type)
	}
	if p.Model == "" {
		return fmt.Errorf("config: provider %q: model is required", p.ID)
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return fmt.Errorf("config: provider %q: api_key is required (use ${ENV} to reference the environment)", p.ID)
	}
	return nil
}

func parseDurationField(field, value string) (time.Duration, error) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(clean)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q: %w", field, clean, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s: duration must not be negative", field)
	}
	return d, nil
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}
