package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/vigil/core"
)

const validConfig = `
listen: ":9090"
providers:
  - id: openai
    name: OpenAI
    type: openai
    api_key: sk-test
    model: gpt-4o
  - id: gemini
    name: Gemini
    type: gemini
    api_key: g-test
    model: gemini-2.0-flash
    headers:
      X-Extra: "1"
settings:
  check_timeout: 30s
  degraded_threshold: 4s
  poll_interval: 2m
  cron: "*/5 * * * *"
history:
  path: vigil.db
  retention_age: 720h
  retention_count: 500
status:
  refresh_interval: 10m
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(cfg.Providers))
	}
	if cfg.Providers[0].ID != "openai" || cfg.Providers[0].Type != core.ProviderOpenAI {
		t.Errorf("provider 0 = %+v", cfg.Providers[0])
	}
	if cfg.Providers[1].Headers["X-Extra"] != "1" {
		t.Errorf("provider 1 headers = %v", cfg.Providers[1].Headers)
	}

	if cfg.Settings.CheckTimeout != 30*time.Second {
		t.Errorf("CheckTimeout = %v, want 30s", cfg.Settings.CheckTimeout)
	}
	if cfg.Settings.DegradedThreshold != 4*time.Second {
		t.Errorf("DegradedThreshold = %v, want 4s", cfg.Settings.DegradedThreshold)
	}
	if cfg.Settings.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m", cfg.Settings.PollInterval)
	}
	if cfg.Cron != "*/5 * * * *" {
		t.Errorf("Cron = %q", cfg.Cron)
	}

	if cfg.History.Path != "vigil.db" || cfg.History.RetentionAge != 720*time.Hour || cfg.History.RetentionCount != 500 {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.StatusRefresh != 10*time.Minute {
		t.Errorf("StatusRefresh = %v, want 10m", cfg.StatusRefresh)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  - id: openai
    type: openai
    api_key: sk-test
    model: gpt-4o
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want default :8080", cfg.Listen)
	}
	if cfg.Settings.CheckTimeout != 0 {
		t.Errorf("CheckTimeout = %v, want 0 (engine applies defaults)", cfg.Settings.CheckTimeout)
	}
	if cfg.History.Path != "" {
		t.Errorf("History.Path = %q, want empty (in-memory store)", cfg.History.Path)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("VIGIL_TEST_KEY", "sk-from-env")
	t.Setenv("VIGIL_TEST_ENDPOINT", "https://proxy.internal/v1/chat/completions")

	cfg, err := Parse([]byte(`
providers:
  - id: openai
    type: openai
    api_key: ${VIGIL_TEST_KEY}
    endpoint: ${VIGIL_TEST_ENDPOINT}
    model: gpt-4o
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[0].Endpoint != "https://proxy.internal/v1/chat/completions" {
		t.Errorf("Endpoint = %q, want expanded env value", cfg.Providers[0].Endpoint)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no providers",
			yaml:    `listen: ":8080"`,
			wantErr: "at least one provider",
		},
		{
			name: "duplicate id",
			yaml: `
providers:
  - {id: a, type: openai, api_key: k, model: m}
  - {id: a, type: anthropic, api_key: k, model: m}
`,
			wantErr: "duplicate provider id",
		},
		{
			name: "missing id",
			yaml: `
providers:
  - {type: openai, api_key: k, model: m}
`,
			wantErr: "provider id is required",
		},
		{
			name: "bad type",
			yaml: `
providers:
  - {id: a, type: cohere, api_key: k, model: m}
`,
			wantErr: "unsupported type",
		},
		{
			name: "missing model",
			yaml: `
providers:
  - {id: a, type: openai, api_key: k}
`,
			wantErr: "model is required",
		},
		{
			name: "missing api key",
			yaml: `
providers:
  - {id: a, type: openai, model: m}
`,
			wantErr: "api_key is required",
		},
		{
			name: "bad duration",
			yaml: `
providers:
  - {id: a, type: openai, api_key: k, model: m}
settings:
  check_timeout: banana
`,
			wantErr: "invalid duration",
		},
		{
			name:    "malformed yaml",
			yaml:    `providers: [`,
			wantErr: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Errorf("got %d providers, want 2", len(cfg.Providers))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDiscoverFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	// Nothing anywhere.
	path, found, err := DiscoverFrom("", cwd, home)
	if err != nil || found {
		t.Fatalf("got (%q, %v, %v), want not found", path, found, err)
	}

	// Home config is the fallback.
	homeCfg := filepath.Join(home, ".vigil", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(homeCfg), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(homeCfg, []byte("providers: []"), 0o600); err != nil {
		t.Fatal(err)
	}
	path, found, err = DiscoverFrom("", cwd, home)
	if err != nil || !found || path != homeCfg {
		t.Fatalf("got (%q, %v, %v), want home config", path, found, err)
	}

	// Project config wins over home.
	projectCfg := filepath.Join(cwd, "vigil.yaml")
	if err := os.WriteFile(projectCfg, []byte("providers: []"), 0o600); err != nil {
		t.Fatal(err)
	}
	path, found, err = DiscoverFrom("", cwd, home)
	if err != nil || !found || path != projectCfg {
		t.Fatalf("got (%q, %v, %v), want project config", path, found, err)
	}

	// Explicit path wins over everything.
	explicit := filepath.Join(cwd, "custom.yaml")
	if err := os.WriteFile(explicit, []byte("providers: []"), 0o600); err != nil {
		t.Fatal(err)
	}
	path, found, err = DiscoverFrom(explicit, cwd, home)
	if err != nil || !found || path != explicit {
		t.Fatalf("got (%q, %v, %v), want explicit path", path, found, err)
	}

	// Explicit but missing is an error.
	if _, _, err := DiscoverFrom(filepath.Join(cwd, "nope.yaml"), cwd, home); err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}
