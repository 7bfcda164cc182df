package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleConfig = `{
	// proxy listens here
	"listen": ":9090",
	"log_level": "debug",
	"cache_ttl": "90s",
	"resources": [
		{
			"name": "orders",
			"url": "https://api.example.com/orders",
			"prefetch": true,
			"cache_capacity": 5,
			"headers": {"Authorization": "Bearer x"},
		},
		{"name": "users", "url": "http://localhost:8081/users", "max_page_size": 100},
	],
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagestore.jsonc")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Config{
		Listen:    ":9090",
		LogLevel:  "debug",
		UserAgent: "pagestore-proxy/0.1.0",
		CacheTTL:  Duration(90 * time.Second),

		MaxPageSize:   500,
		MaxRangePages: 50,
		Resources: []ResourceConfig{
			{
				Name:          "orders",
				URL:           "https://api.example.com/orders",
				Prefetch:      true,
				CacheCapacity: 5,
				MaxPageSize:   500,
				MaxRangePages: 50,
				Headers:       map[string]string{"Authorization": "Bearer x"},
			},
			{Name: "users", URL: "http://localhost:8081/users", MaxPageSize: 100, MaxRangePages: 50},
		},
		Source: path,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	opts := cfg.Resources[0].Options()
	if !opts.Prefetch || opts.CacheCapacity != 5 || opts.MaxPageSize != 500 || opts.MaxRangePages != 50 {
		t.Errorf("Options() = %+v, want prefetch, capacity 5 and the global limits", opts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path, Overrides{Listen: ":7000", Redis: "redis:6379", LogLevel: "warn"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != ":7000" || cfg.Redis != "redis:6379" || cfg.LogLevel != "warn" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "malformed",
			content: `{"listen": `,
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "no resources",
			content: `{"listen": ":8080"}`,
			wantErr: ErrNoResources,
		},
		{
			name:    "duplicate resource",
			content: `{"resources": [{"name": "a", "url": "http://x/a"}, {"name": "a", "url": "http://x/b"}]}`,
			wantErr: ErrDuplicateResource,
		},
		{
			name:    "bad resource name",
			content: `{"resources": [{"name": "a/b", "url": "http://x/a"}]}`,
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "relative url",
			content: `{"resources": [{"name": "a", "url": "/a"}]}`,
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "bad log level",
			content: `{"log_level": "loud", "resources": [{"name": "a", "url": "http://x/a"}]}`,
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "bad duration",
			content: `{"cache_ttl": "soon", "resources": [{"name": "a", "url": "http://x/a"}]}`,
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "negative capacity",
			content: `{"resources": [{"name": "a", "url": "http://x/a", "cache_capacity": -1}]}`,
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "negative global limit",
			content: `{"max_range_pages": -1, "resources": [{"name": "a", "url": "http://x/a"}]}`,
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "negative resource limit",
			content: `{"resources": [{"name": "a", "url": "http://x/a", "max_page_size": -5}]}`,
			wantErr: ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), Overrides{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"), Overrides{})
	if !errors.Is(err, ErrConfigFileNotFound) {
		t.Errorf("Load() error = %v, want ErrConfigFileNotFound", err)
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	d := Duration(2 * time.Minute)
	data, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2m0s"` {
		t.Errorf("MarshalJSON() = %s, want \"2m0s\"", data)
	}
}
