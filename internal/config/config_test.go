package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Execution.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Execution.MaxRetries)
	}
	if cfg.Execution.BatchSizeLimit != 100 {
		t.Errorf("expected default batch_size_limit 100, got %d", cfg.Execution.BatchSizeLimit)
	}
	if cfg.Model.Name == "" {
		t.Error("expected a default model name")
	}
	if cfg.Batch.PollIntervalSeconds <= 0 {
		t.Error("expected a positive default poll interval")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Paths = PathsConfig{
			LabelSourceDir: "/labels",
			ImageSourceDir: "/images",
			OutputDir:      "/out",
		}
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	t.Run("missing paths", func(t *testing.T) {
		cfg := valid()
		cfg.Paths.LabelSourceDir = ""
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for missing label_source_dir")
		}
	})

	t.Run("inverted year range", func(t *testing.T) {
		cfg := valid()
		cfg.Filters.TargetYears = YearRange{Start: 1900, End: 1850}
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for inverted year range")
		}
	})

	t.Run("zero batch size", func(t *testing.T) {
		cfg := valid()
		cfg.Execution.BatchSizeLimit = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero batch_size_limit")
		}
	})

	t.Run("zero concurrency", func(t *testing.T) {
		cfg := valid()
		cfg.Execution.MaxConcurrentBatches = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero max_concurrent_batches")
		}
	})
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty config file")
	}
}
