package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type sampleConfig struct {
	APIKey  string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
	Level   int           `envconfig:"LEVEL" split_words:"true" default:"1"`
}

func (c sampleConfig) Validate() error {
	if c.Level < 0 {
		return errors.New("level must be >= 0")
	}
	return nil
}

func TestProcessDefaultsAndRequired(t *testing.T) {
	t.Setenv("SAMPLE_API_KEY", "k-1")

	conf, err := Process[sampleConfig]("SAMPLE")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if conf.APIKey != "k-1" {
		t.Fatalf("APIKey = %q, want k-1", conf.APIKey)
	}
	if conf.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %v, want 5s", conf.Timeout)
	}
}

func TestProcessMissingRequired(t *testing.T) {
	t.Setenv("MISSING_API_KEY", "")
	os.Unsetenv("MISSING_API_KEY")

	_, err := Process[sampleConfig]("MISSING")
	if err == nil {
		t.Fatal("expected error for missing required key")
	}
	if !strings.Contains(err.Error(), "MISSING") {
		t.Fatalf("error %q should name the prefix", err)
	}
}

func TestProcessRunsValidator(t *testing.T) {
	t.Setenv("BAD_API_KEY", "k")
	t.Setenv("BAD_LEVEL", "-3")

	_, err := Process[sampleConfig]("BAD")
	if err == nil || !strings.Contains(err.Error(), "level must be >= 0") {
		t.Fatalf("Process() error = %v, want validation error", err)
	}
}

func TestExportEnvironmentKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "EXPORT_TEST_FROM_FILE=file\nEXPORT_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXPORT_TEST_PRESET", "env")
	t.Setenv("EXPORT_TEST_FROM_FILE", "")
	os.Unsetenv("EXPORT_TEST_FROM_FILE")

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment() error = %v", err)
	}
	if got := os.Getenv("EXPORT_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("EXPORT_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("EXPORT_TEST_PRESET"); got != "env" {
		t.Fatalf("EXPORT_TEST_PRESET = %q, want env", got)
	}
}

func TestExportEnvironmentIfExistsIgnoresMissingFile(t *testing.T) {
	if err := exportEnvironmentIfExists(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("exportEnvironmentIfExists() error = %v", err)
	}
}
