package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Preprocess.EmptyPolicy != EmptyPolicySkip {
		t.Errorf("Default empty policy = %q, want %q", cfg.Preprocess.EmptyPolicy, EmptyPolicySkip)
	}
	if !reflect.DeepEqual(cfg.Dataset.LabelROIs, []string{"Lung_R", "Lung_L"}) {
		t.Errorf("Default label ROIs = %v", cfg.Dataset.LabelROIs)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Dataset.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want 1", cfg.Dataset.BatchSize)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lctscprep.yaml")
	content := `
output:
  dir: /data/processed
  skip_existing: true
preprocess:
  empty_policy: Volume-Only
  workers: 4
dataset:
  batch_size: 2
  label_rois: [Lung_R, " Lung_L ", ""]
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Output.Dir != "/data/processed" || !cfg.Output.SkipExisting {
		t.Errorf("Output section not loaded: %+v", cfg.Output)
	}
	if cfg.Preprocess.EmptyPolicy != EmptyPolicyVolumeOnly {
		t.Errorf("EmptyPolicy = %q, want normalized %q", cfg.Preprocess.EmptyPolicy, EmptyPolicyVolumeOnly)
	}
	if cfg.Preprocess.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Preprocess.Workers)
	}
	// Unset keys keep their defaults
	if cfg.Preprocess.Combine != CombineUnion || cfg.Preprocess.LoadWorkers != 1 {
		t.Errorf("Defaults lost: %+v", cfg.Preprocess)
	}
	if !reflect.DeepEqual(cfg.Dataset.LabelROIs, []string{"Lung_R", "Lung_L"}) {
		t.Errorf("LabelROIs = %q", cfg.Dataset.LabelROIs)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lctscprep.toml")
	content := `
[preprocess]
combine = "xor"
allow_unlinked = true

[dataset]
batch_size = 8
shuffle = false
seed = 7
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Preprocess.Combine != CombineXOR || !cfg.Preprocess.AllowUnlinked {
		t.Errorf("Preprocess section not loaded: %+v", cfg.Preprocess)
	}
	if cfg.Dataset.BatchSize != 8 || cfg.Dataset.Shuffle || cfg.Dataset.Seed != 7 {
		t.Errorf("Dataset section not loaded: %+v", cfg.Dataset)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"unknown yaml key", "a.yaml", "preprocess:\n  turbo: true\n", "parse config"},
		{"unknown toml key", "a.toml", "[dataset]\nturbo = true\n", "parse config"},
		{"bad policy", "b.yaml", "preprocess:\n  empty_policy: keep\n", "empty_policy"},
		{"bad batch size", "c.yaml", "dataset:\n  batch_size: 0\n", "batch_size"},
		{"bad extension", "d.json", "{}", "unsupported extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error %q should contain %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".toml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := Default()
			cfg.Input.Metadata = "metadata.csv"
			cfg.Dataset.LabelROIs = []string{"Heart"}
			cfg.Preprocess.Workers = 3

			path := filepath.Join(t.TempDir(), "nested", "cfg"+ext)
			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !reflect.DeepEqual(*loaded, cfg) {
				t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", *loaded, cfg)
			}
		})
	}
}

func TestEnsureOutputDir_Idempotent(t *testing.T) {
	cfg := Default()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "a", "b")

	for i := 0; i < 2; i++ {
		if err := cfg.EnsureOutputDir(); err != nil {
			t.Fatalf("EnsureOutputDir call %d failed: %v", i+1, err)
		}
	}
	if info, err := os.Stat(cfg.Output.Dir); err != nil || !info.IsDir() {
		t.Errorf("Output dir not created: %v", err)
	}

	cfg.Output.Dir = ""
	if err := cfg.EnsureOutputDir(); err == nil {
		t.Error("Expected error for empty output dir")
	}
}
