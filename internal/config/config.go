// Package config loads and validates lctscprep configuration files.
//
// Files are YAML by default; a .toml extension selects TOML. Every section
// has defaults so an empty or partial file is valid.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a preprocessing run.
type Config struct {
	Input      Input      `yaml:"input" toml:"input"`
	Output     Output     `yaml:"output" toml:"output"`
	Preprocess Preprocess `yaml:"preprocess" toml:"preprocess"`
	Dataset    Dataset    `yaml:"dataset" toml:"dataset"`
	Log        Log        `yaml:"log" toml:"log"`
}

// Input locates the cohort metadata and the raw DICOM tree.
type Input struct {
	Metadata string `yaml:"metadata" toml:"metadata"`
	BasePath string `yaml:"base_path" toml:"base_path"`
}

// Output controls where case archives are written.
type Output struct {
	Dir          string `yaml:"dir" toml:"dir"`
	SkipExisting bool   `yaml:"skip_existing" toml:"skip_existing"`
}

// Preprocess holds the Case Assembler settings.
type Preprocess struct {
	EmptyPolicy   string `yaml:"empty_policy" toml:"empty_policy"`
	Workers       int    `yaml:"workers" toml:"workers"`
	LoadWorkers   int    `yaml:"load_workers" toml:"load_workers"`
	Combine       string `yaml:"combine" toml:"combine"`
	AllowUnlinked bool   `yaml:"allow_unlinked" toml:"allow_unlinked"`
}

// Dataset holds the Batch Dataset View settings.
type Dataset struct {
	BatchSize     int      `yaml:"batch_size" toml:"batch_size"`
	Shuffle       bool     `yaml:"shuffle" toml:"shuffle"`
	LabelROIs     []string `yaml:"label_rois" toml:"label_rois"`
	Seed          uint64   `yaml:"seed" toml:"seed"`
	CacheSize     int      `yaml:"cache_size" toml:"cache_size"`
	RequireLabels bool     `yaml:"require_labels" toml:"require_labels"`
}

// Log configures structured logging.
type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Accepted values of Preprocess.EmptyPolicy and Preprocess.Combine.
const (
	EmptyPolicySkip       = "skip"
	EmptyPolicyVolumeOnly = "volume-only"
	CombineUnion          = "union"
	CombineXOR            = "xor"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Output: Output{Dir: filepath.Join("data", "processed")},
		Preprocess: Preprocess{
			EmptyPolicy: EmptyPolicySkip,
			Workers:     1,
			LoadWorkers: 1,
			Combine:     CombineUnion,
		},
		Dataset: Dataset{
			BatchSize: 1,
			Shuffle:   true,
			LabelROIs: []string{"Lung_R", "Lung_L"},
		},
		Log: Log{Level: "info", Format: "auto"},
	}
}

// Load reads the configuration at path on top of Default. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to path, in TOML or YAML depending on the
// extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EnsureOutputDir creates the output directory if needed. Safe to call
// more than once.
func (c *Config) EnsureOutputDir() error {
	if c.Output.Dir == "" {
		return errors.New("output dir is empty")
	}
	if err := os.MkdirAll(c.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Preprocess.EmptyPolicy = strings.ToLower(strings.TrimSpace(c.Preprocess.EmptyPolicy))
	c.Preprocess.Combine = strings.ToLower(strings.TrimSpace(c.Preprocess.Combine))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	if c.Preprocess.EmptyPolicy == "" {
		c.Preprocess.EmptyPolicy = EmptyPolicySkip
	}
	if c.Preprocess.Combine == "" {
		c.Preprocess.Combine = CombineUnion
	}

	rois := c.Dataset.LabelROIs[:0]
	for _, name := range c.Dataset.LabelROIs {
		if name = strings.TrimSpace(name); name != "" {
			rois = append(rois, name)
		}
	}
	c.Dataset.LabelROIs = rois
}
