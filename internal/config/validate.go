package config

import (
	"errors"
	"fmt"

	"github.com/mrsinham/lctscprep/internal/logging"
)

// Validate checks that all values are usable. It returns every problem
// found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir must not be empty"))
	}

	switch c.Preprocess.EmptyPolicy {
	case EmptyPolicySkip, EmptyPolicyVolumeOnly:
	default:
		errs = append(errs, fmt.Errorf("preprocess.empty_policy: unsupported value %q (want %q or %q)",
			c.Preprocess.EmptyPolicy, EmptyPolicySkip, EmptyPolicyVolumeOnly))
	}
	switch c.Preprocess.Combine {
	case CombineUnion, CombineXOR:
	default:
		errs = append(errs, fmt.Errorf("preprocess.combine: unsupported value %q (want %q or %q)",
			c.Preprocess.Combine, CombineUnion, CombineXOR))
	}
	if c.Preprocess.Workers < 1 {
		errs = append(errs, fmt.Errorf("preprocess.workers must be >= 1, got %d", c.Preprocess.Workers))
	}
	if c.Preprocess.LoadWorkers < 1 {
		errs = append(errs, fmt.Errorf("preprocess.load_workers must be >= 1, got %d", c.Preprocess.LoadWorkers))
	}

	if c.Dataset.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("dataset.batch_size must be >= 1, got %d", c.Dataset.BatchSize))
	}
	if len(c.Dataset.LabelROIs) == 0 {
		errs = append(errs, errors.New("dataset.label_rois must name at least one ROI"))
	}
	if c.Dataset.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("dataset.cache_size must be >= 0, got %d", c.Dataset.CacheSize))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format: unsupported value %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
