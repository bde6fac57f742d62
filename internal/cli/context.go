package cli

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mrsinham/lctscprep/internal/config"
	"github.com/mrsinham/lctscprep/internal/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// commandContext loads the configuration once per invocation and builds
// the logger from it.
type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		if c.flags.logLevel != "" {
			cfg.Log.Level = c.flags.logLevel
		}
		if c.flags.logFormat != "" {
			cfg.Log.Format = c.flags.logFormat
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger returns a logger writing to the command's stderr.
func (c *commandContext) logger(cmd *cobra.Command) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
}

func colorize(w io.Writer) bool {
	return logging.IsTerminal(w)
}
