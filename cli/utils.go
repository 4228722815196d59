package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/motorctl/config"
	"go.viam.com/motorctl/logging"
)

// loadConfig reads the --config file, or returns the defaults when none is given.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Read(path)
}

// newLogger returns the command logger and a func closing its log file, if the config names one.
func newLogger(c *cli.Context, cfg *config.Config) (logging.Logger, func() error) {
	level := logging.INFO
	if c.Bool(flagDebug) || cfg.Debug {
		level = logging.DEBUG
	}
	logger := logging.NewWriterLogger("motorctl", level, c.App.ErrWriter)
	if cfg.LogFile == "" {
		return logger, func() error { return nil }
	}
	file := logging.NewFileAppender(cfg.LogFile)
	logger.AddAppender(file)
	return logger, file.Close
}

// printf writes a line to w. Errors writing to the terminal are not actionable.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
