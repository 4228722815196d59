package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// ValidateConfigAction reads and validates the --config file.
func ValidateConfigAction(c *cli.Context) error {
	path := c.String(flagConfig)
	if path == "" {
		return errors.New("no config file given; pass --config")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s is valid: %d slots configured, estop pin %d, status led pin %d",
		path, len(cfg.Slots), cfg.EstopPin, cfg.StatusLEDPin)
	return nil
}
