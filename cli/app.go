// Package cli contains the motorctl command line.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig  = "config"
	flagFake    = "fake"
	flagDebug   = "debug"
	flagDataDir = "data-dir"
)

// NewApp returns the motorctl command line writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "motorctl",
		Usage:           "run and inspect the multi-motor controller",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the controller until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagFake,
						Usage: "use an in-memory board instead of the GPIO hardware",
					},
				},
				Action: RunAction,
			},
			{
				Name:            "presets",
				Usage:           "work with stored presets",
				HideHelpCommand: true,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagDataDir,
						Usage: "read presets below `DIR` instead of the configured data directory",
					},
				},
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list stored presets",
						Action: ListPresetsAction,
					},
					{
						Name:      "show",
						Usage:     "print a stored preset",
						ArgsUsage: "<name>",
						Action:    ShowPresetAction,
					},
					{
						Name:      "delete",
						Usage:     "delete a stored preset",
						ArgsUsage: "<name>",
						Action:    DeletePresetAction,
					},
				},
			},
			{
				Name:            "config",
				Usage:           "work with the controller configuration",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "validate",
						Usage:  "check the configuration file",
						Action: ValidateConfigAction,
					},
				},
			},
		},
	}
}
