package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/src-d/go-billy.v4/osfs"

	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/preset"
)

func openPresetStore(c *cli.Context) (*preset.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	dataDir := c.String(flagDataDir)
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		return nil, errors.New("no data directory; set data_dir in the config or pass --data-dir")
	}
	return preset.NewStore(osfs.New(dataDir), cfg.PresetDir, logging.NewBlankLogger("motorctl.preset"))
}

func presetName(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("expected exactly one preset name")
	}
	return c.Args().First(), nil
}

// ListPresetsAction prints a table of the stored presets with their step counts.
func ListPresetsAction(c *cli.Context) error {
	store, err := openPresetStore(c)
	if err != nil {
		return err
	}
	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		printf(c.App.Writer, "no presets")
		return nil
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Name", "Steps", "Loop"})
	for _, name := range names {
		p, err := store.Load(name)
		if err != nil {
			t.AppendRow(table.Row{name, "unreadable: " + err.Error(), ""})
			continue
		}
		t.AppendRow(table.Row{p.Name, len(p.Steps), p.Loop})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// ShowPresetAction prints a stored preset as its JSON document.
func ShowPresetAction(c *cli.Context) error {
	name, err := presetName(c)
	if err != nil {
		return err
	}
	store, err := openPresetStore(c)
	if err != nil {
		return err
	}
	p, err := store.Load(name)
	if err != nil {
		return err
	}
	data, err := preset.Encode(p)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", data)
	return nil
}

// DeletePresetAction removes a stored preset.
func DeletePresetAction(c *cli.Context) error {
	name, err := presetName(c)
	if err != nil {
		return err
	}
	store, err := openPresetStore(c)
	if err != nil {
		return err
	}
	if err := store.Delete(name); err != nil {
		return err
	}
	printf(c.App.Writer, "deleted %s", name)
	return nil
}
