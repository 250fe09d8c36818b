package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/roelfdiedericks/tabgate/internal/browser"
	"github.com/roelfdiedericks/tabgate/internal/config"
	"github.com/roelfdiedericks/tabgate/internal/paths"
)

// ProfilesCmd groups profile maintenance.
type ProfilesCmd struct {
	List   ProfilesListCmd   `cmd:"" default:"1" help:"List profiles."`
	Clear  ProfilesClearCmd  `cmd:"" help:"Remove cookies, cache and history from a profile."`
	Delete ProfilesDeleteCmd `cmd:"" help:"Delete a profile."`
	Prune  ProfilesPruneCmd  `cmd:"" help:"Remove ephemeral profiles left by sessions that did not close."`
}

// ProfilesDirFlag selects the data directory holding the profiles.
type ProfilesDirFlag struct {
	Dir string `help:"Data directory (default ~/.tabgate)." type:"path"`
}

func (f ProfilesDirFlag) manager(g *Globals) (*browser.ProfileManager, error) {
	cfg, err := g.load(nil)
	if err != nil {
		return nil, err
	}
	b := browser.BrowserConfig{Dir: cfg.Browser.Dir}
	if f.Dir != "" {
		b.Dir = f.Dir
	}
	dir, err := b.ResolveProfilesDir()
	if err != nil {
		return nil, err
	}
	return browser.NewProfileManager(dir), nil
}

type ProfilesListCmd struct {
	ProfilesDirFlag
}

func (c *ProfilesListCmd) Run(g *Globals) error {
	pm, err := c.manager(g)
	if err != nil {
		return err
	}
	profiles, err := pm.List()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Printf("no profiles in %s\n", pm.Dir())
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tLAST USED\tEPHEMERAL")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", p.Name, browser.FormatSize(p.Size), p.LastUsed.Format("2006-01-02 15:04"), p.Ephemeral)
	}
	return w.Flush()
}

type ProfilesClearCmd struct {
	ProfilesDirFlag
	Name string `arg:"" help:"Profile name."`
}

func (c *ProfilesClearCmd) Run(g *Globals) error {
	pm, err := c.manager(g)
	if err != nil {
		return err
	}
	return pm.Clear(c.Name)
}

type ProfilesDeleteCmd struct {
	ProfilesDirFlag
	Name string `arg:"" help:"Profile name."`
}

func (c *ProfilesDeleteCmd) Run(g *Globals) error {
	pm, err := c.manager(g)
	if err != nil {
		return err
	}
	return pm.Delete(c.Name)
}

type ProfilesPruneCmd struct {
	ProfilesDirFlag
}

func (c *ProfilesPruneCmd) Run(g *Globals) error {
	pm, err := c.manager(g)
	if err != nil {
		return err
	}
	n, err := pm.PruneEphemeral()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d ephemeral profile(s)\n", n)
	return nil
}

// ConfigCmd groups config file commands.
type ConfigCmd struct {
	Init    ConfigInitCmd    `cmd:"" help:"Write a config file with the defaults."`
	Show    ConfigShowCmd    `cmd:"" default:"1" help:"Print the effective configuration."`
	Backups ConfigBackupsCmd `cmd:"" help:"List backups of a config file."`
}

type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" type:"path" help:"Where to write (default ~/.tabgate/tabgate.json). The extension picks the format."`
	Force bool   `help:"Overwrite an existing file (the old one is kept as a backup)."`
}

func (c *ConfigInitCmd) Run(_ *Globals) error {
	path := c.Path
	if path == "" {
		var err error
		if path, err = paths.DefaultConfigPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default(), config.DefaultBackupCount); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

type ConfigShowCmd struct {
	Format string `help:"Output format." enum:"json,toml,yaml" default:"json"`
}

func (c *ConfigShowCmd) Run(g *Globals) error {
	cfg, err := g.load(nil)
	if err != nil {
		return err
	}
	data, err := config.Encode(cfg, config.Format(c.Format))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

type ConfigBackupsCmd struct {
	Path string `arg:"" optional:"" type:"path" help:"Config file (default: the active one)."`
}

func (c *ConfigBackupsCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		path = g.Config
	}
	if path == "" {
		var err error
		if path, err = paths.ConfigPath(); err != nil {
			return err
		}
	}
	if path == "" {
		return errors.New("no config file found")
	}
	backups := config.ListBackups(path)
	if len(backups) == 0 {
		fmt.Printf("no backups of %s\n", path)
		return nil
	}
	for _, b := range backups {
		fmt.Printf("%d\t%s\t%s\t%s\n", b.Index, b.ModTime.Format("2006-01-02 15:04:05"), browser.FormatSize(b.Size), b.Path)
	}
	return nil
}
