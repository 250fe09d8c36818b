package main

import (
	"context"
	"fmt"

	"github.com/roelfdiedericks/tabgate/internal/browser"
	. "github.com/roelfdiedericks/tabgate/internal/logging"
)

// TabsCmd lists the windows of a session created elsewhere.
type TabsCmd struct {
	BackendFlags

	Session string `required:"" help:"Session id to attach to."`
	Titles  bool   `help:"Read each tab's title (focuses every tab in turn)."`
}

func (c *TabsCmd) Run(g *Globals) error {
	s, err := attach(g, &c.BackendFlags, c.Session)
	if err != nil {
		return err
	}
	ctx := context.Background()

	tabs, err := s.Tabs(ctx)
	if err != nil {
		return err
	}
	for _, tab := range tabs {
		if !c.Titles {
			fmt.Println(tab.ID())
			continue
		}
		title, err := browser.Inject[string](ctx, tab, "return document.title;")
		if err != nil {
			L_warn("tabs: could not read title", "tab", tab.ID(), "error", err)
		}
		fmt.Printf("%s\t%s\n", tab.ID(), title)
	}
	return nil
}

// CloseCmd closes windows of a session created elsewhere.
type CloseCmd struct {
	BackendFlags

	Session string   `required:"" help:"Session id to attach to."`
	Tabs    []string `arg:"" optional:"" help:"Window handles to close (default: all)."`
	End     bool     `help:"Also end the session afterwards."`
}

func (c *CloseCmd) Run(g *Globals) error {
	s, err := attach(g, &c.BackendFlags, c.Session)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var tabs []*browser.Tab
	if len(c.Tabs) == 0 {
		if tabs, err = s.Tabs(ctx); err != nil {
			return err
		}
	} else {
		for _, id := range c.Tabs {
			tab, err := s.Tab(ctx, id)
			if err != nil {
				return err
			}
			tabs = append(tabs, tab)
		}
	}

	if err := closeAll(ctx, tabs); err != nil {
		return err
	}
	fmt.Printf("closed %d tab(s)\n", len(tabs))

	if c.End {
		return s.Close(ctx)
	}
	return nil
}

func attach(g *Globals, flags *BackendFlags, id string) (*browser.Session, error) {
	cfg, err := g.load(flags)
	if err != nil {
		return nil, err
	}
	opts := cfg.ToBrowserOptions()
	if opts.Port == 0 {
		return nil, fmt.Errorf("attaching needs --port (or driver.port in the config)")
	}
	return browser.Attach(context.Background(), opts, id)
}
