package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roelfdiedericks/tabgate/internal/browser"
	. "github.com/roelfdiedericks/tabgate/internal/logging"
)

// RunCmd opens URLs in concurrent tabs.
type RunCmd struct {
	BackendFlags

	URLs    []string      `arg:"" optional:"" help:"URLs to open, one tab each." default:"https://example.com"`
	Script  string        `help:"Script to inject into every tab; the result is printed as JSON." short:"s"`
	Hold    time.Duration `help:"Keep the tabs open this long before closing them." default:"0s"`
	Connect bool          `help:"Create the session on a driver already running at --host/--port."`
	Keep    bool          `help:"Leave the session running and print its id instead of closing it."`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := g.load(&c.BackendFlags)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	runID := uuid.NewString()[:8]
	opts := cfg.ToBrowserOptions()
	opts.Metrics = rec

	s, err := connectOrLaunch(ctx, opts, c.Connect)
	if err != nil {
		return err
	}
	L_info("run: session ready", "run", runID, "session", s.ID(), "addr", s.Addr())
	if !c.Keep {
		defer s.Close(context.Background())
	}

	tabs, err := openAll(ctx, s, c.URLs)
	if err != nil {
		return err
	}

	for _, tab := range tabs {
		line := fmt.Sprintf("%s\t%s", tab.ID(), tab.URL())
		if c.Script != "" {
			raw, err := tab.InjectRaw(ctx, c.Script)
			if err != nil {
				return err
			}
			line += "\t" + string(raw)
		}
		fmt.Println(line)
	}

	if c.Hold > 0 {
		L_info("run: holding tabs open", "run", runID, "for", c.Hold)
		select {
		case <-ctx.Done():
		case <-time.After(c.Hold):
		}
	}

	if c.Keep {
		fmt.Printf("session %s on %s\n", s.ID(), s.Addr())
		return nil
	}
	return closeAll(context.Background(), tabs)
}

// openAll opens one tab per URL concurrently.
func openAll(ctx context.Context, s *browser.Session, urls []string) ([]*browser.Tab, error) {
	tabs := make([]*browser.Tab, len(urls))
	eg, ctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		eg.Go(func() error {
			tab, err := s.Open(ctx, u)
			if err != nil {
				return err
			}
			tabs[i] = tab
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return tabs, nil
}

// closeAll closes tabs concurrently and reports how long each took.
func closeAll(ctx context.Context, tabs []*browser.Tab) error {
	var eg errgroup.Group
	for _, tab := range tabs {
		eg.Go(func() error {
			start := time.Now()
			if err := tab.Close(ctx); err != nil {
				return err
			}
			L_info("run: tab closed", "tab", tab.ID(), "took", time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
	return eg.Wait()
}

// DemoCmd reproduces the classic close-protocol exercise.
type DemoCmd struct {
	BackendFlags

	Connect bool          `help:"Create the session on a driver already running at --host/--port."`
	Hold    time.Duration `help:"Time to leave the tabs open before closing." default:"1s"`
}

var demoPages = []struct {
	title string
	body  string
}{
	{"plain", `<h1>plain</h1>`},
	{"beforeunload", `<h1>beforeunload</h1><script>
addEventListener('beforeunload', e => { e.preventDefault(); e.returnValue = ''; });
</script>`},
	{"dialogs", `<h1>dialogs</h1><script>
setTimeout(() => { alert('hello'); confirm('leave?'); }, 300);
</script>`},
}

func dataURL(title, body string) string {
	html := "<!doctype html><title>" + title + "</title>" + body
	return "data:text/html;charset=utf-8," + url.PathEscape(html)
}

func (c *DemoCmd) Run(g *Globals) error {
	cfg, err := g.load(&c.BackendFlags)
	if err != nil {
		return err
	}
	cfg.Browser.SafeURLs = false
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	opts := cfg.ToBrowserOptions()
	opts.Metrics = rec
	s, err := connectOrLaunch(ctx, opts, c.Connect)
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	urls := make([]string, 0, len(demoPages))
	for _, p := range demoPages {
		urls = append(urls, dataURL(p.title, p.body))
	}
	tabs, err := openAll(ctx, s, urls)
	if err != nil {
		return err
	}

	for _, tab := range tabs {
		title, err := browser.Inject[string](ctx, tab, "return document.title;")
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", tab.ID(), title)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.Hold):
	}

	if err := closeAll(ctx, tabs); err != nil {
		return err
	}
	handles, err := s.Handles(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("remaining windows: %s\n", strings.Join(handles, ", "))
	return nil
}
