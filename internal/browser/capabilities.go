package browser

import (
	"strings"

	"github.com/roelfdiedericks/tabgate/internal/paths"
)

type newSessionRequest struct {
	Capabilities capabilities `json:"capabilities"`
}

type capabilities struct {
	AlwaysMatch alwaysMatch `json:"alwaysMatch"`
}

type alwaysMatch struct {
	BrowserName             string        `json:"browserName"`
	UnhandledPromptBehavior string        `json:"unhandledPromptBehavior,omitempty"`
	ChromeOptions           chromeOptions `json:"goog:chromeOptions"`
}

type chromeOptions struct {
	Args            []string `json:"args,omitempty"`
	Binary          string   `json:"binary,omitempty"`
	ExcludeSwitches []string `json:"excludeSwitches,omitempty"`
}

// buildCapabilities turns the browser config into a new-session body.
// profileDir and binary are already resolved; either may be empty.
func buildCapabilities(cfg BrowserConfig, profileDir, binary string) (newSessionRequest, error) {
	var args []string
	if profileDir != "" {
		if err := paths.Validate(profileDir); err != nil {
			return newSessionRequest{}, err
		}
		args = append(args, "--user-data-dir="+profileDir)
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	if cfg.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	if size := strings.TrimSpace(cfg.WindowSize); size != "" {
		args = append(args, "--window-size="+size)
	}
	opts := chromeOptions{Binary: binary}
	if cfg.Stealth {
		args = append(args, "--disable-blink-features=AutomationControlled")
		opts.ExcludeSwitches = []string{"enable-automation"}
	}
	args = append(args, cfg.ExtraArgs...)
	opts.Args = args

	if binary != "" {
		if err := paths.Validate(binary); err != nil {
			return newSessionRequest{}, err
		}
	}

	return newSessionRequest{Capabilities: capabilities{AlwaysMatch: alwaysMatch{
		BrowserName:             "chrome",
		UnhandledPromptBehavior: cfg.ResolvePromptBehavior(),
		ChromeOptions:           opts,
	}}}, nil
}
