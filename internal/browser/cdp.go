package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/webdriver"
)

// cdpCommand is any go-rod proto request; ProtoReq names the CDP method.
type cdpCommand interface {
	ProtoReq() string
}

type cdpRequest struct {
	Cmd    string     `json:"cmd"`
	Params cdpCommand `json:"params"`
}

// cdp sends one DevTools command to the focused window through the driver's
// passthrough endpoint. Caller holds the gate.
func (s *Session) cdp(ctx context.Context, cmd cdpCommand) error {
	method := cmd.ProtoReq()
	_, err := s.client.Post(ctx, s.path("/goog/cdp/execute"), cdpRequest{Cmd: method, Params: cmd})
	switch {
	case err == nil:
		return nil
	case webdriver.IsBackendError(err):
		return fmt.Errorf("%w: %s: %w", ErrCdpCommandFailed, method, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrCdpConnectionFailed, method, err)
	}
}

// suppressionCommands lists what hides automation markers in the focused
// window: the stealth script for future documents plus device emulation.
func (s *Session) suppressionCommands() []cdpCommand {
	var cmds []cdpCommand
	if s.stealth {
		cmds = append(cmds, &proto.PageAddScriptToEvaluateOnNewDocument{Source: stealth.JS})
	}
	if m := s.device.MetricsEmulation(); m != nil {
		cmds = append(cmds, m)
	}
	if ua := s.device.UserAgentEmulation(); ua != nil {
		cmds = append(cmds, ua)
	}
	return cmds
}

// suppress applies suppressionCommands to the focused window and stops at
// the first failure. Caller holds the gate.
func (s *Session) suppress(ctx context.Context) error {
	for _, cmd := range s.suppressionCommands() {
		if err := s.cdp(ctx, cmd); err != nil {
			s.metrics.ObserveSuppression("failed")
			return err
		}
	}
	s.metrics.ObserveSuppression("ok")
	return nil
}

// suppressQuietly is suppress for the open path, where a refused CDP command
// must not cost the caller its tab.
func (s *Session) suppressQuietly(ctx context.Context, handle string) {
	if len(s.suppressionCommands()) == 0 {
		return
	}
	if err := s.suppress(ctx); err != nil {
		L_warn("browser: automation suppression failed", "handle", handle, "error", err)
	}
}
