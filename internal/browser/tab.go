package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
)

// Tab is one backend window. Every method that touches the page takes the
// session's gate and focuses this window first.
//
// A Tab is not safe for concurrent mutation of its own cached URL; callers
// that share one Tab between goroutines must order their calls themselves.
type Tab struct {
	session *Session
	handle  string
	url     string
	counted bool // contributes to the open tabs gauge
}

// ID returns the window handle.
func (t *Tab) ID() string { return t.handle }

// URL returns the last URL this Tab navigated to, "" if unknown.
func (t *Tab) URL() string { return t.url }

// Session returns the owning session.
func (t *Tab) Session() *Session { return t.session }

// Activate focuses this window.
func (t *Tab) Activate(ctx context.Context) error {
	return t.session.focus(ctx, "activate", func(ctx context.Context) error {
		return t.session.switchTo(ctx, t.handle)
	})
}

// Navigate loads rawURL in this window. The cached URL changes only after
// the backend acknowledges.
func (t *Tab) Navigate(ctx context.Context, rawURL string) error {
	if err := t.session.guard.Check(ctx, rawURL); err != nil {
		return err
	}
	err := t.session.focus(ctx, "navigate", func(ctx context.Context) error {
		if err := t.session.switchTo(ctx, t.handle); err != nil {
			return err
		}
		return t.session.navigate(ctx, rawURL)
	})
	if err != nil {
		return fmt.Errorf("navigate %s to %s: %w", t.handle, rawURL, err)
	}
	t.url = rawURL
	return nil
}

// InjectRaw runs script synchronously in this window and returns the JSON
// result. args are exposed to the script as arguments[0..n].
func (t *Tab) InjectRaw(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	var out json.RawMessage
	err := t.session.focus(ctx, "inject", func(ctx context.Context) error {
		if err := t.session.switchTo(ctx, t.handle); err != nil {
			return err
		}
		var err error
		out, err = t.session.execute(ctx, script, args)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inject into %s: %w", t.handle, err)
	}
	return out, nil
}

// InjectInto runs script and decodes its result into dst.
func (t *Tab) InjectInto(ctx context.Context, dst any, script string, args ...any) error {
	raw, err := t.InjectRaw(ctx, script, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode script result from %s: %w", t.handle, err)
	}
	return nil
}

// Inject runs script in t and decodes the result as T.
func Inject[T any](ctx context.Context, t *Tab, script string, args ...any) (T, error) {
	var v T
	err := t.InjectInto(ctx, &v, script, args...)
	return v, err
}

const clickScript = `const el = document.querySelector(arguments[0]);
if (!el) return false;
el.click();
return true;`

const setValueScript = `const el = document.querySelector(arguments[0]);
if (!el) return false;
el.focus();
el.value = arguments[1];
el.dispatchEvent(new Event('input', {bubbles: true}));
el.dispatchEvent(new Event('change', {bubbles: true}));
return true;`

// Click clicks the first element matching selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	found, err := Inject[bool](ctx, t, clickScript, selector)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// SetValue sets the value of the first element matching selector and fires
// input and change events.
func (t *Tab) SetValue(ctx context.Context, selector, value string) error {
	found, err := Inject[bool](ctx, t, setValueScript, selector, value)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// Harden applies the automation suppression commands to this window and
// reports ErrCdpConnectionFailed or ErrCdpCommandFailed. Open does the same
// but only logs failures.
func (t *Tab) Harden(ctx context.Context) error {
	return t.session.focus(ctx, "harden", func(ctx context.Context) error {
		if err := t.session.switchTo(ctx, t.handle); err != nil {
			return err
		}
		return t.session.suppress(ctx)
	})
}

// Close closes this window, retrying while page script keeps it open
// (beforeunload, alert, confirm). The whole loop runs in one gate hold.
// A window that is already gone counts as closed. When the retry budget runs
// out the error wraps ErrCloseTimeout.
func (t *Tab) Close(ctx context.Context) error {
	s := t.session
	var (
		attempts int
		result   = closeResultError
	)
	err := s.focus(ctx, "close", func(ctx context.Context) error {
		var err error
		attempts, result, err = s.closeWindow(ctx, t.handle)
		if err == nil && s.lastHandle == t.handle {
			s.lastHandle = ""
		}
		return err
	})
	if errors.Is(err, ErrSessionClosed) {
		return err
	}
	s.metrics.ObserveClose(attempts, result)
	if err != nil {
		return fmt.Errorf("close tab %s: %w", t.handle, err)
	}

	if t.counted {
		t.counted = false
		s.metrics.TabClosed()
	}
	L_debug("browser: tab closed", "session", s.id, "handle", t.handle, "attempts", attempts, "result", result)
	return nil
}
