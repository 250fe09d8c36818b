package browser

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/webdriver"
)

// ClosePolicy bounds the dialog-tolerant close loop.
type ClosePolicy struct {
	MaxAttempts int           // delete-window calls before ErrCloseTimeout
	Delay       time.Duration // wait after the first refused attempt
	MaxDelay    time.Duration // cap for the doubling wait
}

// DefaultClosePolicy allows 20 attempts, backing off from 100ms to 2s.
func DefaultClosePolicy() ClosePolicy {
	return ClosePolicy{
		MaxAttempts: 20,
		Delay:       100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

func (p ClosePolicy) normalize() ClosePolicy {
	def := DefaultClosePolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}
	return p
}

// backoff returns the wait after the given (1-based) refused attempt.
func (p ClosePolicy) backoff(attempt int) time.Duration {
	d := p.Delay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}

type closeState int

const (
	closeActivating closeState = iota
	closeClosing
	closeVerifying
)

func (s closeState) String() string {
	switch s {
	case closeActivating:
		return "activating"
	case closeClosing:
		return "closing"
	case closeVerifying:
		return "verifying"
	}
	return fmt.Sprintf("closeState(%d)", int(s))
}

// Close outcome labels.
const (
	closeResultClosed  = "closed"
	closeResultGone    = "gone"
	closeResultTimeout = "timeout"
	closeResultError   = "error"
)

// closeWindow drives one window to closure. The caller holds the gate for
// the whole loop. It returns the number of delete-window calls issued.
func (s *Session) closeWindow(ctx context.Context, handle string) (attempts int, result string, err error) {
	policy := s.closePolicy
	state := closeActivating
	deleted := false // last delete-window call succeeded

	for {
		switch state {
		case closeActivating:
			err := s.switchTo(ctx, handle)
			if webdriver.IsNoSuchWindow(err) {
				L_debug("browser: window already gone", "handle", handle, "attempts", attempts)
				return attempts, closeResultGone, nil
			}
			if err != nil {
				return attempts, closeResultError, err
			}
			state = closeClosing

		case closeClosing:
			attempts++
			raw, err := s.client.Delete(ctx, s.path("/window"))
			deleted = err == nil
			if deleted && lastWindowClosed(raw) {
				// The backend ends the session together with its last window.
				L_debug("browser: last window closed", "handle", handle, "attempts", attempts)
				return attempts, closeResultClosed, nil
			}
			if err != nil {
				if !webdriver.IsBackendError(err) {
					return attempts, closeResultError, fmt.Errorf("close window %s: %w", handle, err)
				}
				// A dialog raised from beforeunload answers the delete with an
				// error; the backend deals with the dialog before the next command.
				L_debug("browser: delete window answered with error", "handle", handle, "attempt", attempts, "error", err)
			}
			state = closeVerifying

		case closeVerifying:
			handles, err := s.handles(ctx)
			if deleted && webdriver.IsCode(err, webdriver.CodeInvalidSessionID) {
				L_debug("browser: session ended with its last window", "handle", handle, "attempts", attempts)
				return attempts, closeResultClosed, nil
			}
			if err != nil {
				return attempts, closeResultError, err
			}
			if !slices.Contains(handles, handle) {
				return attempts, closeResultClosed, nil
			}
			if attempts >= policy.MaxAttempts {
				return attempts, closeResultTimeout, fmt.Errorf("%w: %s still open after %d attempts", ErrCloseTimeout, handle, attempts)
			}
			wait := policy.backoff(attempts)
			L_warn("browser: window refused to close, retrying", "handle", handle, "attempt", attempts, "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return attempts, closeResultError, err
			}
			state = closeActivating
		}
	}
}

// lastWindowClosed reports whether a delete-window reply lists no remaining
// windows.
func lastWindowClosed(raw []byte) bool {
	v := gjson.GetBytes(raw, "value")
	return v.IsArray() && len(v.Array()) == 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
