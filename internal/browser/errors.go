package browser

import (
	"errors"

	"github.com/roelfdiedericks/tabgate/internal/paths"
)

// Error kinds surfaced by Session and Tab. Callers match them with errors.Is;
// the wrapped chain keeps the transport or decode error underneath.
var (
	ErrInvalidPath     = paths.ErrInvalidPath
	ErrInvalidRootPath = paths.ErrInvalidRootPath

	ErrIncorrectSessionID     = errors.New("incorrect session ID")
	ErrIncorrectWindowHandle  = errors.New("incorrect window handle")
	ErrIncorrectWindowHandles = errors.New("incorrect window handles list")
	ErrNoWindowHandles        = errors.New("no window handles found")

	ErrCdpConnectionFailed = errors.New("failed to connect to CDP (Chrome DevTools Protocol)")
	ErrCdpCommandFailed    = errors.New("CDP command execution failed")

	ErrUnexpectedResponse = errors.New("unexpected response: no value field")
	ErrElementNotFound    = errors.New("element not found for the given selector")

	ErrCloseTimeout  = errors.New("window did not close within the retry budget")
	ErrSessionClosed = errors.New("session is closed")
)
