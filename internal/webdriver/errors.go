package webdriver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// W3C WebDriver error codes the browser package reacts to.
const (
	CodeNoSuchWindow        = "no such window"
	CodeInvalidSessionID    = "invalid session id"
	CodeUnexpectedAlertOpen = "unexpected alert open"
	CodeNoSuchAlert         = "no such alert"
	CodeJavascriptError     = "javascript error"
	CodeUnknownCommand      = "unknown command"
)

// Error is a backend answer with a non-2xx status. Code carries the W3C error
// code from {"value":{"error":...}} when the body has one.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	status := http.StatusText(e.StatusCode)
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	} else {
		status = fmt.Sprintf("%d %s", e.StatusCode, status)
	}
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("webdriver: %s %s: %s: %s: %s", e.Method, e.Path, status, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("webdriver: %s %s: %s: %s", e.Method, e.Path, status, e.Code)
	}
	return fmt.Sprintf("webdriver: %s %s: %s", e.Method, e.Path, status)
}

// parseError creates an Error from a failed response body.
func parseError(method, path string, statusCode int, body []byte) error {
	e := &Error{Method: method, Path: path, StatusCode: statusCode}
	if gjson.ValidBytes(body) {
		v := gjson.GetBytes(body, "value")
		e.Code = v.Get("error").String()
		e.Message = v.Get("message").String()
	}
	return e
}

// IsCode reports whether err is a backend error with the given W3C code.
func IsCode(err error, code string) bool {
	var we *Error
	return errors.As(err, &we) && we.Code == code
}

// IsNoSuchWindow reports whether the backend said the target window is gone.
func IsNoSuchWindow(err error) bool {
	return IsCode(err, CodeNoSuchWindow)
}

// IsBackendError reports whether err came back from the backend as a
// protocol-level error, as opposed to a transport failure.
func IsBackendError(err error) bool {
	var we *Error
	return errors.As(err, &we)
}
