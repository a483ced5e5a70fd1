package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrUnauthorized means the authentication proof was missing, expired or
	// rejected. From Request it is terminal: tokens have been cleared and the
	// unauthorized callback has run. From Login it means bad credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRefreshFailed means the refresh endpoint rejected the refresh token
	// or no refresh token was available.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrNetwork matches any *NetworkError.
	ErrNetwork = errors.New("network failure")
)

// NetworkError is a transport-level failure (DNS, refused connection,
// timeout). It never clears stored tokens.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// LoginFailedError is a login rejection other than bad credentials.
type LoginFailedError struct {
	StatusCode int
	Reason     string
}

func (e *LoginFailedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("login failed (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("login failed (status %d)", e.StatusCode)
}

// StatusError is a non-2xx response returned by the JSON helpers.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += " " + e.Body
	}
	return msg
}

// maxErrorBody caps the response text kept in a StatusError.
const maxErrorBody = 512

func newStatusError(method, path string, res *resty.Response) *StatusError {
	body := strings.TrimSpace(res.String())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: res.StatusCode(),
		Body:       body,
	}
}

// IsStatus returns true if err (or any wrapped error) is a StatusError or
// LoginFailedError with the given status code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == code
	}
	var loginErr *LoginFailedError
	if errors.As(err, &loginErr) {
		return loginErr.StatusCode == code
	}
	return false
}
