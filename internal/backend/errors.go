package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoConfirmation is used when an envelope response lacks the
// confirmation block of a submitted document.
var ErrNoConfirmation = errors.New("no confirmation returned for document")

// TokenKind classifies a failed security token handshake.
type TokenKind string

const (
	TokenUnauthorized TokenKind = "unauthorized"
	TokenForbidden    TokenKind = "forbidden"
	TokenNotFound     TokenKind = "not_found"
	TokenServer       TokenKind = "server"
	TokenNetwork      TokenKind = "network"
	TokenMissing      TokenKind = "missing"
	TokenUnexpected   TokenKind = "unexpected"
)

// TokenError is returned when the CSRF token could not be fetched. The
// submission was not sent.
type TokenError struct {
	Kind       TokenKind
	StatusCode int
	Err        error
}

func (e *TokenError) Error() string {
	var msg string
	switch e.Kind {
	case TokenUnauthorized:
		msg = "authentication failed while fetching the security token: check user and password"
	case TokenForbidden:
		msg = "access denied while fetching the security token: the user lacks authorization for this service"
	case TokenNotFound:
		msg = "security token endpoint not found: check the service path and that the service is active"
	case TokenServer:
		msg = "backend server error while fetching the security token: retry later or contact the system administrator"
	case TokenNetwork:
		msg = "backend not reachable while fetching the security token: check the base URL and network"
	case TokenMissing:
		msg = "backend did not return a security token"
	default:
		msg = "unexpected response while fetching the security token"
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenError) Unwrap() error { return e.Err }

// tokenKind maps a handshake status code to its kind.
func tokenKind(status int) TokenKind {
	switch {
	case status == http.StatusUnauthorized:
		return TokenUnauthorized
	case status == http.StatusForbidden:
		return TokenForbidden
	case status == http.StatusNotFound:
		return TokenNotFound
	case status >= 500:
		return TokenServer
	default:
		return TokenUnexpected
	}
}

// HTTPError is a non-success response without a readable error body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend returned HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}
