package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the error object returned by the Graph API.
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode"`
	TraceID string `json:"fbtrace_id"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("graph api error %d (%s): %s", e.Code, e.Type, msg)
	}
	return fmt.Sprintf("graph api error (status %d): %s", e.Status, msg)
}

// Graph error code for an expired or invalid access token.
const codeOAuth = 190

// IsAuth reports whether err is an access token failure.
func IsAuth(err error) bool {
	var ge *Error
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Code == codeOAuth || ge.Type == "OAuthException" || ge.Status == http.StatusUnauthorized
}
