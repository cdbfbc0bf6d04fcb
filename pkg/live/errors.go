package live

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Status values used by the endpoint in error payloads.
const (
	StatusUnavailable       = "UNAVAILABLE"
	StatusResourceExhausted = "RESOURCE_EXHAUSTED"
)

// APIError is an error reported by the endpoint, either as an error payload or
// as a close frame.
type APIError struct {
	// Code is the HTTP-equivalent status code, if known.
	Code int

	// Status is the canonical status name, e.g. "UNAVAILABLE".
	Status string

	// Message is the endpoint's human-readable description.
	Message string
}

// Error implements error.
func (e *APIError) Error() string {
	switch {
	case e.Status != "" && e.Code != 0:
		return fmt.Sprintf("live: %s (%d %s)", e.Message, e.Code, e.Status)
	case e.Status != "":
		return fmt.Sprintf("live: %s (%s)", e.Message, e.Status)
	case e.Code != 0:
		return fmt.Sprintf("live: %s (%d)", e.Message, e.Code)
	default:
		return "live: " + e.Message
	}
}

// IsUnavailable reports whether err is a transient endpoint overload that is
// worth retrying.
func IsUnavailable(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == http.StatusServiceUnavailable || ae.Status == StatusUnavailable
}

// IsQuotaExceeded reports whether err signals an exhausted usage quota.
func IsQuotaExceeded(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) && (ae.Code == http.StatusTooManyRequests || ae.Status == StatusResourceExhausted) {
		return true
	}
	return err != nil && IsQuotaMessage(err.Error())
}

// IsQuotaMessage reports whether a user-facing error message describes an
// exhausted quota. It is used where only the message survived, such as
// errors relayed to a UI.
func IsQuotaMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "resource has been exhausted") || strings.Contains(m, "quota")
}

// Close-frame reasons the endpoint uses in place of a structured payload.
var closeReasons = []struct {
	prefix string
	code   int
	status string
}{
	{"the service is currently unavailable", http.StatusServiceUnavailable, StatusUnavailable},
	{"resource has been exhausted", http.StatusTooManyRequests, StatusResourceExhausted},
	{"quota", http.StatusTooManyRequests, StatusResourceExhausted},
}

// FromClose builds an APIError from a websocket close frame. closeCode is the
// websocket status code and reason the close reason text. Transports call it
// so that callers only ever classify *APIError values.
func FromClose(closeCode int, reason string) *APIError {
	ae := &APIError{Message: reason}
	if ae.Message == "" {
		ae.Message = fmt.Sprintf("connection closed with status %d", closeCode)
	}
	// 1013 is "try again later".
	if closeCode == 1013 {
		ae.Code, ae.Status = http.StatusServiceUnavailable, StatusUnavailable
		return ae
	}
	lower := strings.ToLower(reason)
	for _, r := range closeReasons {
		if strings.Contains(lower, r.prefix) {
			ae.Code, ae.Status = r.code, r.status
			return ae
		}
	}
	return ae
}
