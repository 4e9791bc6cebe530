// Package icloud implements the authenticated session layer for the iCloud
// web API: cookie-backed HTTP execution, the signin and two-factor flows,
// session persistence across runs, and per-response error classification.
package icloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for API error classification.
// Use errors.Is(err, icloud.ErrSessionInvalid) to check.
var (
	ErrSessionInvalid      = errors.New("icloud: invalid global session")
	ErrInternal            = errors.New("icloud: internal provider error")
	ErrAPIResponse         = errors.New("icloud: api error")
	ErrLoginRejected       = errors.New("icloud: invalid email/password combination")
	ErrMFARequired         = errors.New("icloud: two-factor authentication required")
	ErrMFARejected         = errors.New("icloud: verification code rejected")
	ErrRequiresInteractive = errors.New("icloud: two-factor authentication required but stdin is not interactive")
	ErrServiceNotActivated = errors.New("icloud: service not activated")
)

// APIError wraps a sentinel error with the HTTP status code and the reason
// and code fields from the provider's JSON error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Reason     string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("icloud: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Reason)
	}

	return fmt.Sprintf("icloud: HTTP %d: %s", e.StatusCode, e.Reason)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// errorEnvelope is the union of the JSON error shapes the provider uses.
// Which fields are populated varies by endpoint and by error.
type errorEnvelope struct {
	ErrorMessage    string          `json:"errorMessage"`
	Reason          string          `json:"reason"`
	ErrorReason     string          `json:"errorReason"`
	Error           json.RawMessage `json:"error"`
	ErrorCode       json.RawMessage `json:"errorCode"`
	ServerErrorCode string          `json:"serverErrorCode"`
}

// envelopeReason extracts the human-readable reason, trying the fields in
// the provider's order of preference.
func (e *errorEnvelope) envelopeReason() string {
	for _, r := range []string{e.ErrorMessage, e.Reason, e.ErrorReason} {
		if r != "" {
			return r
		}
	}

	// "error" may be a string reason or a numeric flag.
	var s string
	if len(e.Error) > 0 && json.Unmarshal(e.Error, &s) == nil {
		return s
	}

	return ""
}

// envelopeCode extracts the machine code, which some endpoints send as a
// string and others as a number.
func (e *errorEnvelope) envelopeCode() string {
	if len(e.ErrorCode) > 0 {
		var s string
		if json.Unmarshal(e.ErrorCode, &s) == nil {
			return s
		}

		var n json.Number
		if json.Unmarshal(e.ErrorCode, &n) == nil {
			return n.String()
		}
	}

	return e.ServerErrorCode
}

// classifyEnvelope inspects a JSON response body for the provider's error
// envelope and maps it to a sentinel error. Returns nil when the body does
// not carry an error. Bodies are JSON on every endpoint except media byte
// streams, and errors can arrive with HTTP 200, so callers must run this on
// every JSON response.
func classifyEnvelope(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Non-object JSON (or junk) cannot carry an envelope.
		return nil
	}

	reason := env.envelopeReason()
	code := env.envelopeCode()

	// "error" as a bare non-zero number flags an error without a reason.
	if reason == "" && len(env.Error) > 0 && string(env.Error) != "0" {
		reason = "Unknown reason"
	}

	if reason == "" && code == "" {
		return nil
	}

	sentinel := classifyReason(reason, code)

	return &APIError{
		StatusCode: status,
		Code:       code,
		Reason:     reason,
		Err:        sentinel,
	}
}

// classifyReason maps an envelope reason and code to a sentinel error.
func classifyReason(reason, code string) error {
	switch {
	case strings.Contains(reason, "Invalid global session"), code == "100":
		return ErrSessionInvalid
	case strings.HasPrefix(reason, "INTERNAL_ERROR"), strings.HasPrefix(code, "INTERNAL_ERROR"):
		return ErrInternal
	case reason == "ZONE_NOT_FOUND", reason == "AUTHENTICATION_FAILED":
		return ErrServiceNotActivated
	default:
		return ErrAPIResponse
	}
}

// IsSessionError reports whether err means the session cookies are no longer
// accepted and a full re-authentication is required.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionInvalid)
}

// IsInternalError reports whether err is a provider-side internal failure,
// retryable with a fixed wait.
func IsInternalError(err error) bool {
	return errors.Is(err, ErrInternal)
}
