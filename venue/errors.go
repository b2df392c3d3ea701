package venue

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Severity tags a classified venue error.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
)

// Action is the remediation hint attached to a classified error.
type Action string

const (
	ActionAdjustPrecision Action = "adjust_precision"
	ActionSyncTimeSig     Action = "sync_time_signature"
	ActionRateLimitWait   Action = "rate_limit_wait"
	ActionNone            Action = ""
)

// Code is the venue-neutral tag a raw venue code is classified into.
type Code string

const (
	CodeOrderArchived    Code = "ORDER_ARCHIVED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInvalidTimestamp Code = "INVALID_TIMESTAMP"
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	CodeInvalidQuantity  Code = "INVALID_QUANTITY"
	CodeUnknown          Code = "UNKNOWN"
)

// VenueError is a classified venue-API error. It
// satisfies the error interface and carries structured fields for
// code, severity, remediation action, and context.
type VenueError struct {
	Code      Code
	Message   string
	Type      string
	Context   map[string]any
	Timestamp time.Time
	Severity  Severity
	Action    Action
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue: %s (%s): %s", e.Code, e.Severity, e.Message)
}

// RateLimited specializes VenueError with action rate_limit_wait.
type RateLimited struct{ *VenueError }

// AuthError is a login/signature failure surfaced from a venue's private
// channel; it does not necessarily carry an HTTP code.
type AuthError struct{ *VenueError }

var precisionPattern = regexp.MustCompile(`(?i)precision|decimal|lot[_ ]?size`)

// rawCodeTags maps the raw venue code (as in a {code,msg} JSON body) to
// the normalized Code tag.
var rawCodeTags = map[string]Code{
	"-2013": CodeOrderArchived,
	"-1003": CodeRateLimited,
	"-1021": CodeInvalidTimestamp,
	"-1022": CodeInvalidSignature,
	"-1013": CodeInvalidQuantity,
}

// ClassifyError builds a VenueError from a raw {code, msg} body:
// precision-pattern messages warn with adjust_precision,
// time/signature codes are critical with sync_time_signature, the
// rate-limit code warns with rate_limit_wait, everything else is a bare
// error.
func ClassifyError(rawCode, msg string) *VenueError {
	tag, known := rawCodeTags[rawCode]
	if !known {
		tag = CodeUnknown
	}

	ve := &VenueError{
		Code:      tag,
		Message:   msg,
		Type:      "venue_error",
		Context:   map[string]any{"raw_code": rawCode},
		Timestamp: time.Now(),
		Severity:  SeverityError,
		Action:    ActionNone,
	}

	switch {
	case precisionPattern.MatchString(msg):
		ve.Severity = SeverityWarning
		ve.Action = ActionAdjustPrecision
	case tag == CodeInvalidTimestamp || tag == CodeInvalidSignature || isAuthFailureMessage(msg):
		ve.Severity = SeverityCritical
		ve.Action = ActionSyncTimeSig
	case tag == CodeRateLimited:
		ve.Severity = SeverityWarning
		ve.Action = ActionRateLimitWait
	}

	return ve
}

// AsRateLimited reports whether a classified VenueError carries the
// rate_limit_wait action, wrapping it as a RateLimited for callers that
// want to branch on it distinctly (e.g. to trigger the connector's own
// backoff instead of surfacing a bare VenueError).
func AsRateLimited(ve *VenueError) (*RateLimited, bool) {
	if ve.Action == ActionRateLimitWait {
		return &RateLimited{ve}, true
	}
	return nil, false
}

// AsAuthError reports whether a classified VenueError reflects a
// login/signature failure, wrapping it as an AuthError for callers that
// branch on authentication state (e.g. private-channel login handling)
// rather than generic REST error severity.
func AsAuthError(ve *VenueError) (*AuthError, bool) {
	if ve.Code == CodeInvalidSignature || isAuthFailureMessage(ve.Message) {
		return &AuthError{ve}, true
	}
	return nil, false
}

func isAuthFailureMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "signature") || strings.Contains(lower, "login") || strings.Contains(lower, "unauthorized")
}
