package domain

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
)

// Field error codes.
const (
	CodeRequired      = "REQUIRED"
	CodeDuplicate     = "DUPLICATE"
	CodeInvalidFormat = "INVALID_FORMAT"
	CodeInvalidValue  = "INVALID_VALUE"
	CodeTooLong       = "TOO_LONG"
	CodeImmutable     = "IMMUTABLE"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e FieldError) Error() string {
	if e.Message == "" {
		return e.Field + ": " + e.Code
	}
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Code, e.Message)
}

// ValidateEvent checks a submitted event. Producer timestamps are
// trusted verbatim, so only presence and shape are checked here.
func ValidateEvent(ev *Event) []FieldError {
	var errs []FieldError

	errs = appendRequired(errs, "source_app", ev.SourceApp, MaxSourceAppLen)
	errs = appendRequired(errs, "session_id", ev.SessionID, MaxSessionIDLen)
	errs = appendRequired(errs, "hook_event_type", ev.HookEventType, MaxHookEventTypeLen)

	if IsEmptyJSON(ev.Payload) {
		errs = append(errs, FieldError{Field: "payload", Code: CodeRequired})
	}
	if ev.Timestamp < 0 {
		errs = append(errs, FieldError{Field: "timestamp", Code: CodeInvalidValue, Message: "must be epoch milliseconds"})
	}
	if ev.HumanInTheLoop != nil {
		errs = append(errs, validateHITL(ev.HumanInTheLoop)...)
	}
	return errs
}

func appendRequired(errs []FieldError, field, v string, maxLen int) []FieldError {
	switch {
	case strings.TrimSpace(v) == "":
		return append(errs, FieldError{Field: field, Code: CodeRequired})
	case len(v) > maxLen:
		return append(errs, FieldError{Field: field, Code: CodeTooLong, Message: fmt.Sprintf("max length %d", maxLen)})
	}
	return errs
}

func validateHITL(h *HumanInTheLoop) []FieldError {
	var errs []FieldError
	const p = "human_in_the_loop."

	if strings.TrimSpace(h.Question) == "" {
		errs = append(errs, FieldError{Field: p + "question", Code: CodeRequired})
	} else if len(h.Question) > MaxQuestionLen {
		errs = append(errs, FieldError{Field: p + "question", Code: CodeTooLong, Message: fmt.Sprintf("max length %d", MaxQuestionLen)})
	}

	switch h.Type {
	case "":
		errs = append(errs, FieldError{Field: p + "type", Code: CodeRequired})
	case HITLQuestion, HITLPermission:
	case HITLChoice:
		if len(h.Choices) == 0 {
			errs = append(errs, FieldError{Field: p + "choices", Code: CodeRequired})
		}
	default:
		errs = append(errs, FieldError{Field: p + "type", Code: CodeInvalidValue, Message: "one of question, permission, choice"})
	}
	if len(h.Choices) > MaxChoices {
		errs = append(errs, FieldError{Field: p + "choices", Code: CodeTooLong, Message: fmt.Sprintf("max %d items", MaxChoices)})
	}

	if h.ResponseWebSocketURL != "" {
		u, err := url.Parse(h.ResponseWebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, FieldError{Field: p + "response_websocket_url", Code: CodeInvalidFormat, Message: "must be a ws:// or wss:// URL"})
		}
	}
	if h.Timeout < 0 {
		errs = append(errs, FieldError{Field: p + "timeout", Code: CodeInvalidValue})
	}
	return errs
}

// IsEmptyJSON reports whether raw is absent or the JSON literal null.
func IsEmptyJSON(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
