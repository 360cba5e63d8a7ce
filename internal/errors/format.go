package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// FormatForUser returns a user-friendly error message: the message, the
// suggestion when set, and the error code. The debug flag does not change
// the output.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	ge, ok := err.(*GovRAGError)
	if !ok {
		// Standard error - just return message
		return err.Error()
	}

	var sb strings.Builder

	// Main error message
	sb.WriteString("Error: ")
	sb.WriteString(ge.Message)
	sb.WriteString("\n")

	// Suggestion if available
	if ge.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(ge.Suggestion)
		sb.WriteString("\n")
	}

	// Error code for reference
	sb.WriteString(fmt.Sprintf("\n[%s]", ge.Code))

	return sb.String()
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ge, ok := err.(*GovRAGError)
	if !ok {
		// Wrap standard error
		ge = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	// Error message with code
	sb.WriteString(fmt.Sprintf("Error: %s\n", ge.Message))

	// Suggestion if available
	if ge.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ge.Suggestion))
	}

	// Code reference
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ge.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error, returned by the chat API
// as its error body: code, kind, message, category, severity and retryable,
// plus details, suggestion and cause when set.
type jsonError struct {
	Code       string            `json:"code"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// Suitable for machine consumption and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ge, ok := err.(*GovRAGError)
	if !ok {
		// Wrap standard error
		ge = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ge.Code,
		Kind:       string(ge.Kind),
		Message:    ge.Message,
		Category:   string(ge.Category),
		Severity:   string(ge.Severity),
		Details:    ge.Details,
		Suggestion: ge.Suggestion,
		Retryable:  ge.Retryable,
	}

	if ge.Cause != nil {
		je.Cause = ge.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ge, ok := err.(*GovRAGError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": ge.Code,
		"kind":       string(ge.Kind),
		"message":    ge.Message,
		"category":   string(ge.Category),
		"severity":   string(ge.Severity),
		"retryable":  ge.Retryable,
	}

	if ge.Cause != nil {
		result["cause"] = ge.Cause.Error()
	}

	if ge.Suggestion != "" {
		result["suggestion"] = ge.Suggestion
	}

	for k, v := range ge.Details {
		result["detail_"+k] = v
	}

	return result
}

// HTTPStatus maps an error's Kind to the HTTP status code the chat API
// surfaces for it.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	ge, ok := err.(*GovRAGError)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ge.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindSessionBusy:
		return http.StatusConflict
	case KindRetrievalUnavailable, KindModelUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499 // client closed request, nginx convention
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInsufficientEvidence:
		return http.StatusUnprocessableEntity
	case KindOverloaded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
