package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

func asFrameScope(err error) *FrameScopeError {
	var fe *FrameScopeError
	if stderrors.As(err, &fe) {
		return fe
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForUser returns the message shown to an end user.
// Retryable failures read "search failed, try again"; debug adds the cause.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}
	fe := asFrameScope(err)

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(fe.Message)
	sb.WriteString("\n")
	if fe.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(fe.Suggestion)
		sb.WriteString("\n")
	}
	if debug && fe.Cause != nil {
		sb.WriteString("\nCause: ")
		sb.WriteString(fe.Cause.Error())
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\n[%s]", fe.Code)
	return sb.String()
}

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	fe := asFrameScope(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", fe.Message)
	if fe.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", fe.Suggestion)
	}
	if fe.Retryable {
		sb.WriteString("  This failure is temporary; retrying may succeed.\n")
	}
	fmt.Fprintf(&sb, "  Code: %s\n", fe.Code)
	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns the JSON representation used by the MCP server.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	fe := asFrameScope(err)
	je := jsonError{
		Code:       fe.Code,
		Message:    fe.Message,
		Category:   string(fe.Category),
		Severity:   string(fe.Severity),
		Details:    fe.Details,
		Suggestion: fe.Suggestion,
		Retryable:  fe.Retryable,
	}
	if fe.Cause != nil {
		je.Cause = fe.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	var fe *FrameScopeError
	if !stderrors.As(err, &fe) {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error_code", fe.Code),
		slog.String("error", fe.Message),
		slog.Bool("retryable", fe.Retryable),
	}
	if fe.Cause != nil {
		attrs = append(attrs, slog.String("cause", fe.Cause.Error()))
	}
	keys := make([]string, 0, len(fe.Details))
	for k := range fe.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, fe.Details[k]))
	}
	return attrs
}
