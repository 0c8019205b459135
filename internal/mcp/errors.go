// Package mcp exposes keyframe search and selection to AI clients over the
// Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/selection"
)

// Custom MCP error codes for FrameScope.
const (
	// ErrCodeIndexUnavailable indicates a modality has no usable index.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeVectorizerFailed indicates query encoding failed.
	ErrCodeVectorizerFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeFrameNotFound indicates an unknown frame key.
	ErrCodeFrameNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	// the outermost structured error decides; ERR_503 wraps the real cause
	var fe *fserrors.FrameScopeError
	if errors.As(err, &fe) {
		return mapFrameScopeError(fe)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams), errors.Is(err, selection.ErrNoUser):
		return &MCPError{Code: ErrCodeInvalidParams, Message: err.Error()}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapFrameScopeError(fe *fserrors.FrameScopeError) *MCPError {
	message := fe.Message
	if fe.Suggestion != "" {
		message = fmt.Sprintf("%s %s", fe.Message, fe.Suggestion)
	}

	if fe.Code == fserrors.ErrCodeSearchFailed {
		var inner *fserrors.FrameScopeError
		if errors.As(fe.Cause, &inner) {
			mapped := mapFrameScopeError(inner)
			mapped.Message = fmt.Sprintf("%s: %s", fe.Message, mapped.Message)
			return mapped
		}
	}

	switch fe.Code {
	case fserrors.ErrCodeFrameNotFound:
		return &MCPError{Code: ErrCodeFrameNotFound, Message: message}
	case fserrors.ErrCodeIndexUnavailable, fserrors.ErrCodeIndexCorrupt:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	case fserrors.ErrCodeVectorizerFailed:
		return &MCPError{Code: ErrCodeVectorizerFailed, Message: message}
	}
	if fe.Category == fserrors.CategoryValidation {
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: message}
}
