package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	errorCodeInvalidArgument = "invalid_argument"
	errorCodeInternal        = "internal"
)

type toolErrorEnvelope struct {
	ErrorCode string `json:"error_code"`
	Detail    string `json:"detail,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

// withStructuredToolErrors turns handler errors into tool results whose text
// is a JSON error envelope.
func withStructuredToolErrors[In, Out any](h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input In) (*mcpsdk.CallToolResult, Out, error) {
		res, out, err := h(ctx, req, input)
		if err == nil {
			return res, out, nil
		}
		var zero Out
		return nil, zero, toolError{Envelope: classifyToolError(err)}
	}
}

type toolError struct {
	Envelope toolErrorEnvelope
}

func (e toolError) Error() string {
	envelope := map[string]any{"error": e.Envelope}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return `{"error":{"error_code":"internal","detail":"failed to encode error envelope"}}`
	}
	return string(encoded)
}

// storeError marks a failure of the note store.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string { return e.op + ": " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func classifyToolError(err error) toolErrorEnvelope {
	var te toolError
	if errors.As(err, &te) {
		return te.Envelope
	}
	var ve *validationError
	if errors.As(err, &ve) {
		return toolErrorEnvelope{
			ErrorCode: errorCodeInvalidArgument,
			Detail:    ve.Error(),
			Field:     ve.Field,
		}
	}
	env := toolErrorEnvelope{ErrorCode: errorCodeInternal, Detail: strings.TrimSpace(err.Error())}
	var se *storeError
	if errors.As(err, &se) {
		lower := strings.ToLower(se.err.Error())
		if strings.Contains(lower, "locked") || strings.Contains(lower, "busy") {
			env.Retryable = true
		}
	}
	return env
}
