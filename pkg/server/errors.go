package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
)

// ErrorCode is "<type>:<surface>". The type selects the HTTP status.
type ErrorCode string

const (
	CodeBadRequest      ErrorCode = "bad_request:api"
	CodeOffline         ErrorCode = "offline:chat"
	CodeActivateGateway ErrorCode = "bad_request:activate_gateway"
)

var errorMessages = map[ErrorCode]string{
	CodeBadRequest:      "The request couldn't be processed. Please check your input and try again.",
	CodeOffline:         "We're having trouble completing the research. Please try again later.",
	CodeActivateGateway: "The AI provider rejected the request because of billing or credentials. Please check the provider account and API key, then try again.",
}

// APIError is the only error shape written to HTTP clients.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   string    `json:"cause,omitempty"`
}

func NewAPIError(code ErrorCode, cause string) *APIError {
	return &APIError{Code: code, Message: errorMessages[code], Cause: cause}
}

func (e *APIError) Error() string {
	if e.Cause != "" {
		return string(e.Code) + ": " + e.Cause
	}
	return string(e.Code) + ": " + e.Message
}

func (e *APIError) Status() int {
	errType, _, _ := strings.Cut(string(e.Code), ":")
	switch errType {
	case "bad_request":
		return http.StatusBadRequest
	case "offline":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// classifyError maps a research failure to a client-safe APIError. Internal
// error text is logged, never returned.
func classifyError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case research.IsRequestError(err):
		return NewAPIError(CodeBadRequest, err.Error())
	case llm.IsUpstreamAccess(err):
		return NewAPIError(CodeActivateGateway, "")
	default:
		return NewAPIError(CodeOffline, "")
	}
}
