package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"copilot-gateway/internal/authgate"
	"copilot-gateway/internal/backend"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

type anthropicErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeOpenAIError(c echo.Context, status int, message, errType, code string) error {
	var payload openAIErrorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func writeAnthropicError(c echo.Context, status int, message, errType string) error {
	payload := anthropicErrorBody{Type: "error"}
	payload.Error.Type = errType
	payload.Error.Message = message
	return c.JSON(status, payload)
}

// gatewayErrorHandler writes the error envelope matching the surface the
// request came in on: Anthropic-shaped for /v1/messages, OpenAI-shaped
// everywhere else.
func gatewayErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, message, errType, code := classify(err)

	if strings.HasPrefix(c.Path(), "/v1/messages") {
		_ = writeAnthropicError(c, status, message, anthropicErrorType(status, errType))
		return
	}
	_ = writeOpenAIError(c, status, message, errType, code)
}

func classify(err error) (status int, message, errType, code string) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code
	}

	var authErr authgate.Error
	if errors.As(err, &authErr) {
		return authErr.Status, authErr.Message, "authentication_error", authErr.Reason
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg := http.StatusText(echoErr.Code)
		if s, ok := echoErr.Message.(string); ok {
			msg = s
		}
		return echoErr.Code, msg, "invalid_request_error", ""
	}

	return http.StatusInternalServerError, "internal server error", "server_error", ""
}

// anthropicErrorType maps a status onto this format's fixed error-type
// vocabulary; the OpenAI-side type string is not part of it.
func anthropicErrorType(status int, openAIType string) string {
	if openAIType == "authentication_error" {
		return "authentication_error"
	}
	switch {
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// toHTTPError maps backend failures onto client-facing request errors.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	var authErr authgate.Error
	if errors.As(err, &authErr) {
		return authErr
	}

	if errors.Is(err, backend.ErrModelNotFound) {
		return requestError{
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Type:    "model_not_found",
			Code:    "model_not_found",
		}
	}
	if errors.Is(err, backend.ErrNoTerminalEvent) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream backend closed the stream unexpectedly",
			Type:    "upstream_error",
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream backend error",
		Type:    "upstream_error",
	}
}
