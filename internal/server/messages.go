package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"copilot-gateway/internal/authgate"
	"copilot-gateway/internal/backend"
	"copilot-gateway/internal/models"
	"copilot-gateway/internal/translator"
)

func (s *Server) handleMessages(c echo.Context) error {
	var req translator.MessageRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	reqCtx, err := req.ToContext()
	if err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	model := s.anthropicAliases.Resolve(req.Model)
	maxTokens := req.MaxTokens
	opts := backend.CallOptions{
		APIKey:        authgate.Token(c),
		EnterpriseURL: authgate.EnterpriseURL(c),
		Temperature:   req.Temperature,
		MaxTokens:     &maxTokens,
	}

	if req.Stream {
		return s.streamMessages(c, model, reqCtx, opts)
	}

	msg, err := s.backend.Complete(c.Request().Context(), model, reqCtx, opts)
	if err != nil {
		return toHTTPError(err)
	}

	resp := translator.FromMessageResponse(msg, newMessageID(), model)
	return c.JSON(http.StatusOK, resp)
}

// streamMessages relays the backend stream as Anthropic named events. After
// the header is written, failures surface in-band as an error event; clients
// of this format treat the stream as aborted when message_stop never comes.
func (s *Server) streamMessages(c echo.Context, model string, reqCtx models.Context, opts backend.CallOptions) error {
	stream, err := s.backend.Stream(c.Request().Context(), model, reqCtx, opts)
	if err != nil {
		return toHTTPError(err)
	}
	defer stream.Close()

	sse, err := newSSEWriter(c)
	if err != nil {
		return err
	}

	requestID := newMessageID()
	st := translator.NewStreamTranslator(requestID, model)

	for stream.Next() {
		ev := stream.Event()
		if ev.Type == models.EventError {
			slog.Error("backend stream error", "request_id", requestID, "error", ev.Error)
		}
		for _, named := range st.Translate(ev) {
			if err := sse.writeEvent(named.Name, named.Payload); err != nil {
				slog.Debug("client disconnected mid-stream", "request_id", requestID, "error", err)
				return nil
			}
		}
	}

	if err := stream.Err(); err != nil {
		slog.Error("backend stream failed", "request_id", requestID, "error", err)
		_ = sse.writeEvent("error", map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "internal server error"},
		})
	}

	return nil
}

func (s *Server) handleMessagesModels(c echo.Context) error {
	backendModels, err := s.backend.ListModels(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromModelsAnthropic(backendModels))
}
