package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"copilot-gateway/internal/authgate"
	"copilot-gateway/internal/backend"
	"copilot-gateway/internal/models"
	"copilot-gateway/internal/translator"
)

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
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

	model := s.openaiAliases.Resolve(req.Model)
	opts := backend.CallOptions{
		APIKey:        authgate.Token(c),
		EnterpriseURL: authgate.EnterpriseURL(c),
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
	}

	ctx := c.Request().Context()

	if req.Stream {
		return s.streamChatCompletions(c, model, reqCtx, opts)
	}

	msg, err := s.backend.Complete(ctx, model, reqCtx, opts)
	if err != nil {
		return toHTTPError(err)
	}

	resp := translator.FromResponse(msg, newChatCompletionID(), model, time.Now().Unix())
	return c.JSON(http.StatusOK, resp)
}

// streamChatCompletions relays the backend stream as OpenAI chunks. Once the
// response header is written, failures can no longer change the status code:
// errors surface in-band as a terminal chunk followed by the [DONE] sentinel.
func (s *Server) streamChatCompletions(c echo.Context, model string, reqCtx models.Context, opts backend.CallOptions) error {
	stream, err := s.backend.Stream(c.Request().Context(), model, reqCtx, opts)
	if err != nil {
		return toHTTPError(err)
	}
	defer stream.Close()

	sse, err := newSSEWriter(c)
	if err != nil {
		return err
	}

	requestID := newChatCompletionID()
	created := time.Now().Unix()

	for stream.Next() {
		ev := stream.Event()

		if ev.Type == models.EventError {
			slog.Error("backend stream error", "request_id", requestID, "error", ev.Error)
			reason := "stop"
			terminal := translator.ChatCompletionChunk{
				ID:      requestID,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: []translator.ChunkChoice{{Index: 0, FinishReason: &reason}},
			}
			if err := sse.writeData(terminal); err != nil {
				return nil
			}
			break
		}

		chunk := translator.FromEvent(ev, requestID, model, created)
		if chunk == nil {
			continue
		}
		if err := sse.writeData(chunk); err != nil {
			// client went away; stop relaying
			slog.Debug("client disconnected mid-stream", "request_id", requestID, "error", err)
			return nil
		}
	}

	if err := stream.Err(); err != nil {
		slog.Error("backend stream failed", "request_id", requestID, "error", err)
	}

	_ = sse.writeDone()
	return nil
}

func (s *Server) handleListModels(c echo.Context) error {
	backendModels, err := s.backend.ListModels(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromModels(backendModels))
}

func (s *Server) handleGetModel(c echo.Context) error {
	id := s.openaiAliases.Resolve(c.Param("id"))
	m, err := s.backend.GetModel(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.ModelObject{
		ID:      m.ID,
		Object:  "model",
		Created: 1677610600,
		OwnedBy: "github-copilot",
	})
}
