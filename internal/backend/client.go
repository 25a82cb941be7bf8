package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"copilot-gateway/internal/credentials"
	"copilot-gateway/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "copilot-gateway/0.1"

	// streamed event lines can carry a full materialized message
	maxEventLineBytes = 4 << 20
)

// ErrModelNotFound indicates the backend does not serve the requested model.
var ErrModelNotFound = errors.New("model not found")

// ErrNoTerminalEvent indicates a stream ended without a done or error event.
var ErrNoTerminalEvent = errors.New("stream ended without a terminal event")

// CallOptions carries per-invocation settings resolved by the auth gate.
type CallOptions struct {
	APIKey        string
	EnterpriseURL string
	Temperature   *float64
	MaxTokens     *int
}

// LoginOptions configures a device-authorization login attempt.
// OnVerificationURL is invoked exactly once with the verification URL and
// human instructions; OnProgress zero or more times with status text.
type LoginOptions struct {
	EnterpriseURL     string
	OnVerificationURL func(url, instructions string)
	OnProgress        func(message string)
}

// Client is the model-serving backend consumed by the gateway. The gateway
// never pre-validates models or retries calls; both are the backend's
// responsibility.
type Client interface {
	ListModels(ctx context.Context) ([]models.Model, error)
	GetModel(ctx context.Context, id string) (models.Model, error)
	Stream(ctx context.Context, model string, reqCtx models.Context, opts CallOptions) (EventStream, error)
	Complete(ctx context.Context, model string, reqCtx models.Context, opts CallOptions) (*models.AssistantMessage, error)
	PerformDeviceLogin(ctx context.Context, opts LoginOptions) (credentials.Credential, error)
}

// EventStream is a pull-based sequence of backend stream events. Events are
// produced only when the consumer asks for the next one; Close tears down
// the underlying call.
type EventStream interface {
	Next() bool
	Event() models.StreamEvent
	Err() error
	Close() error
}

// HTTPClient talks to the model-serving service over HTTP. Streamed output
// arrives as newline-delimited JSON event lines.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	device  DeviceAuthConfig
}

// NewHTTPClient constructs a backend client. A nil http.Client gets a fresh
// one with no overall timeout: streamed responses stay open for as long as
// the model generates.
func NewHTTPClient(baseURL string, device DeviceAuthConfig, client *http.Client) (*HTTPClient, error) {
	if client == nil {
		client = &http.Client{}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  client,
		device:  device.withDefaults(),
	}, nil
}

// ListModels fetches the models the backend serves.
func (c *HTTPClient) ListModels(ctx context.Context) ([]models.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp)
	}

	var list []models.Model
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	return list, nil
}

// GetModel returns the backend's record for the given id.
func (c *HTTPClient) GetModel(ctx context.Context, id string) (models.Model, error) {
	list, err := c.ListModels(ctx)
	if err != nil {
		return models.Model{}, err
	}
	for _, m := range list {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
}

type streamPayload struct {
	Model       string         `json:"model"`
	Context     models.Context `json:"context"`
	APIKey      string         `json:"apiKey,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"maxTokens,omitempty"`
}

// Stream starts a model invocation and returns its event sequence. The
// stream runs until its terminal event; cancelling ctx or calling Close
// tears the upstream call down.
func (c *HTTPClient) Stream(ctx context.Context, model string, reqCtx models.Context, opts CallOptions) (EventStream, error) {
	payload := streamPayload{
		Model:       model,
		Context:     reqCtx,
		APIKey:      opts.APIKey,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal stream payload: %w", err)
	}

	base := c.baseURL
	if opts.EnterpriseURL != "" {
		base = strings.TrimRight(opts.EnterpriseURL, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("User-Agent", userAgent)
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventLineBytes)
	return &eventStream{body: resp.Body, scanner: scanner}, nil
}

// Complete drains a stream to its done event and returns the materialized
// message. It is semantically equivalent to consuming Stream in full.
func (c *HTTPClient) Complete(ctx context.Context, model string, reqCtx models.Context, opts CallOptions) (*models.AssistantMessage, error) {
	stream, err := c.Stream(ctx, model, reqCtx, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	return Drain(stream)
}

// Drain consumes a stream until its terminal event and returns the done
// event's message, or the error terminal as an error.
func Drain(stream EventStream) (*models.AssistantMessage, error) {
	for stream.Next() {
		ev := stream.Event()
		switch ev.Type {
		case models.EventDone:
			if ev.Message == nil {
				return nil, fmt.Errorf("done event carried no message")
			}
			return ev.Message, nil
		case models.EventError:
			return nil, fmt.Errorf("backend error: %s", ev.Error)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoTerminalEvent
}

type eventStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	event    models.StreamEvent
	err      error
	finished bool
}

func (s *eventStream) Next() bool {
	if s.finished || s.err != nil {
		return false
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			slog.Warn("skipping unparseable backend event", "line", line)
			continue
		}

		s.event = ev
		if ev.Terminal() {
			s.finished = true
		}
		return true
	}

	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("read backend stream: %w", err)
	}
	s.finished = true
	return false
}

func (s *eventStream) Event() models.StreamEvent {
	return s.event
}

func (s *eventStream) Err() error {
	return s.err
}

func (s *eventStream) Close() error {
	return s.body.Close()
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("backend error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
	}
	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
