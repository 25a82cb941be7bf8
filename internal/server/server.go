package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"copilot-gateway/internal/authgate"
	"copilot-gateway/internal/backend"
	"copilot-gateway/internal/config"
	"copilot-gateway/internal/credentials"
	"copilot-gateway/internal/modelalias"
	"copilot-gateway/internal/oauth"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg      *config.Config
	backend  backend.Client
	gate     *authgate.Gate
	store    *credentials.Store
	sessions *oauth.Manager

	openaiAliases    *modelalias.Table
	anthropicAliases *modelalias.Table

	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg *config.Config, bc backend.Client, gate *authgate.Gate, store *credentials.Store, sessions *oauth.Manager) (*Server, error) {
	if bc == nil {
		return nil, errors.New("backend client must not be nil")
	}
	if gate == nil {
		return nil, errors.New("auth gate must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = gatewayErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:              cfg,
		backend:          bc,
		gate:             gate,
		store:            store,
		sessions:         sessions,
		openaiAliases:    modelalias.OpenAI(),
		anthropicAliases: modelalias.Anthropic(),
		app:              e,
		address:          cfg.Server.Address(),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg)
	slog.Info("starting server", "addr", s.address, "auth_mode", s.gate.Mode())

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
		// no WriteTimeout: SSE responses stay open for the duration of
		// the upstream stream
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the underlying echo handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/", s.handleRoot)

	auth := s.gate.Middleware()

	s.app.POST("/v1/chat/completions", s.handleChatCompletions, auth)
	s.app.GET("/v1/models", s.handleListModels, auth)
	s.app.GET("/v1/models/:id", s.handleGetModel, auth)

	s.app.POST("/v1/messages", s.handleMessages, auth)
	s.app.GET("/v1/messages/models", s.handleMessagesModels, auth)

	s.app.POST("/auth/login", s.handleLoginStart)
	s.app.GET("/auth/login/:id", s.handleLoginStatus)
	s.app.GET("/auth/status", s.handleAuthStatus)
	s.app.POST("/auth/logout", s.handleLogout)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"name":    "copilot-gateway",
		"status":  "ok",
		"formats": []string{"openai", "anthropic"},
	})
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

func printStartupBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("copilot-gateway ready")
	fmt.Printf("Listening on http://%s\n", cfg.Server.Address())
	fmt.Println("Endpoints:")
	fmt.Println("  POST /v1/chat/completions   (OpenAI-compatible)")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/messages           (Anthropic-compatible)")
	fmt.Println("  GET  /v1/messages/models")
	fmt.Println("  POST /auth/login")
	fmt.Println("  GET  /auth/status")
	fmt.Printf("Auth mode: %s\n\n", cfg.Auth.Mode)
}
