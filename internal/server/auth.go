package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"copilot-gateway/internal/authgate"
)

type loginRequest struct {
	EnterpriseURL string `json:"enterpriseUrl"`
}

// handleLoginStart kicks off a device-authorization flow. The flow runs in
// the background; the caller polls GET /auth/login/:id for progress.
func (s *Server) handleLoginStart(c echo.Context) error {
	if err := s.requireManagedMode(); err != nil {
		return err
	}

	var req loginRequest
	if c.Request().ContentLength > 0 {
		if err := decodeRequestBody(c, &req); err != nil {
			return err
		}
	}

	s.sessions.Cleanup(s.cfg.Auth.SessionMaxAge.Std())

	session := s.sessions.Start(c.Request().Context(), req.EnterpriseURL)
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleLoginStatus(c echo.Context) error {
	if err := s.requireManagedMode(); err != nil {
		return err
	}

	session, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return requestError{
			Status:  http.StatusNotFound,
			Message: "unknown or expired login session",
			Type:    "not_found_error",
		}
	}
	return c.JSON(http.StatusOK, session)
}

type authStatusResponse struct {
	Mode          string `json:"mode"`
	Authenticated bool   `json:"authenticated"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

// handleAuthStatus reports credential state without exposing token material.
// In pass-through mode the gateway holds no credentials of its own.
func (s *Server) handleAuthStatus(c echo.Context) error {
	status := authStatusResponse{Mode: s.gate.Mode()}

	if s.gate.Mode() == authgate.ModeManaged {
		cred, ok, err := s.store.Load()
		if err == nil && ok && cred.Access != "" {
			status.Authenticated = time.Until(cred.ExpiresAt()) > authgate.ExpiryBuffer
			status.EnterpriseURL = cred.EnterpriseURL
			status.ExpiresAt = cred.ExpiresAt().UTC().Format(time.RFC3339)
		}
	}

	return c.JSON(http.StatusOK, status)
}

// handleLogout discards the stored credential. Logging out while already
// logged out succeeds.
func (s *Server) handleLogout(c echo.Context) error {
	if err := s.requireManagedMode(); err != nil {
		return err
	}

	if err := s.store.Clear(); err != nil {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "failed to remove stored credentials",
			Type:    "server_error",
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) requireManagedMode() error {
	if s.gate.Mode() == authgate.ModeManaged {
		return nil
	}
	return requestError{
		Status:  http.StatusBadRequest,
		Message: "login is only available in managed auth mode; the gateway is running in pass-through mode",
		Type:    "invalid_request_error",
	}
}
