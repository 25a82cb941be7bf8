package authgate

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"copilot-gateway/internal/credentials"
)

// Mode selects how the gate resolves an access token.
const (
	ModePassthrough = "passthrough"
	ModeManaged     = "managed"
)

// ExpiryBuffer is the safety margin applied to stored credentials: a token
// expiring within the buffer is treated as already expired rather than
// risking a mid-request upstream rejection. Refresh is a separate
// maintenance operation, never attempted inline.
const ExpiryBuffer = 5 * time.Minute

// Error reason codes, one per distinguishable failure cause so callers can
// tell "log in" from "log in again".
const (
	ReasonMissingToken     = "missing_token"
	ReasonNotAuthenticated = "not_authenticated"
	ReasonTokenExpired     = "token_expired"
	ReasonStoreFailure     = "credential_store_failure"
)

// Error is an authentication failure surfaced to the HTTP error handler.
type Error struct {
	Status  int
	Message string
	Reason  string
}

func (e Error) Error() string {
	return e.Message
}

const (
	tokenKey         = "authgate.token"
	enterpriseURLKey = "authgate.enterpriseUrl"
)

// Gate resolves an effective access token per request: either the caller's
// own bearer token (pass-through) or the stored OAuth credential (managed).
type Gate struct {
	mode   string
	header string
	prefix string
	store  *credentials.Store
	now    func() time.Time
}

// New constructs a gate. header and prefix default to the conventional
// Authorization / "Bearer " pair when empty.
func New(mode string, store *credentials.Store) *Gate {
	return &Gate{
		mode:   mode,
		header: "Authorization",
		prefix: "Bearer ",
		store:  store,
		now:    time.Now,
	}
}

// WithHeader overrides the header name and token prefix. Empty values keep
// the defaults.
func (g *Gate) WithHeader(header, prefix string) *Gate {
	if header != "" {
		g.header = header
	}
	if prefix != "" {
		g.prefix = prefix
	}
	return g
}

// Mode reports the configured strategy.
func (g *Gate) Mode() string {
	return g.mode
}

// Middleware returns the echo middleware enforcing the configured strategy.
// On success the resolved token (and enterprise URL, if any) is attached to
// the request context; on failure the request short-circuits with 401.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, enterpriseURL, err := g.Resolve(c.Request().Header.Get(g.header))
			if err != nil {
				return err
			}
			c.Set(tokenKey, token)
			c.Set(enterpriseURLKey, enterpriseURL)
			return next(c)
		}
	}
}

// Resolve maps the raw header value to an access token under the gate's
// strategy. Pass-through performs no expiry check: the caller owns token
// freshness.
func (g *Gate) Resolve(headerValue string) (token, enterpriseURL string, err error) {
	switch g.mode {
	case ModePassthrough:
		if headerValue == "" {
			return "", "", Error{
				Status:  401,
				Message: fmt.Sprintf("Missing %s header. Send your upstream token as a bearer credential.", g.header),
				Reason:  ReasonMissingToken,
			}
		}
		return strings.TrimPrefix(headerValue, g.prefix), "", nil

	case ModeManaged:
		cred, ok, loadErr := g.store.Load()
		if loadErr != nil {
			return "", "", Error{
				Status:  401,
				Message: "Stored credentials could not be read. Please re-authenticate at /auth/login",
				Reason:  ReasonStoreFailure,
			}
		}
		if !ok || cred.Access == "" {
			return "", "", Error{
				Status:  401,
				Message: "No OAuth credentials found. Please authenticate at /auth/login",
				Reason:  ReasonNotAuthenticated,
			}
		}
		if cred.ExpiresAt().Sub(g.now()) <= ExpiryBuffer {
			return "", "", Error{
				Status:  401,
				Message: "Token expired. Please re-authenticate at /auth/login",
				Reason:  ReasonTokenExpired,
			}
		}
		return cred.Access, cred.EnterpriseURL, nil
	}

	return "", "", Error{
		Status:  401,
		Message: fmt.Sprintf("unsupported auth mode %q", g.mode),
		Reason:  ReasonMissingToken,
	}
}

// Token returns the access token the gate attached to the request.
func Token(c echo.Context) string {
	token, _ := c.Get(tokenKey).(string)
	return token
}

// EnterpriseURL returns the enterprise base-URL override, if any.
func EnterpriseURL(c echo.Context) string {
	u, _ := c.Get(enterpriseURLKey).(string)
	return u
}
