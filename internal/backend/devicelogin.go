package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"copilot-gateway/internal/credentials"
)

const (
	defaultDeviceCodeURL = "https://github.com/login/device/code"
	defaultTokenURL      = "https://github.com/login/oauth/access_token"
	defaultDeviceScope   = "read:user"

	defaultPollInterval = 5 * time.Second

	// applied when the token endpoint reports no expiry of its own
	defaultTokenTTL = 8 * time.Hour
)

// DeviceAuthConfig holds the endpoints of the device-authorization flow.
type DeviceAuthConfig struct {
	DeviceCodeURL string
	TokenURL      string
	ClientID      string
	Scope         string
}

func (c DeviceAuthConfig) withDefaults() DeviceAuthConfig {
	if c.DeviceCodeURL == "" {
		c.DeviceCodeURL = defaultDeviceCodeURL
	}
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.Scope == "" {
		c.Scope = defaultDeviceScope
	}
	return c
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// PerformDeviceLogin runs the device-authorization flow: request a device
// code, hand the verification URL to the caller, then poll the token
// endpoint until the user completes login on their second device.
func (c *HTTPClient) PerformDeviceLogin(ctx context.Context, opts LoginOptions) (credentials.Credential, error) {
	code, err := c.requestDeviceCode(ctx)
	if err != nil {
		return credentials.Credential{}, err
	}

	if opts.OnVerificationURL != nil {
		instructions := fmt.Sprintf("Visit %s and enter code: %s to authorize this gateway", code.VerificationURI, code.UserCode)
		opts.OnVerificationURL(code.VerificationURI, instructions)
	}

	interval := defaultPollInterval
	if code.Interval > 0 {
		interval = time.Duration(code.Interval) * time.Second
	}

	deadline := time.Now().Add(time.Duration(code.ExpiresIn) * time.Second)
	if code.ExpiresIn <= 0 {
		deadline = time.Now().Add(15 * time.Minute)
	}

	for {
		select {
		case <-ctx.Done():
			return credentials.Credential{}, ctx.Err()
		case <-time.After(interval):
		}

		if time.Now().After(deadline) {
			return credentials.Credential{}, fmt.Errorf("device code expired before authorization completed")
		}

		token, err := c.pollToken(ctx, code.DeviceCode)
		if err != nil {
			return credentials.Credential{}, err
		}

		switch token.Error {
		case "":
			if token.AccessToken == "" {
				return credentials.Credential{}, fmt.Errorf("login completed but no access token received")
			}
			now := time.Now()
			ttl := defaultTokenTTL
			if token.ExpiresIn > 0 {
				ttl = time.Duration(token.ExpiresIn) * time.Second
			}
			return credentials.Credential{
				Access:        token.AccessToken,
				Refresh:       token.RefreshToken,
				Expires:       now.Add(ttl).UnixMilli(),
				EnterpriseURL: opts.EnterpriseURL,
				Created:       now.UnixMilli(),
			}, nil

		case "authorization_pending":
			if opts.OnProgress != nil {
				opts.OnProgress("Waiting for authorization...")
			}

		case "slow_down":
			interval += 5 * time.Second
			if opts.OnProgress != nil {
				opts.OnProgress("Waiting for authorization...")
			}

		case "expired_token":
			return credentials.Credential{}, fmt.Errorf("device code expired before authorization completed")

		case "access_denied":
			return credentials.Credential{}, fmt.Errorf("authorization was denied by the user")

		default:
			msg := token.ErrorDesc
			if msg == "" {
				msg = token.Error
			}
			return credentials.Credential{}, fmt.Errorf("device login failed: %s", msg)
		}
	}
}

func (c *HTTPClient) requestDeviceCode(ctx context.Context) (deviceCodeResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.device.ClientID)
	form.Set("scope", c.device.Scope)

	var code deviceCodeResponse
	if err := c.postForm(ctx, c.device.DeviceCodeURL, form, &code); err != nil {
		return deviceCodeResponse{}, fmt.Errorf("request device code: %w", err)
	}
	if code.DeviceCode == "" || code.VerificationURI == "" {
		return deviceCodeResponse{}, fmt.Errorf("device code response missing required fields")
	}
	return code, nil
}

func (c *HTTPClient) pollToken(ctx context.Context, deviceCode string) (tokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.device.ClientID)
	form.Set("device_code", deviceCode)
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")

	var token tokenResponse
	if err := c.postForm(ctx, c.device.TokenURL, form, &token); err != nil {
		return tokenResponse{}, fmt.Errorf("poll token endpoint: %w", err)
	}
	return token, nil
}

func (c *HTTPClient) postForm(ctx context.Context, endpoint string, form url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("construct request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
