package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeviceFlowServer(t *testing.T, tokenResponses []string) (*HTTPClient, *atomic.Int32) {
	t.Helper()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-client", r.FormValue("client_id"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"device_code": "dev-code-1",
			"user_code": "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"expires_in": 900,
			"interval": 1
		}`)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-code-1", r.FormValue("device_code"))
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", r.FormValue("grant_type"))

		n := int(polls.Add(1)) - 1
		if n >= len(tokenResponses) {
			n = len(tokenResponses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, tokenResponses[n])
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL, DeviceAuthConfig{
		DeviceCodeURL: srv.URL + "/login/device/code",
		TokenURL:      srv.URL + "/login/oauth/access_token",
		ClientID:      "test-client",
	}, srv.Client())
	require.NoError(t, err)
	return client, &polls
}

func TestPerformDeviceLogin_PendingThenSuccess(t *testing.T) {
	client, polls := newDeviceFlowServer(t, []string{
		`{"error": "authorization_pending"}`,
		`{"access_token": "gho_abc", "refresh_token": "ghr_def", "expires_in": 28800}`,
	})

	var verificationURL, instructions string
	var progress []string

	before := time.Now()
	cred, err := client.PerformDeviceLogin(context.Background(), LoginOptions{
		EnterpriseURL: "https://ghe.example.com",
		OnVerificationURL: func(url, instr string) {
			verificationURL = url
			instructions = instr
		},
		OnProgress: func(msg string) { progress = append(progress, msg) },
	})
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/login/device", verificationURL)
	assert.Contains(t, instructions, "code: ABCD-1234")
	assert.NotEmpty(t, progress, "pending polls report progress")
	assert.GreaterOrEqual(t, polls.Load(), int32(2))

	assert.Equal(t, "gho_abc", cred.Access)
	assert.Equal(t, "ghr_def", cred.Refresh)
	assert.Equal(t, "https://ghe.example.com", cred.EnterpriseURL)

	wantExpiry := before.Add(28800 * time.Second)
	assert.InDelta(t, wantExpiry.UnixMilli(), cred.Expires, float64((time.Minute).Milliseconds()))
	assert.InDelta(t, before.UnixMilli(), cred.Created, float64((time.Minute).Milliseconds()))
}

func TestPerformDeviceLogin_AccessDenied(t *testing.T) {
	client, _ := newDeviceFlowServer(t, []string{
		`{"error": "access_denied"}`,
	})

	_, err := client.PerformDeviceLogin(context.Background(), LoginOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestPerformDeviceLogin_ExpiredToken(t *testing.T) {
	client, _ := newDeviceFlowServer(t, []string{
		`{"error": "expired_token"}`,
	})

	_, err := client.PerformDeviceLogin(context.Background(), LoginOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestPerformDeviceLogin_ContextCancellation(t *testing.T) {
	client, _ := newDeviceFlowServer(t, []string{
		`{"error": "authorization_pending"}`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.PerformDeviceLogin(ctx, LoginOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPerformDeviceLogin_DefaultTTLWhenNoExpiry(t *testing.T) {
	client, _ := newDeviceFlowServer(t, []string{
		`{"access_token": "gho_abc"}`,
	})

	before := time.Now()
	cred, err := client.PerformDeviceLogin(context.Background(), LoginOptions{})
	require.NoError(t, err)

	wantExpiry := before.Add(8 * time.Hour)
	assert.InDelta(t, wantExpiry.UnixMilli(), cred.Expires, float64((time.Minute).Milliseconds()))
}
