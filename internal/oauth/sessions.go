package oauth

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"copilot-gateway/internal/backend"
	"copilot-gateway/internal/credentials"
)

// Status is the lifecycle state of a login attempt.
type Status string

const (
	StatusStarted  Status = "started"
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// The upstream embeds the human-entry code in free-text instructions using
// a "code: <TOKEN>" convention. This is brittle against wording changes and
// deliberately not hardened with guessed alternatives; extraction failure
// leaves the code unset without failing the flow.
var userCodePattern = regexp.MustCompile(`code:\s*([A-Z0-9-]+)`)

// Session is the observable state of one login attempt. Sessions live only
// in memory and are lost on restart.
type Session struct {
	ID              string `json:"sessionId"`
	Status          Status `json:"status"`
	VerificationURI string `json:"verificationUri,omitempty"`
	UserCode        string `json:"userCode,omitempty"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Manager tracks in-flight device logins. Multiple attempts may run
// concurrently under distinct session ids; the credential store is
// single-slot, so the most recently completed attempt wins.
type Manager struct {
	backend backend.Client
	store   *credentials.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a session manager over the given backend and store.
func NewManager(b backend.Client, store *credentials.Store) *Manager {
	return &Manager{
		backend:  b,
		store:    store,
		sessions: make(map[string]*Session),
	}
}

// Start creates a session and launches the device login. The returned id is
// a ULID; its embedded timestamp is what Cleanup evicts by. The login
// outlives the initiating request, so the request's cancellation is not
// propagated to it.
func (m *Manager) Start(ctx context.Context, enterpriseURL string) Session {
	id := ulid.Make().String()

	session := &Session{
		ID:      id,
		Status:  StatusStarted,
		Message: "Device login initiated. Poll the session status to continue.",
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	go m.run(context.WithoutCancel(ctx), id, enterpriseURL)

	return *session
}

func (m *Manager) run(ctx context.Context, id, enterpriseURL string) {
	cred, err := m.backend.PerformDeviceLogin(ctx, backend.LoginOptions{
		EnterpriseURL: enterpriseURL,
		OnVerificationURL: func(url, instructions string) {
			m.update(id, func(s *Session) {
				s.Status = StatusPending
				s.VerificationURI = url
				s.Message = instructions
				if match := userCodePattern.FindStringSubmatch(instructions); match != nil {
					s.UserCode = match[1]
				}
			})
		},
		OnProgress: func(message string) {
			m.update(id, func(s *Session) {
				s.Message = message
			})
		},
	})

	if err != nil {
		slog.Error("device login failed", "session", id, "err", err)
		m.update(id, func(s *Session) {
			s.Status = StatusError
			s.Error = err.Error()
		})
		return
	}

	if err := m.store.Save(cred); err != nil {
		slog.Error("saving credential failed", "session", id, "err", err)
		m.update(id, func(s *Session) {
			s.Status = StatusError
			s.Error = err.Error()
		})
		return
	}

	slog.Info("device login complete", "session", id)
	m.update(id, func(s *Session) {
		s.Status = StatusComplete
		s.Message = "Authentication complete."
	})
}

func (m *Manager) update(id string, apply func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		apply(s)
	}
}

// Get returns a snapshot of the session with the given id.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Cleanup removes sessions older than maxAge regardless of status, judged
// by the creation time embedded in the session's ULID. This bounds memory;
// it is not a correctness mechanism.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id := range m.sessions {
		parsed, err := ulid.Parse(id)
		if err != nil {
			delete(m.sessions, id)
			removed++
			continue
		}
		if ulid.Time(parsed.Time()).Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
