package authority

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tunnelgate/cmd/internal/access"
	"tunnelgate/cmd/internal/auth/session"
	"tunnelgate/cmd/security/token"
)

// ErrConfig is returned when a Manager is built without its collaborators.
var ErrConfig = errors.New("authority: invalid configuration")

// Manager ties the token record store to the session authority.
type Manager struct {
	tokens   *access.Store
	sessions *session.Service
	log      *slog.Logger
}

// New returns a Manager over tokens and sessions.
func New(tokens *access.Store, sessions *session.Service, log *slog.Logger) (*Manager, error) {
	if tokens == nil || sessions == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{tokens: tokens, sessions: sessions, log: log.With("component", "authority")}, nil
}

// Tokens returns the underlying token record store.
func (m *Manager) Tokens() *access.Store { return m.tokens }

// Sessions returns the underlying session authority.
func (m *Manager) Sessions() *session.Service { return m.sessions }

// SessionCreate opens a session for req.TokenID.
func (m *Manager) SessionCreate(ctx context.Context, now time.Time, req session.Request) (session.Response, error) {
	data, err := m.tokens.Get(ctx, req.TokenID)
	if err != nil {
		if access.IsNotFound(err) {
			return session.ErrorResponse(session.CodeAccessError, "token does not exist"), nil
		}
		return session.Response{}, err
	}
	return m.sessions.CreateSession(ctx, now, req, data)
}

// SessionGet returns the status of a session. When the owning token no
// longer exists the session is closed with CodeAccessError.
func (m *Manager) SessionGet(ctx context.Context, now time.Time, q session.StatusQuery) (session.Response, error) {
	tokenID, ok := m.sessions.TokenIDOf(q.SessionID)
	if !ok {
		return session.ErrorResponse(session.CodeAccessError, "session does not exist"), nil
	}

	data, err := m.tokens.Get(ctx, tokenID)
	if err != nil {
		if access.IsNotFound(err) {
			return m.orphaned(ctx, now, q.SessionID, tokenID), nil
		}
		return session.Response{}, err
	}
	return m.sessions.GetSessionResponse(ctx, now, q, data)
}

// SessionAddUsage adds traffic to the token of sessionID and returns the
// refreshed session status. A status other than Ok ends the session.
func (m *Manager) SessionAddUsage(ctx context.Context, now time.Time, sessionID uint64, sent, received int64, ad session.AdValidation) (session.Response, error) {
	tokenID, ok := m.sessions.TokenIDOf(sessionID)
	if !ok {
		return session.ErrorResponse(session.CodeAccessError, "session does not exist"), nil
	}

	if _, err := m.tokens.AddUsage(ctx, now, tokenID, sent, received); err != nil {
		if access.IsNotFound(err) {
			return m.orphaned(ctx, now, sessionID, tokenID), nil
		}
		return session.Response{}, err
	}
	return m.SessionGet(ctx, now, session.StatusQuery{SessionID: sessionID, AdValidation: ad})
}

// SessionClose ends a session.
func (m *Manager) SessionClose(ctx context.Context, now time.Time, req session.CloseRequest) {
	m.sessions.CloseSession(ctx, now, req)
}

// ResetUpdatedSessions hands off the ids of sessions suppressed since the last call.
func (m *Manager) ResetUpdatedSessions() []uint64 {
	return m.sessions.ResetUpdatedSessions()
}

func (m *Manager) orphaned(ctx context.Context, now time.Time, sessionID uint64, tokenID string) session.Response {
	m.log.Warn("authority.token.missing", "session_id", sessionID, "token", token.Fingerprint(tokenID))
	m.sessions.CloseSession(ctx, now, session.CloseRequest{SessionID: sessionID, Reason: session.CodeAccessError})
	return session.ErrorResponse(session.CodeAccessError, "token does not exist")
}
