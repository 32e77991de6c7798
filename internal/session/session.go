/*
Package session owns the authenticated session: login, liveness checks and
re-authentication when the site has logged us out.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shanehull/listscraper/internal/retry"
	"github.com/shanehull/listscraper/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Authenticator is the login half of the navigation capability.
type Authenticator interface {
	Login(ctx context.Context, url string, creds types.Credentials) (handle string, err error)
	IsSessionLive(ctx context.Context, s *types.Session) (bool, error)
}

type Manager struct {
	auth             Authenticator
	url              string
	creds            types.Credentials
	livenessInterval time.Duration
	reauth           *retry.Executor
	logger           *zap.Logger
	now              func() time.Time
}

type Option func(*Manager)

// WithLivenessInterval skips the liveness probe when the session was verified
// less than d ago. Zero probes on every call.
func WithLivenessInterval(d time.Duration) Option {
	return func(m *Manager) { m.livenessInterval = d }
}

// WithReauthRetry retries re-authentication under the executor's policy.
func WithReauthRetry(e *retry.Executor) Option {
	return func(m *Manager) { m.reauth = e }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(auth Authenticator, url string, creds types.Credentials, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		auth:   auth,
		url:    url,
		creds:  creds,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login performs a single authentication attempt. Callers wrap it with a
// retry executor.
func (m *Manager) Login(ctx context.Context) (*types.Session, error) {
	s := &types.Session{
		ID:       uuid.NewString(),
		LoginURL: m.url,
		Username: m.creds.Username,
		State:    types.SessionUnauthenticated,
	}
	if err := m.authenticate(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureLoggedIn returns a session that was authenticated at call time,
// logging in again with the original credentials when the probe says the
// session has expired.
func (m *Manager) EnsureLoggedIn(ctx context.Context, s *types.Session) (*types.Session, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no session", types.ErrAuthenticationFailed)
	}

	if s.State == types.SessionAuthenticated {
		if m.livenessInterval > 0 && m.now().Sub(s.LastVerified) < m.livenessInterval {
			return s, nil
		}

		live, err := m.auth.IsSessionLive(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("%w: liveness probe: %w", types.ErrTransport, err)
		}
		if live {
			if err := s.Transition(types.SessionAuthenticated); err != nil {
				return nil, err
			}
			s.LastVerified = m.now()
			return s, nil
		}

		m.logger.Info("Session expired, re-authenticating",
			zap.String("session", s.ID),
			zap.String("user", s.Username))
		if err := s.Transition(types.SessionExpired); err != nil {
			return nil, err
		}
	}

	if err := m.reauthenticate(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) reauthenticate(ctx context.Context, s *types.Session) error {
	if s.State == types.SessionAuthenticating {
		// a previous attempt failed half way; start over
		s.State = types.SessionUnauthenticated
	}
	if m.reauth == nil {
		return m.authenticate(ctx, s)
	}
	return m.reauth.Do(ctx, "reauthenticate", func(ctx context.Context) error {
		if s.State == types.SessionAuthenticating {
			s.State = types.SessionUnauthenticated
		}
		return m.authenticate(ctx, s)
	})
}

func (m *Manager) authenticate(ctx context.Context, s *types.Session) error {
	if err := s.Transition(types.SessionAuthenticating); err != nil {
		return err
	}

	handle, err := m.auth.Login(ctx, m.url, m.creds)
	if err != nil {
		_ = s.Transition(types.SessionUnauthenticated)
		return classifyLoginError(err)
	}

	s.Handle = handle
	s.LastVerified = m.now()
	if err := s.Transition(types.SessionAuthenticated); err != nil {
		return err
	}
	m.logger.Info("Logged in", zap.String("session", s.ID), zap.String("user", s.Username))
	return nil
}

// Anything the authenticator did not classify is treated as a transport problem.
func classifyLoginError(err error) error {
	if errors.Is(err, types.ErrAuthenticationFailed) || errors.Is(err, types.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: login: %w", types.ErrTransport, err)
}
