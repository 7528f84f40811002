// Package auth owns the client-side session lifecycle: issuing, persisting,
// expiring and revoking the relay credential. The server never pushes expiry
// events; the Manager arms a local single-shot timer instead and forces a
// logout exactly when the credential lapses.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"privateprompt/internal/logger"
	"privateprompt/internal/relay"
	"privateprompt/pkg/types"
)

// Issuer is the credential-issuance collaborator, implemented by the relay
// client.
type Issuer interface {
	Login(ctx context.Context, username, password string) (*relay.IssuedCredential, error)
	Register(ctx context.Context, username, password string) (*relay.IssuedCredential, error)
}

// Manager owns the session state machine. The only states are authenticated
// and unauthenticated; there is no pending state outside an in-flight
// request. All mutations leave the observable state consistent with the
// TokenStore contents before any subscriber is notified.
type Manager struct {
	mu         sync.Mutex
	store      TokenStore
	issuer     Issuer
	navigator  types.Navigator
	defaultTTL time.Duration

	session       types.Session
	authenticated bool
	timer         *time.Timer
	subscribers   []func(authenticated bool)

	// generation invalidates armed timers: every session transition bumps
	// it, so a late firing from a superseded session is always ignored.
	generation uint64

	// Injected for deterministic tests.
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewManager creates a session manager. defaultTTL is the credential
// lifetime assumed when the issuance response does not state one. navigator
// may be nil when no routing collaborator is attached.
func NewManager(store TokenStore, issuer Issuer, navigator types.Navigator, defaultTTL time.Duration) *Manager {
	return &Manager{
		store:      store,
		issuer:     issuer,
		navigator:  navigator,
		defaultTTL: defaultTTL,
		now:        time.Now,
		afterFunc:  time.AfterFunc,
	}
}

// Authenticated reports whether a valid session credential is held.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Credential returns the current session credential. Implements
// relay.CredentialSource.
func (m *Manager) Credential() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return "", false
	}
	return m.session.Credential, true
}

// Subscribe registers a callback invoked after every authenticated-state
// transition. Callbacks run outside the manager lock.
func (m *Manager) Subscribe(fn func(authenticated bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Login exchanges username/password for a credential and adopts it. On
// failure the state stays unauthenticated and the server-reported reason is
// returned.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	issued, err := m.issuer.Login(ctx, username, password)
	if err != nil {
		logger.Debug("Login rejected", "error", err)
		return fmt.Errorf("login failed: %w", err)
	}
	if issued.AccessToken == "" {
		return fmt.Errorf("login failed: server issued no credential")
	}
	return m.adoptCredential(issued)
}

// Register creates an account. Deployments that auto-authenticate return a
// credential, which is adopted exactly as a login would; otherwise the call
// reports success and the state stays unauthenticated pending an explicit
// login.
func (m *Manager) Register(ctx context.Context, username, password string) error {
	issued, err := m.issuer.Register(ctx, username, password)
	if err != nil {
		logger.Debug("Registration rejected", "error", err)
		return fmt.Errorf("registration failed: %w", err)
	}
	if issued.AccessToken == "" {
		logger.Debug("Registration succeeded without credential")
		return nil
	}
	return m.adoptCredential(issued)
}

// adoptCredential persists the issued credential and transitions to
// authenticated with a freshly armed expiry timer.
func (m *Manager) adoptCredential(issued *relay.IssuedCredential) error {
	ttl := m.defaultTTL
	if issued.ExpiresIn > 0 {
		ttl = time.Duration(issued.ExpiresIn) * time.Second
	}

	m.mu.Lock()
	session := types.Session{
		Credential: issued.AccessToken,
		ExpiresAt:  m.now().Add(ttl),
	}
	if err := m.store.Save(session); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to persist session: %w", err)
	}
	m.session = session
	m.authenticated = true
	m.armExpiryLocked(ttl)
	m.mu.Unlock()

	logger.Debug("Session established", "expires_at", session.ExpiresAt)
	m.notify(true)
	return nil
}

// Logout clears the session. Idempotent: calling it when already logged out
// is safe and cancels nothing but an already-cancelled timer.
func (m *Manager) Logout() {
	m.mu.Lock()
	wasAuthenticated := m.clearLocked()
	m.mu.Unlock()

	if wasAuthenticated {
		logger.Debug("Session cleared by logout")
		m.notify(false)
	}
	m.navigate(types.SignalLoginRequired)
}

// RestoreFromStorage reads any persisted credential at startup. A malformed
// or expired record is treated as a logout: the record is cleared and the
// state stays unauthenticated. Corruption is never surfaced to the caller.
func (m *Manager) RestoreFromStorage() {
	m.mu.Lock()
	session, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			logger.Warn("Discarding unusable session record", "error", err)
			_ = m.store.Clear()
		}
		m.clearLocked()
		m.mu.Unlock()
		m.navigate(types.SignalLoginRequired)
		return
	}

	remaining := session.ExpiresAt.Sub(m.now())
	if remaining <= 0 {
		logger.Debug("Persisted session already expired")
		_ = m.store.Clear()
		m.clearLocked()
		m.mu.Unlock()
		m.navigate(types.SignalLoginRequired)
		return
	}

	m.session = session
	m.authenticated = true
	m.armExpiryLocked(remaining)
	m.mu.Unlock()

	logger.Debug("Session restored", "expires_at", session.ExpiresAt)
	m.notify(true)
}

// armExpiryLocked arms the single-shot expiry timer, cancelling any previous
// one. At most one timer is armed at a time. Caller holds the lock.
func (m *Manager) armExpiryLocked(d time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.generation++
	generation := m.generation
	m.timer = m.afterFunc(d, func() { m.expire(generation) })
}

// expire is the timer callback. It performs the same teardown as Logout and
// additionally signals session-expired so the router can redirect to the
// login surface. A stale firing from a superseded session is ignored.
func (m *Manager) expire(generation uint64) {
	m.mu.Lock()
	if !m.authenticated || m.generation != generation {
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	m.mu.Unlock()

	logger.Info("Session expired")
	m.notify(false)
	m.navigate(types.SignalSessionExpired)
}

// clearLocked tears down session state and reports whether the manager was
// authenticated. Caller holds the lock.
func (m *Manager) clearLocked() bool {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	_ = m.store.Clear()
	was := m.authenticated
	m.session = types.Session{}
	m.authenticated = false
	return was
}

// notify invokes subscribers outside the lock.
func (m *Manager) notify(authenticated bool) {
	m.mu.Lock()
	subscribers := make([]func(bool), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(authenticated)
	}
}

func (m *Manager) navigate(signal types.Signal) {
	if m.navigator != nil {
		m.navigator.Navigate(signal)
	}
}
