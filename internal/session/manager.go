package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"snapseal/internal/attest"
	"snapseal/internal/models"
)

// ErrNotAuthenticated is returned by operations that require an active
// credential when none is present.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// remote is the subset of the attest client the manager needs.
type remote interface {
	Login(ctx context.Context, email, password string) (string, error)
	Signup(ctx context.Context, email, password, username string) (string, error)
	GoogleSignup(ctx context.Context, idToken string) (string, error)
	Me(ctx context.Context, token string) (*attest.Profile, error)
	UpdateProfile(ctx context.Context, token string, fields map[string]string) (*attest.Profile, error)
	DeleteAccount(ctx context.Context, token string) error
}

// Manager owns the credential store: the process-wide bearer token plus
// the cached profile snapshot. All token mutation (login, logout,
// validation-driven invalidation) serializes on one mutex so a logout
// racing a validation success cannot resurrect a cleared token.
type Manager struct {
	mu     sync.Mutex
	db     *gorm.DB
	client remote
	cred   *models.Credential
	log    *logrus.Entry
}

func NewManager(db *gorm.DB, client remote) *Manager {
	return &Manager{
		db:     db,
		client: client,
		log:    logrus.WithField("component", "session"),
	}
}

// Initialize restores a persisted credential, applies it optimistically,
// and validates it with one profile fetch. Network or server failures keep
// the token and the cached profile; any other failure clears the
// credential entirely.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	var cred models.Credential
	err := m.db.First(&cred, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && cred.Token == "") {
		m.cred = nil
		m.mu.Unlock()
		m.log.Info("no stored credential, starting unauthenticated")
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.cred = &cred
	token := cred.Token
	m.mu.Unlock()

	profile, err := m.client.Me(ctx, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	// A logout or re-login may have changed the credential while the
	// validation call was in flight; its outcome then no longer applies.
	if m.cred == nil || m.cred.Token != token {
		return nil
	}
	if err != nil {
		if apiErr, ok := attest.AsAPIError(err); ok && apiErr.Retryable() {
			m.log.WithField("error_type", apiErr.Type).
				Warn("could not verify stored credential, keeping cached session")
			return nil
		}
		m.log.Warn("stored credential rejected, clearing session")
		return m.clearLocked()
	}
	m.cred.Email = profile.Email
	m.cred.Username = profile.Username
	return m.persistLocked()
}

// Token returns the active bearer token, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return ""
	}
	return m.cred.Token
}

// Profile returns the cached profile snapshot.
func (m *Manager) Profile() (email, username string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return "", "", false
	}
	return m.cred.Email, m.cred.Username, true
}

// Login authenticates with the remote service and installs the returned
// token. On failure nothing changes.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	token, err := m.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return m.install(ctx, token)
}

// Signup registers a new account; the postcondition matches Login.
func (m *Manager) Signup(ctx context.Context, email, password, username string) error {
	token, err := m.client.Signup(ctx, email, password, username)
	if err != nil {
		return err
	}
	return m.install(ctx, token)
}

// LoginWithGoogle resolves a federated identity; the postcondition matches
// Login.
func (m *Manager) LoginWithGoogle(ctx context.Context, idToken string) error {
	token, err := m.client.GoogleSignup(ctx, idToken)
	if err != nil {
		return err
	}
	return m.install(ctx, token)
}

// install activates token and refreshes the profile snapshot. A failed
// profile fetch after a successful login keeps the token; the snapshot
// stays empty until the next validation.
func (m *Manager) install(ctx context.Context, token string) error {
	cred := &models.Credential{ID: 1, Token: token}
	if profile, err := m.client.Me(ctx, token); err == nil {
		cred.Email = profile.Email
		cred.Username = profile.Username
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = cred
	return m.persistLocked()
}

// Logout clears the local credential unconditionally. Cleanup problems are
// logged, never propagated.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.clearLocked(); err != nil {
		m.log.WithError(err).Warn("failed to clear persisted credential")
	}
}

// Invalidate drops the credential after a classified auth failure.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return
	}
	m.log.Info("invalidating credential after auth failure")
	if err := m.clearLocked(); err != nil {
		m.log.WithError(err).Warn("failed to clear persisted credential")
	}
}

// UpdateProfile patches the remote profile and refreshes the cached
// snapshot.
func (m *Manager) UpdateProfile(ctx context.Context, fields map[string]string) error {
	token := m.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	profile, err := m.client.UpdateProfile(ctx, token, fields)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil || m.cred.Token != token {
		return nil
	}
	m.cred.Email = profile.Email
	m.cred.Username = profile.Username
	return m.persistLocked()
}

// DeleteAccount deletes the remote account, then clears the local
// credential.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	token := m.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	if err := m.client.DeleteAccount(ctx, token); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked()
}

func (m *Manager) persistLocked() error {
	return m.db.Save(m.cred).Error
}

func (m *Manager) clearLocked() error {
	m.cred = nil
	return m.db.Delete(&models.Credential{}, "id = ?", 1).Error
}
