package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	errs "socialdash/pkg/errors"
	"socialdash/pkg/logger"
)

// DefaultName is the credential name used when none is given
const DefaultName = "default"

// Credential is a stored Apify API token
type Credential struct {
	Name         string    `json:"name"`
	Token        string    `json:"token"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves a credential under its name
	Store(cred *Credential) error

	// Retrieve gets the credential with the given name
	Retrieve(name string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the credential with the given name
	Delete(name string) error

	// Exists checks if a credential exists
	Exists(name string) bool
}

// KeySource supplies a token kept outside the local machine, such as the
// apify_keys table
type KeySource interface {
	ActiveAPIKey(ctx context.Context) (string, error)
}

// Manager resolves the Apify token from its stores in order, then from the
// optional KeySource
type Manager struct {
	stores []CredentialStore
	keys   KeySource
	name   string
	logger logger.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithKeySource adds a last-resort token source
func WithKeySource(keys KeySource) ManagerOption {
	return func(m *Manager) {
		m.keys = keys
	}
}

// WithName selects which stored credential Token returns
func WithName(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.name = name
		}
	}
}

// WithLogger sets a logger
func WithLogger(log logger.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = log
	}
}

// NewManager creates a manager over the system keychain (when available),
// the encrypted credentials file and the environment. fallbackToken, usually
// the configured apify.token, is served by the environment store.
func NewManager(fallbackToken string, opts ...ManagerOption) (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore(fallbackToken))

	return NewManagerWithStores(stores, opts...), nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores []CredentialStore, opts ...ManagerOption) *Manager {
	m := &Manager{stores: stores, name: DefaultName}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNop(m.logger)
	return m
}

// Store saves the credential using the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if cred.Name == "" {
		cred.Name = DefaultName
	}
	if cred.Token == "" {
		return errors.New("token is required")
	}

	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(cred); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets the named credential from the first store that has it
func (m *Manager) Retrieve(name string) (*Credential, error) {
	for _, store := range m.stores {
		if cred, err := store.Retrieve(name); err == nil && cred != nil && cred.Token != "" {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// Token implements apify.TokenSource
func (m *Manager) Token(ctx context.Context) (string, error) {
	if cred, err := m.Retrieve(m.name); err == nil {
		return cred.Token, nil
	}

	if m.keys != nil {
		key, err := m.keys.ActiveAPIKey(ctx)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && !errs.Is(err, errs.ErrorTypeNotFound) {
			m.logger.WithError(err).Warn("Failed to read Apify key from database")
		}
	}

	return "", errs.Configuration("Apify API token not found: run 'socialdash auth set-token' or set APIFY_TOKEN")
}

// List returns all stored credentials, the most recent version per name
func (m *Manager) List() ([]*Credential, error) {
	byName := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byName[cred.Name]; !ok || cred.LastModified.After(existing.LastModified) {
				byName[cred.Name] = cred
			}
		}
	}

	var result []*Credential
	for _, cred := range byName {
		result = append(result, cred)
	}
	return result, nil
}

// Delete removes the credential from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
	}
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "socialdash")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "socialdash")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "socialdash")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "socialdash")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Sanitize returns a copy of the credential with the token masked
func Sanitize(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	return &Credential{
		Name:         cred.Name,
		Token:        MaskToken(cred.Token),
		LastModified: cred.LastModified,
	}
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
