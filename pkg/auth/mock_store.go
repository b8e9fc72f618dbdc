package auth

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory CredentialStore for tests. Setting Fail makes
// every mutating or reading call return that error.
type MockStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
	Fail  error
}

func NewMockStore() *MockStore {
	return &MockStore{creds: map[string]Credential{}}
}

func (m *MockStore) Store(cred *Credential) error {
	if m.Fail != nil {
		return m.Fail
	}
	if cred == nil || cred.Name == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	m.creds[cred.Name] = *cred
	m.mu.Unlock()
	return nil
}

func (m *MockStore) Retrieve(name string) (*Credential, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	m.mu.RLock()
	c, ok := m.creds[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &c, nil
}

func (m *MockStore) List() ([]*Credential, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Credential, 0, len(m.creds))
	for name := range m.creds {
		c := m.creds[name]
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockStore) Delete(name string) error {
	if m.Fail != nil {
		return m.Fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.creds, name)
	return nil
}

func (m *MockStore) Exists(name string) bool {
	_, err := m.Retrieve(name)
	return err == nil
}

// Count returns how many credentials are held
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.creds)
}

// NewMockManager returns a Manager backed by a single MockStore
func NewMockManager(opts ...ManagerOption) (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores([]CredentialStore{store}, opts...), store
}

// StaticKeySource answers ActiveAPIKey with fixed values
type StaticKeySource struct {
	Key string
	Err error
}

func (s StaticKeySource) ActiveAPIKey(context.Context) (string, error) {
	return s.Key, s.Err
}
