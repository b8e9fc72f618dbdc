package auth

import (
	"os"
	"time"
)

// TokenEnvVars are read in order by EnvironmentStore
var TokenEnvVars = []string{"SOCIALDASH_APIFY_TOKEN", "APIFY_TOKEN", "APIFY_API_TOKEN"}

// EnvironmentStore implements CredentialStore over environment variables.
// It is read-only.
type EnvironmentStore struct {
	fallback string
}

// NewEnvironmentStore creates an environment store. fallback is returned when
// no variable is set.
func NewEnvironmentStore(fallback string) *EnvironmentStore {
	return &EnvironmentStore{fallback: fallback}
}

func (e *EnvironmentStore) token() string {
	for _, name := range TokenEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return e.fallback
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment token under any name
func (e *EnvironmentStore) Retrieve(name string) (*Credential, error) {
	token := e.token()
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if name == "" {
		name = DefaultName
	}
	return &Credential{Name: name, Token: token, LastModified: time.Now()}, nil
}

// List returns the environment credential when one is set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment token is set
func (e *EnvironmentStore) Exists(name string) bool {
	return e.token() != ""
}
