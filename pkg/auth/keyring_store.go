package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "socialdash"
	keyringIndex   = "apify:index"
	keyringCheck   = "apify:check"
)

func keyringUser(name string) string {
	return "apify:" + name
}

// KeyringStore keeps each token as its own OS keychain secret. go-keyring
// cannot enumerate secrets, so the stored names are tracked in an index entry.
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore fails when the platform has no reachable keychain
func NewKeyringStore() (*KeyringStore, error) {
	if err := keyring.Set(keyringService, keyringCheck, "ok"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, keyringCheck)
	return &KeyringStore{}, nil
}

// Store saves cred and records its name in the index
func (k *KeyringStore) Store(cred *Credential) error {
	if cred == nil || cred.Name == "" {
		return ErrInvalidCredentials
	}
	blob, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(keyringService, keyringUser(cred.Name), string(blob)); err != nil {
		return fmt.Errorf("keychain write failed: %w", err)
	}
	names := k.names()
	names[cred.Name] = struct{}{}
	return k.saveNames(names)
}

func (k *KeyringStore) Retrieve(name string) (*Credential, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}
	blob, err := keyring.Get(keyringService, keyringUser(name))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keychain read failed: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(blob), &cred); err != nil {
		// tokens written by hand through the OS keychain UI
		cred = Credential{Name: name, Token: blob}
	}
	return &cred, nil
}

// List returns the credentials named in the index, skipping stale entries
func (k *KeyringStore) List() ([]*Credential, error) {
	k.mu.Lock()
	names := k.names()
	k.mu.Unlock()

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	out := make([]*Credential, 0, len(sorted))
	for _, name := range sorted {
		if cred, err := k.Retrieve(name); err == nil {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (k *KeyringStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	err := keyring.Delete(keyringService, keyringUser(name))
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return fmt.Errorf("keychain delete failed: %w", err)
	}
	names := k.names()
	delete(names, name)
	return k.saveNames(names)
}

func (k *KeyringStore) Exists(name string) bool {
	_, err := k.Retrieve(name)
	return err == nil
}

func (k *KeyringStore) names() map[string]struct{} {
	set := map[string]struct{}{}
	raw, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		return set
	}
	var list []string
	if json.Unmarshal([]byte(raw), &list) == nil {
		for _, n := range list {
			set[n] = struct{}{}
		}
	}
	return set
}

func (k *KeyringStore) saveNames(set map[string]struct{}) error {
	if len(set) == 0 {
		if err := keyring.Delete(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keychain index delete failed: %w", err)
		}
		return nil
	}
	list := make([]string, 0, len(set))
	for n := range set {
		list = append(list, n)
	}
	sort.Strings(list)
	raw, _ := json.Marshal(list)
	if err := keyring.Set(keyringService, keyringIndex, string(raw)); err != nil {
		return fmt.Errorf("keychain index write failed: %w", err)
	}
	return nil
}
