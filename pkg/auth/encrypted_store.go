package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated passphrase file
const PassphraseEnv = "SOCIALDASH_PASSPHRASE"

const (
	vaultVersion    = 1
	vaultSaltBytes  = 32
	vaultKeyBytes   = 32
	vaultIterations = 100_000
)

// vaultFile is the on-disk layout. Tokens holds the AES-GCM sealed JSON map
// of credentials, nonce first.
type vaultFile struct {
	Version  int       `json:"version"`
	Salt     string    `json:"salt"`
	Tokens   string    `json:"encrypted"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps Apify tokens in a single passphrase-protected file.
// It backs the CLI on machines without a usable keychain.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.RWMutex
}

// NewEncryptedFileStore opens (or prepares) the vault at path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create credentials directory: %w", err)
		}
	}

	pass, err := loadPassphrase(filepath.Join(filepath.Dir(path), ".passphrase"))
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

// Store adds or replaces a credential
func (s *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Name == "" {
		return ErrInvalidCredentials
	}
	return s.update(func(creds map[string]Credential) error {
		creds[cred.Name] = *cred
		return nil
	})
}

// Retrieve returns the named credential
func (s *EncryptedFileStore) Retrieve(name string) (*Credential, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, _, err := s.open()
	if err != nil {
		return nil, err
	}
	cred, ok := creds[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

// List returns every credential sorted by name
func (s *EncryptedFileStore) List() ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, _, err := s.open()
	if err != nil {
		return nil, err
	}
	out := make([]*Credential, 0, len(creds))
	for name := range creds {
		c := creds[name]
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes a credential. The file goes away with the last one.
func (s *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}
	return s.update(func(creds map[string]Credential) error {
		if _, ok := creds[name]; !ok {
			return ErrCredentialsNotFound
		}
		delete(creds, name)
		return nil
	})
}

// Exists reports whether a credential is stored under name
func (s *EncryptedFileStore) Exists(name string) bool {
	_, err := s.Retrieve(name)
	return err == nil
}

// update applies fn to the decrypted map and writes the result back
func (s *EncryptedFileStore) update(fn func(map[string]Credential) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, salt, err := s.open()
	if err != nil {
		return err
	}
	if err := fn(creds); err != nil {
		return err
	}
	if len(creds) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials file: %w", err)
		}
		return nil
	}
	return s.seal(creds, salt)
}

// open reads the vault. A missing file is an empty vault with no salt yet.
func (s *EncryptedFileStore) open() (map[string]Credential, []byte, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Credential{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file vaultFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("credentials file is corrupt: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("credentials file has a bad salt: %w", err)
	}
	box, err := base64.StdEncoding.DecodeString(file.Tokens)
	if err != nil {
		return nil, nil, fmt.Errorf("credentials file has a bad payload: %w", err)
	}

	aead, err := s.aeadFor(salt)
	if err != nil {
		return nil, nil, err
	}
	n := aead.NonceSize()
	if len(box) < n {
		return nil, nil, errors.New("credentials payload is truncated")
	}
	plain, err := aead.Open(nil, box[:n], box[n:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt credentials (wrong passphrase?): %w", err)
	}

	creds := map[string]Credential{}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return creds, salt, nil
}

// seal encrypts creds and atomically replaces the vault file
func (s *EncryptedFileStore) seal(creds map[string]Credential, salt []byte) error {
	if salt == nil {
		salt = make([]byte, vaultSaltBytes)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	aead, err := s.aeadFor(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	out, err := json.MarshalIndent(vaultFile{
		Version:  vaultVersion,
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Tokens:   base64.StdEncoding.EncodeToString(aead.Seal(nonce, nonce, plain, nil)),
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *EncryptedFileStore) aeadFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, vaultIterations, vaultKeyBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// loadPassphrase prefers PassphraseEnv, then file, generating file on first use
func loadPassphrase(file string) ([]byte, error) {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return []byte(v), nil
	}
	if b, err := os.ReadFile(file); err == nil && len(b) > 0 {
		return b, nil
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := []byte(base64.URLEncoding.EncodeToString(seed))
	if err := os.WriteFile(file, pass, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
