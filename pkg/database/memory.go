package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "socialdash/pkg/errors"
	"socialdash/pkg/models"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	posts    map[string][]models.Post
	apiKey   string
	now      func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]models.Profile),
		posts:    make(map[string][]models.Post),
		now:      time.Now,
	}
}

// FindProfile implements Store
func (m *MemoryStore) FindProfile(ctx context.Context, userID, externalID string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.profiles {
		if p.UserID == userID && p.ExternalID == externalID {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

// InsertProfile implements Store
func (m *MemoryStore) InsertProfile(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.profiles {
		if existing.UserID == p.UserID && existing.ExternalID == p.ExternalID {
			return errs.New(errs.ErrorTypeUnknown, 0, "duplicate profile %s for user %s", p.ExternalID, p.UserID)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := m.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = *p
	return nil
}

// UpdateProfile implements Store
func (m *MemoryStore) UpdateProfile(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.profiles[p.ID]
	if !ok {
		return errs.New(errs.ErrorTypeNotFound, 0, "profile %s not found", p.ID)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = m.now().UTC()
	m.profiles[p.ID] = *p
	return nil
}

// GetProfile implements Store
func (m *MemoryStore) GetProfile(ctx context.Context, userID, id string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok || p.UserID != userID {
		return nil, errs.New(errs.ErrorTypeNotFound, 0, "profile %s not found", id)
	}
	return &p, nil
}

// ListProfiles implements Store, most recently updated first
func (m *MemoryStore) ListProfiles(ctx context.Context, userID string) ([]models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Profile{}
	for _, p := range m.profiles {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteProfile implements Store
func (m *MemoryStore) DeleteProfile(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok || p.UserID != userID {
		return errs.New(errs.ErrorTypeNotFound, 0, "profile %s not found", id)
	}
	delete(m.profiles, id)
	delete(m.posts, id)
	return nil
}

// DeletePosts implements Store
func (m *MemoryStore) DeletePosts(ctx context.Context, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, profileID)
	return nil
}

// InsertPosts implements Store
func (m *MemoryStore) InsertPosts(ctx context.Context, posts []models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range posts {
		if _, ok := m.profiles[posts[i].ProfileID]; !ok {
			return errs.New(errs.ErrorTypeNotFound, 0, "profile %s not found", posts[i].ProfileID)
		}
	}
	for i := range posts {
		if posts[i].ID == "" {
			posts[i].ID = uuid.NewString()
		}
		m.posts[posts[i].ProfileID] = append(m.posts[posts[i].ProfileID], posts[i])
	}
	return nil
}

// ListPosts implements Store, newest first
func (m *MemoryStore) ListPosts(ctx context.Context, profileID string) ([]models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]models.Post{}, m.posts[profileID]...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PublishedAt, out[j].PublishedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	return out, nil
}

// ActiveAPIKey implements Store
func (m *MemoryStore) ActiveAPIKey(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.apiKey == "" {
		return "", errs.New(errs.ErrorTypeNotFound, 0, "no active Apify API key found")
	}
	return m.apiKey, nil
}

// SetActiveAPIKey implements the key update used by the CLI
func (m *MemoryStore) SetActiveAPIKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = key
	return nil
}

// Counts returns the number of stored profiles and posts
func (m *MemoryStore) Counts() (profiles, posts int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.posts {
		posts += len(p)
	}
	return len(m.profiles), posts
}

// Close implements Store
func (m *MemoryStore) Close() {}
