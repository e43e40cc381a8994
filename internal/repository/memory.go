package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/domain"
)

// InMemoryUserRepository backs user/auth state for deployments whose
// scheduler backend isn't PostgreSQL (memory, SQLite, MySQL, Redis, Mongo,
// MQTT) —
// mirroring the mutex-guarded map shape datastore/memory.Store uses for
// jobs and schedules.
type InMemoryUserRepository struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	byMail map[string]string
	tokens map[string]*domain.MagicToken
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:  make(map[string]*domain.User),
		byMail: make(map[string]string),
		tokens: make(map[string]*domain.MagicToken),
	}
}

func (r *InMemoryUserRepository) Upsert(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; ok {
		return nil
	}
	now := time.Now()
	r.users[userID] = &domain.User{ID: userID, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (r *InMemoryUserRepository) FindOrCreate(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byMail[email]; ok {
		u := r.users[id]
		u.UpdatedAt = time.Now()
		return u, nil
	}

	now := time.Now()
	u := &domain.User{ID: uuid.NewString(), Email: email, CreatedAt: now, UpdatedAt: now}
	r.users[u.ID] = u
	r.byMail[email] = u.ID
	return u, nil
}

func (r *InMemoryUserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (r *InMemoryUserRepository) CreateMagicToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[tokenHash] = &domain.MagicToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (r *InMemoryUserRepository) ClaimMagicToken(_ context.Context, tokenHash string) (*domain.MagicToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenHash]
	if !ok || t.UsedAt != nil || t.ExpiresAt.Before(time.Now()) {
		return nil, domain.ErrTokenInvalid
	}
	now := time.Now()
	t.UsedAt = &now
	return t, nil
}
