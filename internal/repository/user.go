package repository

import (
	"context"
	"time"

	"github.com/legout/flowerpower/internal/domain"
)

type UserRepository interface {
	FindOrCreate(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	CreateMagicToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ClaimMagicToken(ctx context.Context, tokenHash string) (*domain.MagicToken, error)
	// Upsert records a Clerk-issued user ID the first time it's seen, so
	// FK-constrained job/schedule rows always have a matching user.
	Upsert(ctx context.Context, userID string) error
}
