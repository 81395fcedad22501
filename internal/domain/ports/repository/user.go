package repository

import (
	"context"

	"credit-settlement/internal/domain/model"
)

// -----------------------------
// User profiles
// -----------------------------

type UserProfileRepository interface {
	// GetOrCreate loads the profile, creating it with defaults on first access.
	// Inside a transaction the row stays locked until commit.
	GetOrCreate(ctx context.Context, tx Tx, userID int64, defaults model.ProfileDefaults) (*model.UserProfile, error)
	Save(ctx context.Context, tx Tx, p *model.UserProfile) error
}
