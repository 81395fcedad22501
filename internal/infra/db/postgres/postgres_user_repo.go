package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.UserProfileRepository = (*userProfileRepo)(nil)

type userProfileRepo struct{ pool *pgxpool.Pool }

func NewProfileRepo(pool *pgxpool.Pool) *userProfileRepo {
	return &userProfileRepo{pool: pool}
}

// GetOrCreate inserts the default row when missing (ON CONFLICT keeps concurrent
// first accesses safe) and then reads it, locked when inside a transaction.
func (r *userProfileRepo) GetOrCreate(ctx context.Context, tx repository.Tx, userID int64, d model.ProfileDefaults) (*model.UserProfile, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	const ins = `
INSERT INTO user_profiles (user_id, credits, free_model1_usages, free_model2_usages, membership_type, created_at, updated_at)
VALUES ($1, 0, $2, $3, 0, NOW(), NOW())
ON CONFLICT (user_id) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, ins, userID, d.FreeModel1Usages, d.FreeModel2Usages); err != nil {
		return nil, mapErr(err)
	}

	q := lockIfTx(`SELECT user_id, credits, free_model1_usages, free_model2_usages, membership_type, membership_expires_at, created_at, updated_at
  FROM user_profiles WHERE user_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	p := &model.UserProfile{}
	var tier int16
	if err := row.Scan(&p.UserID, &p.Credits, &p.FreeModel1Usages, &p.FreeModel2Usages, &tier, &p.MembershipExpiresAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	p.MembershipTier = model.MembershipTier(tier)
	return p, nil
}

func (r *userProfileRepo) Save(ctx context.Context, tx repository.Tx, p *model.UserProfile) error {
	const q = `
UPDATE user_profiles
   SET credits=$2, free_model1_usages=$3, free_model2_usages=$4, membership_type=$5, membership_expires_at=$6, updated_at=$7
 WHERE user_id=$1;`
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, p.UserID, p.Credits, p.FreeModel1Usages, p.FreeModel2Usages, int16(p.MembershipTier), p.MembershipExpiresAt, p.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
