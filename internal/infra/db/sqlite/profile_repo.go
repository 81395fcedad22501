package sqlite

import (
	"context"
	"database/sql"
	"time"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.UserProfileRepository = (*profileRepo)(nil)

type profileRepo struct{ d *DB }

func NewProfileRepo(d *DB) *profileRepo { return &profileRepo{d: d} }

func (r *profileRepo) GetOrCreate(ctx context.Context, tx repository.Tx, userID int64, defaults model.ProfileDefaults) (*model.UserProfile, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	ex, err := r.d.exec(tx)
	if err != nil {
		return nil, err
	}
	now := micros(time.Now())
	if _, err := ex.ExecContext(ctx, `
INSERT INTO user_profiles (user_id, credits, free_model1_usages, free_model2_usages, membership_type, created_at, updated_at)
VALUES (?, 0, ?, ?, 0, ?, ?)
ON CONFLICT (user_id) DO NOTHING;`, userID, defaults.FreeModel1Usages, defaults.FreeModel2Usages, now, now); err != nil {
		return nil, mapErr(err)
	}

	p := &model.UserProfile{}
	var (
		tier             int
		expires          sql.NullInt64
		created, updated int64
	)
	err = ex.QueryRowContext(ctx, `
SELECT user_id, credits, free_model1_usages, free_model2_usages, membership_type, membership_expires_at, created_at, updated_at
  FROM user_profiles WHERE user_id=?`, userID).
		Scan(&p.UserID, &p.Credits, &p.FreeModel1Usages, &p.FreeModel2Usages, &tier, &expires, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	p.MembershipTier = model.MembershipTier(tier)
	p.MembershipExpiresAt = timePtr(expires)
	p.CreatedAt = fromMicros(created)
	p.UpdatedAt = fromMicros(updated)
	return p, nil
}

func (r *profileRepo) Save(ctx context.Context, tx repository.Tx, p *model.UserProfile) error {
	ex, err := r.d.exec(tx)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	res, err := ex.ExecContext(ctx, `
UPDATE user_profiles
   SET credits=?, free_model1_usages=?, free_model2_usages=?, membership_type=?, membership_expires_at=?, updated_at=?
 WHERE user_id=?;`, p.Credits, p.FreeModel1Usages, p.FreeModel2Usages, int(p.MembershipTier),
		nullMicros(p.MembershipExpiresAt), micros(p.UpdatedAt), p.UserID)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
