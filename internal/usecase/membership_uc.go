package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
	"credit-settlement/internal/infra/logging"
	"credit-settlement/internal/infra/metrics"
)

// Compile-time check
var _ MembershipUseCase = (*membershipUC)(nil)

// MembershipStatus is the membership as seen at a point in time.
type MembershipStatus struct {
	UserID     int64
	Tier       model.MembershipTier // effective tier, none when expired
	StoredTier model.MembershipTier
	ExpiresAt  *time.Time
	Active     bool
}

type MembershipUseCase interface {
	// Grant applies model.DecideGrant. A grant the policy ignores is not an error.
	Grant(ctx context.Context, userID int64, tier model.MembershipTier, days int) (*model.UserProfile, error)
	GrantTx(ctx context.Context, tx repository.Tx, userID int64, tier model.MembershipTier, days int) (*model.UserProfile, error)
	Status(ctx context.Context, userID int64) (*MembershipStatus, error)
}

type membershipUC struct {
	profiles repository.UserProfileRepository
	tm       repository.TransactionManager
	defaults model.ProfileDefaults
	log      *zerolog.Logger
	now      func() time.Time
}

func NewMembershipUseCase(profiles repository.UserProfileRepository, tm repository.TransactionManager, defaults model.ProfileDefaults, logger *zerolog.Logger) *membershipUC {
	return &membershipUC{profiles: profiles, tm: tm, defaults: defaults, log: logger, now: time.Now}
}

func (u *membershipUC) Grant(ctx context.Context, userID int64, tier model.MembershipTier, days int) (*model.UserProfile, error) {
	defer logging.TraceDuration(u.log, "MembershipUC.Grant")()

	var p *model.UserProfile
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = u.GrantTx(ctx, tx, userID, tier, days)
		return err
	})
	return p, err
}

func (u *membershipUC) GrantTx(ctx context.Context, tx repository.Tx, userID int64, tier model.MembershipTier, days int) (*model.UserProfile, error) {
	if !tier.Valid() {
		return nil, domain.Validationf("invalid membership type %d", int(tier))
	}
	if days <= 0 {
		return nil, domain.Validationf("membership days must be positive, got %d", days)
	}

	p, err := u.profiles.GetOrCreate(ctx, tx, userID, u.defaults)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: user %d: %v", domain.ErrProfileUnavailable, userID, err)
	}

	now := u.now()
	d := model.DecideGrant(p.MembershipTier, p.MembershipExpiresAt, tier, days, now)
	metrics.IncMembershipGrant(tier.String(), d.Applied)
	if !d.Applied {
		logging.With(ctx, u.log).Info().
			Int64("user_id", userID).Str("current", p.EffectiveTier(now).String()).Str("requested", tier.String()).
			Msg("membership grant ignored by policy")
		return p, nil
	}

	p.MembershipTier = d.Tier
	p.MembershipExpiresAt = d.ExpiresAt
	p.UpdatedAt = now
	if err := u.profiles.Save(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (u *membershipUC) Status(ctx context.Context, userID int64) (*MembershipStatus, error) {
	p, err := u.profiles.GetOrCreate(ctx, repository.NoTX, userID, u.defaults)
	if err != nil {
		return nil, err
	}
	now := u.now()
	eff := p.EffectiveTier(now)
	return &MembershipStatus{
		UserID:     userID,
		Tier:       eff,
		StoredTier: p.MembershipTier,
		ExpiresAt:  p.MembershipExpiresAt,
		Active:     eff != model.TierNone,
	}, nil
}
