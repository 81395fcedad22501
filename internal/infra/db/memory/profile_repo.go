package memory

import (
	"context"
	"time"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.UserProfileRepository = (*profileRepo)(nil)

type profileRepo struct{ s *Store }

func NewProfileRepo(s *Store) *profileRepo { return &profileRepo{s: s} }

func (r *profileRepo) GetOrCreate(ctx context.Context, tx repository.Tx, userID int64, d model.ProfileDefaults) (*model.UserProfile, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, err
	}
	defer done()

	if p, ok := r.s.profiles[userID]; ok {
		return cloneProfile(p), nil
	}
	p, err := model.NewUserProfile(userID, d, time.Now())
	if err != nil {
		return nil, err
	}
	r.s.profiles[userID] = cloneProfile(p)
	return p, nil
}

func (r *profileRepo) Save(ctx context.Context, tx repository.Tx, p *model.UserProfile) error {
	done, err := r.s.enter(tx)
	if err != nil {
		return err
	}
	defer done()

	if _, ok := r.s.profiles[p.UserID]; !ok {
		return domain.ErrNotFound
	}
	if p.Credits < 0 {
		return domain.ErrInsufficientCredits
	}
	r.s.profiles[p.UserID] = cloneProfile(p)
	return nil
}
