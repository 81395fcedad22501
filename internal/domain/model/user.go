package model

import (
	"time"

	"credit-settlement/internal/domain"
)

// ProfileDefaults are the grants a lazily created profile starts with.
type ProfileDefaults struct {
	FreeModel1Usages int
	FreeModel2Usages int
}

var DefaultProfileDefaults = ProfileDefaults{FreeModel1Usages: 5, FreeModel2Usages: 3}

// UserProfile holds a user's credit balance and membership.
// Credits always equals the sum of the user's ledger amounts.
type UserProfile struct {
	UserID              int64
	Credits             int64
	FreeModel1Usages    int
	FreeModel2Usages    int
	MembershipTier      MembershipTier
	MembershipExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func NewUserProfile(userID int64, d ProfileDefaults, now time.Time) (*UserProfile, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &UserProfile{
		UserID:           userID,
		FreeModel1Usages: d.FreeModel1Usages,
		FreeModel2Usages: d.FreeModel2Usages,
		MembershipTier:   TierNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (p *UserProfile) EffectiveTier(now time.Time) MembershipTier {
	return EffectiveTier(p.MembershipTier, p.MembershipExpiresAt, now)
}

func (p *UserProfile) IsMember(now time.Time) bool { return p.EffectiveTier(now) != TierNone }

// Assets is the snapshot written to the audit log.
type Assets struct {
	Credits             int64      `json:"credits"`
	MembershipType      int        `json:"membership_type"`
	MembershipExpiresAt *time.Time `json:"membership_expires_at"`
	FreeModel1Usages    int        `json:"free_model1_usages"`
	FreeModel2Usages    int        `json:"free_model2_usages"`
}

func (p *UserProfile) Assets() Assets {
	return Assets{
		Credits:             p.Credits,
		MembershipType:      int(p.MembershipTier),
		MembershipExpiresAt: p.MembershipExpiresAt,
		FreeModel1Usages:    p.FreeModel1Usages,
		FreeModel2Usages:    p.FreeModel2Usages,
	}
}

// AssetUpdate is an administrative change; nil fields are left alone.
type AssetUpdate struct {
	AdminID             int64
	UserID              int64
	Credits             *int64
	MembershipTier      *MembershipTier
	MembershipExpiresAt *time.Time
	FreeModel1Usages    *int
	FreeModel2Usages    *int
	IPAddress           string
	UserAgent           string
}

func (u AssetUpdate) Validate() error {
	if u.UserID <= 0 || u.AdminID <= 0 {
		return domain.Validationf("admin and user ids are required")
	}
	if u.Credits != nil && *u.Credits < 0 {
		return domain.Validationf("credits must not be negative")
	}
	if u.MembershipTier != nil && !u.MembershipTier.Valid() {
		return domain.Validationf("invalid membership type %d", int(*u.MembershipTier))
	}
	if u.FreeModel1Usages != nil && *u.FreeModel1Usages < 0 {
		return domain.Validationf("free_model1_usages must not be negative")
	}
	if u.FreeModel2Usages != nil && *u.FreeModel2Usages < 0 {
		return domain.Validationf("free_model2_usages must not be negative")
	}
	return nil
}

// AuditLog records an administrative mutation with before/after snapshots.
type AuditLog struct {
	ID              int64
	AdminID         int64
	TargetUserID    int64
	OperationType   string
	OperationDetail string
	BeforeData      string // JSON
	AfterData       string // JSON
	IPAddress       string
	UserAgent       string
	CreatedAt       time.Time
}

const AuditOpAssetUpdate = "asset_update"
