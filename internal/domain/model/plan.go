package model

import "github.com/shopspring/decimal"

// MembershipGrant is the membership a product confers.
type MembershipGrant struct {
	Tier MembershipTier
	Days int
}

// Product is a purchasable catalog entry.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Credits     int64
	Membership  *MembershipGrant
}

func (p *Product) GrantsMembership() bool {
	return p.Membership != nil && p.Membership.Tier != TierNone && p.Membership.Days > 0
}
