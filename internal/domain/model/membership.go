package model

import (
	"strings"
	"time"
)

type MembershipTier int

const (
	TierNone         MembershipTier = 0
	TierAdvanced     MembershipTier = 1
	TierProfessional MembershipTier = 2
)

func (t MembershipTier) Valid() bool { return t >= TierNone && t <= TierProfessional }

func (t MembershipTier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierAdvanced:
		return "advanced"
	case TierProfessional:
		return "professional"
	default:
		return "unknown"
	}
}

// ParseTier accepts the catalog names ("advanced", "professional") and "none".
func ParseTier(s string) (MembershipTier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TierNone, true
	case "advanced":
		return TierAdvanced, true
	case "professional":
		return TierProfessional, true
	default:
		return TierNone, false
	}
}

// EffectiveTier is the stored tier, or none when the membership is absent or expired.
func EffectiveTier(tier MembershipTier, expiresAt *time.Time, now time.Time) MembershipTier {
	if expiresAt == nil || !expiresAt.After(now) {
		return TierNone
	}
	return tier
}

// GrantDecision is the outcome of DecideGrant.
type GrantDecision struct {
	Tier      MembershipTier
	ExpiresAt *time.Time
	Applied   bool
}

// DecideGrant applies the membership policy:
//
//   - an expired or absent membership counts as tier none;
//   - an active professional membership is never lowered;
//   - an active membership is extended from its current expiry, otherwise from now;
//   - a higher tier, or any tier over none, replaces tier and expiry;
//   - the same tier only moves the expiry;
//   - a lower tier than an active one is ignored.
//
// When Applied is false the returned tier and expiry are the inputs unchanged.
func DecideGrant(current MembershipTier, expiresAt *time.Time, requested MembershipTier, days int, now time.Time) GrantDecision {
	unchanged := GrantDecision{Tier: current, ExpiresAt: expiresAt}

	effective := EffectiveTier(current, expiresAt, now)
	if effective == TierProfessional && requested < TierProfessional {
		return unchanged
	}

	grant := time.Duration(days) * 24 * time.Hour
	var next time.Time
	if effective != TierNone {
		next = expiresAt.Add(grant)
	} else {
		next = now.Add(grant)
	}

	switch {
	case requested > effective || effective == TierNone:
		return GrantDecision{Tier: requested, ExpiresAt: &next, Applied: true}
	case requested == effective:
		return GrantDecision{Tier: current, ExpiresAt: &next, Applied: true}
	default:
		return unchanged
	}
}
