package entitlements

import "strings"

type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Limits are the feature gates a tier unlocks. Link counts cover active
// links; archived links never count against the quota.
type Limits struct {
	MaxActiveLinks   int
	AllowCustomAlias bool
	AllowLinkExpiry  bool
}

// ForTier returns the limits of a tier. Unknown or empty tiers fall back to
// the free limits, so a user whose subscription lapsed is downgraded rather
// than locked out.
func ForTier(tier Tier) Limits {
	switch tier {
	case TierPremium:
		return Limits{MaxActiveLinks: 10000, AllowCustomAlias: true, AllowLinkExpiry: true}
	case TierPro:
		return Limits{MaxActiveLinks: 500, AllowCustomAlias: true, AllowLinkExpiry: false}
	default:
		return Limits{MaxActiveLinks: 25, AllowCustomAlias: false, AllowLinkExpiry: false}
	}
}

// Normalize maps an arbitrary tier string (snapshot column, price map value)
// onto a known Tier.
func Normalize(tier string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case TierPro:
		return TierPro
	case TierPremium:
		return TierPremium
	default:
		return TierFree
	}
}
