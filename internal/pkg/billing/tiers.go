package billing

import (
	"fmt"
	"strings"
)

// TierResolver maps Stripe price ids to internal plan tiers. The mapping is
// built once at startup from configuration and never changes afterwards, so
// lookups are safe from any goroutine.
type TierResolver struct {
	priceToTier map[string]string
}

// NewTierResolver parses a mapping of the form
// "price_abc:pro,price_def:premium". Empty input yields an empty resolver;
// malformed entries are a configuration error.
func NewTierResolver(mapping string) (*TierResolver, error) {
	priceToTier := make(map[string]string)
	for _, entry := range strings.Split(mapping, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		priceID, tier, found := strings.Cut(entry, ":")
		priceID = strings.TrimSpace(priceID)
		tier = strings.TrimSpace(tier)
		if !found || priceID == "" || tier == "" {
			return nil, fmt.Errorf("invalid price tier mapping entry %q", entry)
		}
		priceToTier[priceID] = tier
	}
	return &TierResolver{priceToTier: priceToTier}, nil
}

// Resolve returns the internal tier for a Stripe price id. Unknown price ids
// resolve to "" so an unrecognized price degrades to "no tier" instead of
// failing the reconciliation that carries it.
func (r *TierResolver) Resolve(priceID string) string {
	if r == nil {
		return ""
	}
	return r.priceToTier[strings.TrimSpace(priceID)]
}
