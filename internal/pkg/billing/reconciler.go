package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// Reconciler pulls the provider's authoritative subscription state for one
// customer and merges it into the local interval history and snapshot. Sync
// is an idempotent convergent function of provider truth at call time:
// running it again without a provider-side change writes no new interval and
// re-upserts a numerically identical snapshot.
type Reconciler struct {
	repo     Repository
	provider ProviderClient
	tiers    *TierResolver

	// customerLocks serializes the compare-and-write sequence per customer.
	// The provider fetch deliberately happens outside the lock; only the
	// writes of one pass must not interleave with another pass for the same
	// customer.
	customerLocks keyedMutex

	// now is swapped in tests.
	now func() time.Time
}

// NewReconciler wires a reconciler from its collaborators.
func NewReconciler(repo Repository, provider ProviderClient, tiers *TierResolver) *Reconciler {
	return &Reconciler{
		repo:     repo,
		provider: provider,
		tiers:    tiers,
		now:      time.Now,
	}
}

// Sync fetches the customer's current subscription from the provider and
// reconciles interval history and snapshot. No persisted state is touched
// until the full derived state has been computed, so a provider timeout
// leaves everything untouched.
func (r *Reconciler) Sync(ctx context.Context, stripeCustomerID string) (*models.SubscriptionSnapshot, error) {
	sub, err := r.provider.GetLatestSubscription(ctx, stripeCustomerID)
	if err != nil {
		return nil, err
	}

	snapshot := r.deriveSnapshot(stripeCustomerID, sub)

	unlock := r.customerLocks.Lock(stripeCustomerID)
	defer unlock()

	active, err := r.repo.GetActiveInterval(stripeCustomerID)
	if err != nil {
		return nil, err
	}

	switch {
	case sub == nil:
		// Nothing live on the provider side: close out whatever we still
		// believed to be running.
		if active != nil {
			if err := r.repo.CloseActiveInterval(stripeCustomerID, r.now()); err != nil {
				return nil, err
			}
		}
	case active == nil || intervalDiffers(active, sub):
		if active != nil {
			if err := r.repo.CloseActiveInterval(stripeCustomerID, r.now()); err != nil {
				return nil, err
			}
		}
		if err := r.repo.CreateInterval(&models.SubscriptionInterval{
			StripeCustomerID:     stripeCustomerID,
			StripeSubscriptionID: sub.ID,
			StripePriceID:        sub.PriceID,
			Tier:                 r.tiers.Resolve(sub.PriceID),
			Status:               sub.Status,
			PeriodStart:          sub.PeriodStart,
			PeriodEnd:            sub.PeriodEnd,
			CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
			StartedAt:            sub.StartedAt,
		}); err != nil {
			return nil, err
		}
	}

	// The snapshot is refreshed unconditionally: the interval history tracks
	// distinct subscription states, the snapshot is a cache of current truth
	// and must not go stale just because nothing interval-worthy changed.
	if err := r.repo.UpsertSnapshot(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// intervalDiffers compares the key fields that define a distinct subscription
// state. Any difference supersedes the active interval.
func intervalDiffers(active *models.SubscriptionInterval, sub *ProviderSubscription) bool {
	return active.StripeSubscriptionID != sub.ID ||
		active.Status != sub.Status ||
		active.StripePriceID != sub.PriceID ||
		!timePtrEqual(active.PeriodStart, sub.PeriodStart) ||
		!timePtrEqual(active.PeriodEnd, sub.PeriodEnd)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Unix() == b.Unix()
}

func (r *Reconciler) deriveSnapshot(stripeCustomerID string, sub *ProviderSubscription) *models.SubscriptionSnapshot {
	if sub == nil {
		return &models.SubscriptionSnapshot{
			StripeCustomerID: stripeCustomerID,
			Status:           models.BillingStatusInactive,
		}
	}
	return &models.SubscriptionSnapshot{
		StripeCustomerID:     stripeCustomerID,
		StripeSubscriptionID: sub.ID,
		Status:               sub.Status,
		Tier:                 r.tiers.Resolve(sub.PriceID),
		StripePriceID:        sub.PriceID,
		PeriodStart:          sub.PeriodStart,
		PeriodEnd:            sub.PeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		PaymentMethodBrand:   sub.PaymentMethodBrand,
		PaymentMethodLast4:   sub.PaymentMethodLast4,
	}
}
