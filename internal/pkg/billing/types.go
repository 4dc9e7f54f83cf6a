package billing

import "time"

// ProviderSubscription is the normalized view of a customer's live Stripe
// subscription, reduced to the fields the reconciler consumes. Epoch-second
// fields from the wire are already converted to timestamps here; optional
// fields that the provider omitted stay nil/empty instead of guessing.
type ProviderSubscription struct {
	ID                 string
	Status             string
	PriceID            string
	PeriodStart        *time.Time
	PeriodEnd          *time.Time
	StartedAt          *time.Time
	CancelAtPeriodEnd  bool
	PaymentMethodBrand string
	PaymentMethodLast4 string
}

// Entitlement is the answer to "may this user use paid features" derived
// solely from the local snapshot, never from a live provider call.
type Entitlement struct {
	Active bool   `json:"active"`
	Tier   string `json:"tier"`
}
