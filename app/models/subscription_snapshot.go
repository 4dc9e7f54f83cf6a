package models

import "time"

// SubscriptionSnapshot is the single materialized row per customer that the
// entitlement check reads. The reconciler overwrites it on every pass with
// whatever the provider returned, independent of the interval history
// (last writer wins). It never drives interval writes itself.
type SubscriptionSnapshot struct {
	StripeCustomerID     string     `gorm:"type:varchar(191);primaryKey" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);not null;default:''" json:"stripe_subscription_id"`
	Status               string     `gorm:"type:varchar(32);not null;default:'inactive'" json:"status"`
	Tier                 string     `gorm:"type:varchar(50);not null;default:''" json:"tier"`
	StripePriceID        string     `gorm:"type:varchar(191);not null;default:''" json:"stripe_price_id"`
	PeriodStart          *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd            *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	PaymentMethodBrand   string     `gorm:"type:varchar(32);not null;default:''" json:"payment_method_brand"`
	PaymentMethodLast4   string     `gorm:"type:varchar(4);not null;default:''" json:"payment_method_last4"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the snapshot status grants access to paid
// features. Only live provider states count; past_due intentionally does not.
func (s *SubscriptionSnapshot) IsEntitling() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case BillingStatusActive, BillingStatusTrialing:
		return true
	default:
		return false
	}
}
