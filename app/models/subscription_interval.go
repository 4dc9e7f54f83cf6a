package models

import "time"

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusUnpaid     = "unpaid"
	BillingStatusInactive   = "inactive"
)

// SubscriptionInterval is one continuous segment of a customer's subscription
// history. Rows are append-only: an interval is never mutated except to set
// EndedAt when a newer interval supersedes it. Per customer at most one row
// has EndedAt == NULL (the active interval).
type SubscriptionInterval struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	StripeCustomerID     string     `gorm:"type:varchar(191);not null;index:idx_subscription_intervals_customer" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);not null;default:''" json:"stripe_subscription_id"`
	StripePriceID        string     `gorm:"type:varchar(191);not null;default:''" json:"stripe_price_id"`
	Tier                 string     `gorm:"type:varchar(50);not null;default:''" json:"tier"`
	Status               string     `gorm:"type:varchar(32);not null" json:"status"`
	PeriodStart          *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd            *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	StartedAt            *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	EndedAt              *time.Time `gorm:"type:timestamp;default:null;index" json:"ended_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// IsOpen reports whether this interval is the customer's active interval.
func (si *SubscriptionInterval) IsOpen() bool {
	return si != nil && si.EndedAt == nil
}
