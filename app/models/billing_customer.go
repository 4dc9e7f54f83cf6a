package models

import "time"

// BillingCustomer links a local user to their Stripe customer. The link is
// created lazily on the first billing interaction and is immutable afterwards:
// rows are only ever inserted and read, never updated.
type BillingCustomer struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;uniqueIndex:ux_billing_customers_user" json:"user_id"`
	StripeCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_customers_stripe" json:"stripe_customer_id"`
	Email            string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
