package models

import "time"

// BillingWebhookEvent is the idempotency ledger for Stripe webhook
// deliveries. The unique index on StripeEventID makes the insert the atomic
// check-and-record step: a second delivery of the same event id conflicts and
// is treated as an already-processed no-op. Rows are append-only.
type BillingWebhookEvent struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	StripeEventID    string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_webhook_events_event" json:"stripe_event_id"`
	EventType        string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	StripeCustomerID string    `gorm:"type:varchar(191);not null;default:'';index" json:"stripe_customer_id"`
	PayloadJSON      string    `gorm:"type:longtext;not null" json:"payload_json"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
