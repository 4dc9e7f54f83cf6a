package billing

import (
	"errors"
	"time"

	"github.com/ManuelReschke/LinkFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing service and the
// reconciler. Lookups return (nil, nil) when no row exists so callers can
// distinguish "absent" from an actual storage failure.
type Repository interface {
	GetCustomerByUserID(userID uint) (*models.BillingCustomer, error)
	GetCustomerByStripeID(stripeCustomerID string) (*models.BillingCustomer, error)
	CreateCustomer(link *models.BillingCustomer) error

	GetActiveInterval(stripeCustomerID string) (*models.SubscriptionInterval, error)
	CloseActiveInterval(stripeCustomerID string, endedAt time.Time) error
	CreateInterval(interval *models.SubscriptionInterval) error

	GetSnapshot(stripeCustomerID string) (*models.SubscriptionSnapshot, error)
	UpsertSnapshot(snapshot *models.SubscriptionSnapshot) error

	HasProcessedEvent(stripeEventID string) (bool, error)
	RecordEvent(event *models.BillingWebhookEvent) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetCustomerByUserID(userID uint) (*models.BillingCustomer, error) {
	var link models.BillingCustomer
	err := r.db.Where("user_id = ?", userID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *gormRepository) GetCustomerByStripeID(stripeCustomerID string) (*models.BillingCustomer, error) {
	var link models.BillingCustomer
	err := r.db.Where("stripe_customer_id = ?", stripeCustomerID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *gormRepository) CreateCustomer(link *models.BillingCustomer) error {
	return r.db.Create(link).Error
}

func (r *gormRepository) GetActiveInterval(stripeCustomerID string) (*models.SubscriptionInterval, error) {
	var interval models.SubscriptionInterval
	err := r.db.
		Where("stripe_customer_id = ? AND ended_at IS NULL", stripeCustomerID).
		First(&interval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &interval, nil
}

func (r *gormRepository) CloseActiveInterval(stripeCustomerID string, endedAt time.Time) error {
	return r.db.Model(&models.SubscriptionInterval{}).
		Where("stripe_customer_id = ? AND ended_at IS NULL", stripeCustomerID).
		Update("ended_at", endedAt).Error
}

func (r *gormRepository) CreateInterval(interval *models.SubscriptionInterval) error {
	return r.db.Create(interval).Error
}

func (r *gormRepository) GetSnapshot(stripeCustomerID string) (*models.SubscriptionSnapshot, error) {
	var snapshot models.SubscriptionSnapshot
	err := r.db.Where("stripe_customer_id = ?", stripeCustomerID).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *gormRepository) UpsertSnapshot(snapshot *models.SubscriptionSnapshot) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_subscription_id",
			"status",
			"tier",
			"stripe_price_id",
			"period_start",
			"period_end",
			"cancel_at_period_end",
			"payment_method_brand",
			"payment_method_last4",
			"updated_at",
		}),
	}).Create(snapshot).Error
}

func (r *gormRepository) HasProcessedEvent(stripeEventID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.BillingWebhookEvent{}).
		Where("stripe_event_id = ?", stripeEventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordEvent inserts the idempotency witness for a webhook delivery. The
// unique index on stripe_event_id arbitrates concurrent duplicate deliveries:
// exactly one insert wins, the loser gets a ConflictError.
func (r *gormRepository) RecordEvent(event *models.BillingWebhookEvent) error {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return &ConflictError{Msg: "webhook event " + event.StripeEventID + " already recorded"}
	}
	return nil
}
