package billing

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v76"
	billingportalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscription"
)

// ProviderClient is the outbound boundary to the billing provider. Everything
// behind it is a blocking HTTP call; callers pass a context with a bounded
// timeout.
type ProviderClient interface {
	// CreateCustomer creates a provider-side customer tagged with the local
	// user id and returns the provider customer id.
	CreateCustomer(ctx context.Context, email string, userID uint) (string, error)
	// CreateCheckoutSession returns the hosted checkout URL for a
	// subscription-mode session, or "" if the provider returned none.
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error)
	// CreatePortalSession returns the hosted billing portal URL, or "".
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// GetLatestSubscription fetches the customer's most recent subscription
	// across all statuses, with the default payment method expanded. Returns
	// nil when the customer has no subscription at all.
	GetLatestSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error)
}

// StripeClient implements ProviderClient on the official Stripe SDK.
type StripeClient struct{}

// NewStripeClient configures the global Stripe key and returns the client.
func NewStripeClient(secretKey string) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{}
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email string, userID uint) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	// A fresh idempotency key per attempt; Stripe dedupes network retries.
	params.SetIdempotencyKey(uuid.NewString())
	if email != "" {
		params.Email = stripe.String(email)
	}
	// The metadata tag lets support trace a provider customer back to the
	// local user even if the link row was lost.
	params.AddMetadata("user_id", strconv.FormatUint(uint64(userID), 10))

	cust, err := customer.New(params)
	if err != nil {
		return "", &ProviderError{Op: "create customer", Msg: "request failed", Err: err}
	}
	return cust.ID, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", &ProviderError{Op: "create checkout session", Msg: "request failed", Err: err}
	}
	return sess.URL, nil
}

func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", &ProviderError{Op: "create portal session", Msg: "request failed", Err: err}
	}
	return sess.URL, nil
}

func (c *StripeClient) GetLatestSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	// Expanding here saves the extra round trip for card brand/last4.
	params.AddExpand("data.default_payment_method")

	iter := subscription.List(params)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			return nil, &ProviderError{Op: "list subscriptions", Msg: "request failed", Err: err}
		}
		return nil, nil
	}
	return normalizeSubscription(iter.Subscription()), nil
}

// normalizeSubscription validates and defaults the loosely-typed provider
// payload at the trust boundary. Every field the reconciler consumes is
// checked for presence here, never assumed.
func normalizeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	if sub == nil {
		return nil
	}

	normalized := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PeriodStart:       epochToTime(sub.CurrentPeriodStart),
		PeriodEnd:         epochToTime(sub.CurrentPeriodEnd),
		StartedAt:         epochToTime(sub.StartDate),
	}
	// Subscription start date can be absent on incomplete subscriptions;
	// fall back to the current period start.
	if normalized.StartedAt == nil {
		normalized.StartedAt = normalized.PeriodStart
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		normalized.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.DefaultPaymentMethod != nil && sub.DefaultPaymentMethod.Card != nil {
		normalized.PaymentMethodBrand = string(sub.DefaultPaymentMethod.Card.Brand)
		normalized.PaymentMethodLast4 = sub.DefaultPaymentMethod.Card.Last4
	}
	return normalized
}

func epochToTime(epoch int64) *time.Time {
	if epoch <= 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
