package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

const testWebhookSecret = "whsec_controller_test"

type stubRepository struct {
	customers map[uint]*models.BillingCustomer
	snapshots map[string]*models.SubscriptionSnapshot
	events    map[string]bool
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		customers: make(map[uint]*models.BillingCustomer),
		snapshots: make(map[string]*models.SubscriptionSnapshot),
		events:    make(map[string]bool),
	}
}

func (s *stubRepository) GetCustomerByUserID(userID uint) (*models.BillingCustomer, error) {
	return s.customers[userID], nil
}

func (s *stubRepository) GetCustomerByStripeID(stripeCustomerID string) (*models.BillingCustomer, error) {
	for _, link := range s.customers {
		if link.StripeCustomerID == stripeCustomerID {
			return link, nil
		}
	}
	return nil, nil
}

func (s *stubRepository) CreateCustomer(link *models.BillingCustomer) error {
	s.customers[link.UserID] = link
	return nil
}

func (s *stubRepository) GetActiveInterval(stripeCustomerID string) (*models.SubscriptionInterval, error) {
	return nil, nil
}

func (s *stubRepository) CloseActiveInterval(stripeCustomerID string, endedAt time.Time) error {
	return nil
}

func (s *stubRepository) CreateInterval(interval *models.SubscriptionInterval) error {
	return nil
}

func (s *stubRepository) GetSnapshot(stripeCustomerID string) (*models.SubscriptionSnapshot, error) {
	return s.snapshots[stripeCustomerID], nil
}

func (s *stubRepository) UpsertSnapshot(snapshot *models.SubscriptionSnapshot) error {
	s.snapshots[snapshot.StripeCustomerID] = snapshot
	return nil
}

func (s *stubRepository) HasProcessedEvent(stripeEventID string) (bool, error) {
	return s.events[stripeEventID], nil
}

func (s *stubRepository) RecordEvent(event *models.BillingWebhookEvent) error {
	if s.events[event.StripeEventID] {
		return &billing.ConflictError{Msg: "event already recorded"}
	}
	s.events[event.StripeEventID] = true
	return nil
}

type stubProvider struct {
	checkoutURL string
	portalURL   string
	sub         *billing.ProviderSubscription
}

func (s *stubProvider) CreateCustomer(ctx context.Context, email string, userID uint) (string, error) {
	return fmt.Sprintf("cus_stub_%d", userID), nil
}

func (s *stubProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error) {
	return s.checkoutURL, nil
}

func (s *stubProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return s.portalURL, nil
}

func (s *stubProvider) GetLatestSubscription(ctx context.Context, customerID string) (*billing.ProviderSubscription, error) {
	return s.sub, nil
}

func newBillingTestService(t *testing.T, repo billing.Repository, provider billing.ProviderClient) *billing.Service {
	t.Helper()
	tiers, err := billing.NewTierResolver("price_pro_month:pro,price_premium_month:premium")
	require.NoError(t, err)
	return billing.NewService(repo, provider, tiers, nil, billing.Config{
		StripeSecretKey: "sk_test",
		WebhookSecret:   testWebhookSecret,
		SuccessURL:      "https://linkfox.test/success",
		CancelURL:       "https://linkfox.test/cancel",
	})
}

func newBillingTestApp(userID uint, email string) *fiber.App {
	app := fiber.New()

	authed := func(c *fiber.Ctx) error {
		if userID != 0 {
			c.Locals("USER_CONTEXT", usercontext.UserContext{
				UserID:     userID,
				Username:   "tester",
				Email:      email,
				IsLoggedIn: true,
			})
		}
		return c.Next()
	}

	app.Post("/api/v1/billing/checkout", authed, HandleBillingCheckout)
	app.Post("/api/v1/billing/portal", authed, HandleBillingPortal)
	app.Post("/api/v1/billing/resync", authed, HandleBillingResync)
	app.Get("/api/v1/billing/entitlement", authed, HandleBillingEntitlement)
	app.Get("/api/v1/billing/webhook-stats", authed, HandleBillingWebhookStats)
	app.Post("/webhooks/stripe", HandleStripeWebhook)

	return app
}

func stripeSignatureHeader(body []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func decodeJSONBody(t *testing.T, resp io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp).Decode(&out))
	return out
}

func TestHandleStripeWebhookRejectsBadSignature(t *testing.T) {
	billingService = newBillingTestService(t, newStubRepository(), &stubProvider{})
	app := newBillingTestApp(0, "")

	body := []byte(`{"id":"evt_1","type":"price.updated","data":{"object":{"object":"price"}}}`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleStripeWebhookAcceptsSignedEvent(t *testing.T) {
	repo := newStubRepository()
	billingService = newBillingTestService(t, repo, &stubProvider{})
	app := newBillingTestApp(0, "")

	body := []byte(`{"id":"evt_1","type":"price.updated","data":{"object":{"object":"price"}}}`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader(body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeJSONBody(t, resp.Body)
	assert.Equal(t, true, out["received"])
	assert.True(t, repo.events["evt_1"])

	// Duplicate delivery still answers 200.
	req = httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader(body))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHandleStripeWebhookMalformedBody(t *testing.T) {
	billingService = newBillingTestService(t, newStubRepository(), &stubProvider{})
	app := newBillingTestApp(0, "")

	body := []byte(`{"id":`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader(body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleBillingWebhookStatsRequiresAdmin(t *testing.T) {
	billingService = newBillingTestService(t, newStubRepository(), &stubProvider{})

	app := newBillingTestApp(7, "a@b.com")
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/billing/webhook-stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	app = newBillingTestApp(0, "")
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/billing/webhook-stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleBillingCheckout(t *testing.T) {
	billingService = newBillingTestService(t, newStubRepository(), &stubProvider{checkoutURL: "https://checkout.stripe.test/cs_1"})
	app := newBillingTestApp(1, "a@b.com")

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/billing/checkout", bytes.NewReader([]byte(`{"price_id":"price_pro_month"}`)))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeJSONBody(t, resp.Body)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", out["url"])
}

func TestHandleBillingCheckoutMissingPrice(t *testing.T) {
	billingService = newBillingTestService(t, newStubRepository(), &stubProvider{})
	app := newBillingTestApp(1, "a@b.com")

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/billing/checkout", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleBillingPortalWithoutCustomer(t *testing.T) {
	billingService = newBillingTestService(t, newStubRepository(), &stubProvider{portalURL: "https://portal.stripe.test/ps_1"})
	app := newBillingTestApp(1, "a@b.com")

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/billing/portal", bytes.NewReader([]byte(`{"return_url":"https://linkfox.test/settings"}`)))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleBillingEntitlement(t *testing.T) {
	repo := newStubRepository()
	repo.customers[1] = &models.BillingCustomer{UserID: 1, StripeCustomerID: "cus_1"}
	repo.snapshots["cus_1"] = &models.SubscriptionSnapshot{
		StripeCustomerID: "cus_1",
		Status:           models.BillingStatusActive,
		Tier:             "pro",
	}
	billingService = newBillingTestService(t, repo, &stubProvider{})
	app := newBillingTestApp(1, "a@b.com")

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/billing/entitlement", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeJSONBody(t, resp.Body)
	assert.Equal(t, true, out["active"])
	assert.Equal(t, "pro", out["tier"])
}

func TestHandleBillingEntitlementUnauthenticated(t *testing.T) {
	billingService = newBillingTestService(t, newStubRepository(), &stubProvider{})
	app := newBillingTestApp(0, "")

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/billing/entitlement", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
