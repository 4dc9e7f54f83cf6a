package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
	"github.com/ManuelReschke/LinkFox/internal/pkg/cache"
	"github.com/ManuelReschke/LinkFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

var billingService *billing.Service

var billingValidate = validator.New()

// InitializeBillingController wires the billing service into the handlers.
// Must run before the billing routes are registered.
func InitializeBillingController(svc *billing.Service) {
	svc.SetWebhookMetrics(webhookCounterMetrics{})
	billingService = svc
}

// RedisEntitlementCache adapts the global cache helpers to the billing
// service's cache interface.
type RedisEntitlementCache struct{}

func (RedisEntitlementCache) Get(key string) (string, error) {
	return cache.Get(key)
}

func (RedisEntitlementCache) Set(key string, value string, ttl time.Duration) error {
	return cache.Set(key, value, ttl)
}

func (RedisEntitlementCache) Delete(key string) error {
	return cache.Delete(key)
}

type webhookCounterMetrics struct{}

func (webhookCounterMetrics) WebhookReceived(eventType string) {
	if err := counter.AddWebhookReceived(eventType); err != nil {
		log.Printf("billing: webhook received counter: %v", err)
	}
}

func (webhookCounterMetrics) WebhookDuplicate(eventType string) {
	if err := counter.AddWebhookDuplicate(eventType); err != nil {
		log.Printf("billing: webhook duplicate counter: %v", err)
	}
}

func (webhookCounterMetrics) WebhookRejected(eventType string) {
	if err := counter.AddWebhookRejected(eventType); err != nil {
		log.Printf("billing: webhook rejected counter: %v", err)
	}
}

type checkoutRequest struct {
	PriceID string `json:"price_id" validate:"required"`
}

type portalRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// HandleBillingCheckout creates a hosted checkout session for the
// authenticated user and returns its URL.
func HandleBillingCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := billingValidate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "price_id is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url, err := billingService.CreateCheckoutSession(ctx, userCtx.UserID, userCtx.Email, req.PriceID)
	if err != nil {
		return respondBillingError(c, err)
	}

	return c.JSON(fiber.Map{"url": url})
}

// HandleBillingPortal creates a billing portal session for the authenticated
// user and returns its URL.
func HandleBillingPortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req portalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := billingValidate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "return_url must be a valid URL"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url, err := billingService.CreatePortalSession(ctx, userCtx.UserID, req.ReturnURL)
	if err != nil {
		return respondBillingError(c, err)
	}

	return c.JSON(fiber.Map{"url": url})
}

// HandleBillingResync re-derives the subscription state from the provider
// for the authenticated user.
func HandleBillingResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	entitlement, err := billingService.Resync(ctx, userCtx.UserID)
	if err != nil {
		return respondBillingError(c, err)
	}

	return c.JSON(entitlement)
}

// HandleBillingEntitlement answers from local state only; a provider outage
// never turns into an error here.
func HandleBillingEntitlement(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	entitlement, err := billingService.GetEntitlement(c.Context(), userCtx.UserID)
	if err != nil {
		return respondBillingError(c, err)
	}

	return c.JSON(entitlement)
}

// HandleBillingWebhookStats returns the per-event-type webhook delivery
// counters. Admin only; the counters live in Redis.
func HandleBillingWebhookStats(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	if !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}

	stats := fiber.Map{}
	for _, kind := range []string{"received", "duplicate", "rejected"} {
		totals, err := counter.WebhookTotals(kind)
		if err != nil {
			log.Printf("billing: webhook stats read: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read webhook counters"})
		}
		stats[kind] = totals
	}
	return c.JSON(stats)
}

// HandleStripeWebhook receives provider webhook deliveries. The body must be
// the raw bytes Stripe signed; any re-serialization breaks verification.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := billingService.HandleWebhook(ctx, rawBody, signature); err != nil {
		return respondBillingError(c, err)
	}

	return c.JSON(fiber.Map{"received": true})
}

func respondBillingError(c *fiber.Ctx, err error) error {
	var validationErr *billing.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": validationErr.Error()})
	}

	var authErr *billing.AuthenticationError
	if errors.As(err, &authErr) {
		log.Printf("billing: webhook authentication failed from %s: %v", c.IP(), authErr)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid signature"})
	}

	var notFound *billing.NotFoundError
	if errors.As(err, &notFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": notFound.Error()})
	}

	var providerErr *billing.ProviderError
	if errors.As(err, &providerErr) {
		log.Printf("billing: provider error: %v", providerErr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "billing provider unavailable"})
	}

	log.Printf("billing: internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "billing operation failed"})
}
