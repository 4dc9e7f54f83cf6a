package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/LinkFox/app/models"
)

const entitlementCacheTTL = 60 * time.Second

// Config carries the billing settings supplied at process start. A missing
// required value is a startup fatal, never a per-request error.
type Config struct {
	StripeSecretKey string
	WebhookSecret   string
	SuccessURL      string
	CancelURL       string
	PriceTierMap    string
}

// Validate reports the first missing required setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.StripeSecretKey) == "":
		return errors.New("STRIPE_SECRET_KEY is required")
	case strings.TrimSpace(c.WebhookSecret) == "":
		return errors.New("STRIPE_WEBHOOK_SECRET is required")
	case strings.TrimSpace(c.SuccessURL) == "":
		return errors.New("BILLING_SUCCESS_URL is required")
	case strings.TrimSpace(c.CancelURL) == "":
		return errors.New("BILLING_CANCEL_URL is required")
	}
	return nil
}

// EntitlementCache is the optional process-external cache in front of
// snapshot reads. A nil cache disables caching; errors are treated as misses.
type EntitlementCache interface {
	Get(key string) (string, error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
}

// WebhookMetrics receives per-event-type webhook counters. All methods are
// fire-and-forget; implementations must not block.
type WebhookMetrics interface {
	WebhookReceived(eventType string)
	WebhookDuplicate(eventType string)
	WebhookRejected(eventType string)
}

// Service composes signature verification, the event ledger, customer
// linking and the reconciler into the public billing operations.
type Service struct {
	repo       Repository
	provider   ProviderClient
	reconciler *Reconciler
	cache      EntitlementCache
	cfg        Config
	metrics    WebhookMetrics

	// userLocks serializes first-time customer creation per user so two
	// concurrent checkouts cannot create two provider customers.
	userLocks keyedMutex

	now func() time.Time
}

// NewService creates the billing service. cache may be nil.
func NewService(repo Repository, provider ProviderClient, tiers *TierResolver, cache EntitlementCache, cfg Config) *Service {
	return &Service{
		repo:       repo,
		provider:   provider,
		reconciler: NewReconciler(repo, provider, tiers),
		cache:      cache,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetWebhookMetrics installs the optional webhook counters. A nil metrics
// sink keeps counting disabled.
func (s *Service) SetWebhookMetrics(m WebhookMetrics) {
	s.metrics = m
}

// CreateCheckoutSession links the user to a provider customer (creating one
// on first use) and returns the hosted checkout URL for the given price.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID uint, email, priceID string) (string, error) {
	if strings.TrimSpace(priceID) == "" {
		return "", &ValidationError{Field: "price_id", Msg: "is required"}
	}

	link, err := s.getOrCreateCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	url, err := s.provider.CreateCheckoutSession(ctx, link.StripeCustomerID, priceID, s.cfg.SuccessURL, s.cfg.CancelURL)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", &ProviderError{Op: "create checkout session", Msg: "no checkout url returned"}
	}
	return url, nil
}

// CreatePortalSession returns a billing portal URL for an already linked
// user. A user who never checked out has no provider customer to open a
// portal for.
func (s *Service) CreatePortalSession(ctx context.Context, userID uint, returnURL string) (string, error) {
	if strings.TrimSpace(returnURL) == "" {
		return "", &ValidationError{Field: "return_url", Msg: "is required"}
	}

	link, err := s.repo.GetCustomerByUserID(userID)
	if err != nil {
		return "", err
	}
	if link == nil {
		return "", &NotFoundError{Msg: "customer not found"}
	}

	url, err := s.provider.CreatePortalSession(ctx, link.StripeCustomerID, returnURL)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", &ProviderError{Op: "create portal session", Msg: "no portal url returned"}
	}
	return url, nil
}

// webhookEvent is the envelope of a verified webhook payload. Only the
// fields the orchestrator consumes are declared; the raw object is kept for
// customer extraction.
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// HandleWebhook authenticates, dedupes and applies one webhook delivery.
// Duplicate deliveries are a successful no-op so the provider stops
// retrying.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if !VerifyWebhookSignature(rawBody, signatureHeader, s.cfg.WebhookSecret, s.now()) {
		s.countRejected("")
		return &AuthenticationError{Msg: "invalid webhook signature"}
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		s.countRejected("")
		return &ValidationError{Field: "body", Msg: "malformed event payload"}
	}
	if event.ID == "" || event.Type == "" {
		s.countRejected(event.Type)
		return &ValidationError{Field: "body", Msg: "event id and type are required"}
	}

	processed, err := s.repo.HasProcessedEvent(event.ID)
	if err != nil {
		return err
	}
	if processed {
		s.countDuplicate(event.Type)
		return nil
	}

	customerID := customerIDFromObject(event.Data.Object)
	err = s.repo.RecordEvent(&models.BillingWebhookEvent{
		StripeEventID:    event.ID,
		EventType:        event.Type,
		StripeCustomerID: customerID,
		PayloadJSON:      string(rawBody),
	})
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		// Lost the insert race against a concurrent delivery of the same
		// event; that delivery owns the side effects.
		s.countDuplicate(event.Type)
		return nil
	}
	if err != nil {
		return err
	}
	s.countReceived(event.Type)

	if customerID == "" {
		return nil
	}

	link, err := s.repo.GetCustomerByStripeID(customerID)
	if err != nil {
		return err
	}
	if link == nil {
		// Event for a customer we never linked (e.g. created directly in the
		// provider dashboard). Recorded, but nothing local to reconcile.
		log.Printf("billing: webhook %s references unknown customer %s", event.Type, customerID)
		return nil
	}

	if _, err := s.reconciler.Sync(ctx, customerID); err != nil {
		return err
	}
	s.invalidateEntitlement(link.UserID)
	return nil
}

// Resync re-derives provider truth for the calling user, outside of any
// webhook. It consumes no provider events and writes no ledger entries.
func (s *Service) Resync(ctx context.Context, userID uint) (Entitlement, error) {
	link, err := s.repo.GetCustomerByUserID(userID)
	if err != nil {
		return Entitlement{}, err
	}
	if link == nil {
		return Entitlement{}, &NotFoundError{Msg: "customer not found"}
	}

	snapshot, err := s.reconciler.Sync(ctx, link.StripeCustomerID)
	if err != nil {
		return Entitlement{}, err
	}
	s.invalidateEntitlement(userID)
	return snapshotEntitlement(snapshot), nil
}

// GetEntitlement answers the entitlement question from the local snapshot
// only. It never calls the provider, so a provider outage cannot lock users
// out of what they already paid for.
func (s *Service) GetEntitlement(ctx context.Context, userID uint) (Entitlement, error) {
	_ = ctx

	if cached, ok := s.cachedEntitlement(userID); ok {
		return cached, nil
	}

	entitlement := Entitlement{}
	link, err := s.repo.GetCustomerByUserID(userID)
	if err != nil {
		return Entitlement{}, err
	}
	if link != nil {
		snapshot, err := s.repo.GetSnapshot(link.StripeCustomerID)
		if err != nil {
			return Entitlement{}, err
		}
		entitlement = snapshotEntitlement(snapshot)
	}

	s.storeEntitlement(userID, entitlement)
	return entitlement, nil
}

func snapshotEntitlement(snapshot *models.SubscriptionSnapshot) Entitlement {
	if snapshot == nil {
		return Entitlement{}
	}
	return Entitlement{
		Active: snapshot.IsEntitling(),
		Tier:   snapshot.Tier,
	}
}

// getOrCreateCustomer returns the user's customer link, creating the
// provider customer on first use. The per-user lock is held across the
// provider call so concurrent first-time checkouts (two browser tabs) cannot
// both create a customer.
func (s *Service) getOrCreateCustomer(ctx context.Context, userID uint, email string) (*models.BillingCustomer, error) {
	unlock := s.userLocks.Lock(strconv.FormatUint(uint64(userID), 10))
	defer unlock()

	link, err := s.repo.GetCustomerByUserID(userID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		return link, nil
	}

	stripeCustomerID, err := s.provider.CreateCustomer(ctx, email, userID)
	if err != nil {
		return nil, err
	}

	link = &models.BillingCustomer{
		UserID:           userID,
		StripeCustomerID: stripeCustomerID,
		Email:            email,
	}
	if err := s.repo.CreateCustomer(link); err != nil {
		// The provider customer now exists without a local link; a retry
		// creates a second one. The user_id metadata tag keeps such orphans
		// traceable for support.
		return nil, err
	}
	return link, nil
}

// customerIDFromObject extracts the customer reference from an event's data
// object. The field is usually the id string, but expanded payloads carry
// the full customer object, and customer.* events carry the id at top level.
func customerIDFromObject(object json.RawMessage) string {
	if len(object) == 0 {
		return ""
	}

	var probe struct {
		Object   string          `json:"object"`
		ID       string          `json:"id"`
		Customer json.RawMessage `json:"customer"`
	}
	if err := json.Unmarshal(object, &probe); err != nil {
		return ""
	}

	if len(probe.Customer) > 0 {
		var id string
		if err := json.Unmarshal(probe.Customer, &id); err == nil {
			return id
		}
		var expanded struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(probe.Customer, &expanded); err == nil {
			return expanded.ID
		}
		return ""
	}

	if probe.Object == "customer" {
		return probe.ID
	}
	return ""
}

func (s *Service) countReceived(eventType string) {
	if s.metrics != nil {
		s.metrics.WebhookReceived(eventType)
	}
}

func (s *Service) countDuplicate(eventType string) {
	if s.metrics != nil {
		s.metrics.WebhookDuplicate(eventType)
	}
}

func (s *Service) countRejected(eventType string) {
	if s.metrics != nil {
		s.metrics.WebhookRejected(eventType)
	}
}

func (s *Service) cachedEntitlement(userID uint) (Entitlement, bool) {
	if s.cache == nil {
		return Entitlement{}, false
	}
	raw, err := s.cache.Get(entitlementCacheKey(userID))
	if err != nil || raw == "" {
		return Entitlement{}, false
	}
	var entitlement Entitlement
	if err := json.Unmarshal([]byte(raw), &entitlement); err != nil {
		return Entitlement{}, false
	}
	return entitlement, true
}

func (s *Service) storeEntitlement(userID uint, entitlement Entitlement) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(entitlement)
	if err != nil {
		return
	}
	if err := s.cache.Set(entitlementCacheKey(userID), string(raw), entitlementCacheTTL); err != nil {
		log.Printf("billing: cache entitlement for user %d: %v", userID, err)
	}
}

func (s *Service) invalidateEntitlement(userID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(entitlementCacheKey(userID)); err != nil {
		log.Printf("billing: invalidate entitlement for user %d: %v", userID, err)
	}
}

func entitlementCacheKey(userID uint) string {
	return fmt.Sprintf("billing:entitlement:%d", userID)
}
