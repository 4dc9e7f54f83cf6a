package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// fakeRepository is an in-memory Repository with the same uniqueness
// semantics as the GORM implementation.
type fakeRepository struct {
	mu        sync.Mutex
	customers []models.BillingCustomer
	intervals []models.SubscriptionInterval
	snapshots map[string]models.SubscriptionSnapshot
	events    map[string]models.BillingWebhookEvent
	nextID    uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		snapshots: make(map[string]models.SubscriptionSnapshot),
		events:    make(map[string]models.BillingWebhookEvent),
	}
}

func (f *fakeRepository) GetCustomerByUserID(userID uint) (*models.BillingCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.customers {
		if f.customers[i].UserID == userID {
			link := f.customers[i]
			return &link, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) GetCustomerByStripeID(stripeCustomerID string) (*models.BillingCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.customers {
		if f.customers[i].StripeCustomerID == stripeCustomerID {
			link := f.customers[i]
			return &link, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) CreateCustomer(link *models.BillingCustomer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	link.ID = f.nextID
	link.CreatedAt = time.Now()
	f.customers = append(f.customers, *link)
	return nil
}

func (f *fakeRepository) GetActiveInterval(stripeCustomerID string) (*models.SubscriptionInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.intervals {
		if f.intervals[i].StripeCustomerID == stripeCustomerID && f.intervals[i].EndedAt == nil {
			interval := f.intervals[i]
			return &interval, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) CloseActiveInterval(stripeCustomerID string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.intervals {
		if f.intervals[i].StripeCustomerID == stripeCustomerID && f.intervals[i].EndedAt == nil {
			t := endedAt
			f.intervals[i].EndedAt = &t
		}
	}
	return nil
}

func (f *fakeRepository) CreateInterval(interval *models.SubscriptionInterval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	interval.ID = f.nextID
	interval.CreatedAt = time.Now()
	f.intervals = append(f.intervals, *interval)
	return nil
}

func (f *fakeRepository) GetSnapshot(stripeCustomerID string) (*models.SubscriptionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snapshot, ok := f.snapshots[stripeCustomerID]; ok {
		return &snapshot, nil
	}
	return nil, nil
}

func (f *fakeRepository) UpsertSnapshot(snapshot *models.SubscriptionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot.UpdatedAt = time.Now()
	f.snapshots[snapshot.StripeCustomerID] = *snapshot
	return nil
}

func (f *fakeRepository) HasProcessedEvent(stripeEventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.events[stripeEventID]
	return ok, nil
}

func (f *fakeRepository) RecordEvent(event *models.BillingWebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[event.StripeEventID]; ok {
		return &ConflictError{Msg: "duplicate event"}
	}
	f.nextID++
	event.ID = f.nextID
	event.CreatedAt = time.Now()
	f.events[event.StripeEventID] = *event
	return nil
}

func (f *fakeRepository) countIntervals(stripeCustomerID string) (total, open int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.intervals {
		if f.intervals[i].StripeCustomerID != stripeCustomerID {
			continue
		}
		total++
		if f.intervals[i].EndedAt == nil {
			open++
		}
	}
	return total, open
}

// fakeProvider returns canned answers and counts calls so tests can assert
// entitlement purity and link reuse.
type fakeProvider struct {
	mu               sync.Mutex
	sub              *ProviderSubscription
	subErr           error
	listCalls        int
	customersCreated int
	checkoutURL      string
	portalURL        string

	// createDelay widens the race window in concurrency tests.
	createDelay time.Duration
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, email string, userID uint) (string, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customersCreated++
	return "cus_fake_1", nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error) {
	return f.checkoutURL, nil
}

func (f *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return f.portalURL, nil
}

func (f *fakeProvider) GetLatestSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.subErr != nil {
		return nil, f.subErr
	}
	if f.sub == nil {
		return nil, nil
	}
	sub := *f.sub
	return &sub, nil
}

func testTiers(t *testing.T) *TierResolver {
	t.Helper()
	tiers, err := NewTierResolver("price_pro_month:pro,price_premium_month:premium")
	require.NoError(t, err)
	return tiers
}

func timePtr(t time.Time) *time.Time { return &t }

func activeProviderSub(priceID string) *ProviderSubscription {
	return &ProviderSubscription{
		ID:                 "sub_1",
		Status:             models.BillingStatusActive,
		PriceID:            priceID,
		PeriodStart:        timePtr(time.Unix(1700000000, 0).UTC()),
		PeriodEnd:          timePtr(time.Unix(1702592000, 0).UTC()),
		StartedAt:          timePtr(time.Unix(1690000000, 0).UTC()),
		PaymentMethodBrand: "visa",
		PaymentMethodLast4: "4242",
	}
}

func TestSyncCreatesIntervalAndSnapshot(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{sub: activeProviderSub("price_pro_month")}
	r := NewReconciler(repo, provider, testTiers(t))

	snapshot, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	assert.Equal(t, models.BillingStatusActive, snapshot.Status)
	assert.Equal(t, "pro", snapshot.Tier)
	assert.Equal(t, "sub_1", snapshot.StripeSubscriptionID)
	assert.Equal(t, "visa", snapshot.PaymentMethodBrand)
	assert.Equal(t, "4242", snapshot.PaymentMethodLast4)

	total, open := repo.countIntervals("cus_1")
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, open)
}

func TestSyncIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{sub: activeProviderSub("price_pro_month")}
	r := NewReconciler(repo, provider, testTiers(t))

	first, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)
	second, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	total, open := repo.countIntervals("cus_1")
	assert.Equal(t, 1, total, "second sync must not create another interval")
	assert.Equal(t, 1, open)

	// Snapshot identical apart from the refresh timestamp.
	second.UpdatedAt = first.UpdatedAt
	assert.Equal(t, first, second)
}

func TestSyncConcurrentPassesSameCustomer(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{sub: activeProviderSub("price_pro_month")}
	r := NewReconciler(repo, provider, testTiers(t))

	const passes = 12
	var wg sync.WaitGroup
	for i := 0; i < passes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Sync(context.Background(), "cus_1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// The compare-and-write sequences serialize on the customer; identical
	// provider truth must converge to a single open interval no matter how
	// many passes raced.
	total, open := repo.countIntervals("cus_1")
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, open)

	snapshot, err := repo.GetSnapshot("cus_1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, models.BillingStatusActive, snapshot.Status)
}

func TestSyncPriceChangeSupersedesInterval(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{sub: activeProviderSub("price_pro_month")}
	r := NewReconciler(repo, provider, testTiers(t))

	_, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	provider.mu.Lock()
	provider.sub = activeProviderSub("price_premium_month")
	provider.mu.Unlock()

	snapshot, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	total, open := repo.countIntervals("cus_1")
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, open, "exactly one interval may stay open")

	current, err := repo.GetActiveInterval("cus_1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "price_premium_month", current.StripePriceID)
	assert.Equal(t, "premium", current.Tier)
	require.NotNil(t, current.StartedAt)
	assert.Equal(t, int64(1690000000), current.StartedAt.Unix(), "startedAt carries the provider start date")

	assert.Equal(t, "premium", snapshot.Tier)
}

func TestSyncNoSubscriptionClosesActiveInterval(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{sub: activeProviderSub("price_pro_month")}
	r := NewReconciler(repo, provider, testTiers(t))

	_, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	provider.mu.Lock()
	provider.sub = nil
	provider.mu.Unlock()

	snapshot, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	assert.Equal(t, models.BillingStatusInactive, snapshot.Status)
	assert.Empty(t, snapshot.StripeSubscriptionID)
	assert.Empty(t, snapshot.Tier)
	assert.Nil(t, snapshot.PeriodEnd)

	total, open := repo.countIntervals("cus_1")
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, open)
}

func TestSyncRefreshesSnapshotWithoutIntervalChange(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{sub: activeProviderSub("price_pro_month")}
	r := NewReconciler(repo, provider, testTiers(t))

	_, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	// A payment method swap changes none of the interval key fields but must
	// still land in the snapshot.
	provider.mu.Lock()
	provider.sub.PaymentMethodBrand = "mastercard"
	provider.sub.PaymentMethodLast4 = "4444"
	provider.mu.Unlock()

	snapshot, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	total, _ := repo.countIntervals("cus_1")
	assert.Equal(t, 1, total)
	assert.Equal(t, "mastercard", snapshot.PaymentMethodBrand)
	assert.Equal(t, "4444", snapshot.PaymentMethodLast4)
}

func TestSyncProviderErrorLeavesStateUntouched(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{sub: activeProviderSub("price_pro_month")}
	r := NewReconciler(repo, provider, testTiers(t))

	_, err := r.Sync(context.Background(), "cus_1")
	require.NoError(t, err)
	before, err := repo.GetSnapshot("cus_1")
	require.NoError(t, err)

	provider.mu.Lock()
	provider.subErr = &ProviderError{Op: "list subscriptions", Msg: "timeout"}
	provider.mu.Unlock()

	_, err = r.Sync(context.Background(), "cus_1")
	require.Error(t, err)

	after, err := repo.GetSnapshot("cus_1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	total, open := repo.countIntervals("cus_1")
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, open)
}
