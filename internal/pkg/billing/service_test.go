package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing/billingtest"
)

type recordingInvalidator struct {
	users []uint
	err   error
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, userID uint) error {
	r.users = append(r.users, userID)
	return r.err
}

func TestResolveMappedProduct(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.AddMapping("stripe", "prod_course", "course-101", false)
	repo.AddMapping("stripe", "prod_all", "", true)
	repo.Mappings["stripe|prod_old"] = &models.BillingProductMapping{ProductID: "legacy", IsActive: false}
	svc := billing.NewService(repo)
	ctx := context.Background()

	p, err := svc.ResolveMappedProduct(ctx, "Stripe", "prod_course")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "course-101", *p)

	p, err = svc.ResolveMappedProduct(ctx, "stripe", "prod_all")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = svc.ResolveMappedProduct(ctx, "stripe", "prod_old")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "prod_old", *p)

	p, err = svc.ResolveMappedProduct(ctx, "stripe", "  ")
	require.NoError(t, err)
	assert.Nil(t, p)

	repo.MappingErr = errors.New("db down")
	_, err = svc.ResolveMappedProduct(ctx, "stripe", "prod_course")
	assert.Error(t, err)
}

func TestSyncSubscription(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.AddMapping("stripe", "prod_course", "course-101", false)
	inv := &recordingInvalidator{}
	svc := billing.NewService(repo).WithInvalidator(inv)
	ctx := context.Background()

	trialEnd := time.Now().Add(72 * time.Hour)
	sub, err := svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID:                 3,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderProductRef:     "prod_course",
		Status:                 "trialing",
		TrialEnd:               &trialEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.IsTrial)
	require.NotNil(t, sub.ProductID)
	assert.Equal(t, "course-101", *sub.ProductID)
	assert.NotEmpty(t, sub.PublicID)
	assert.Equal(t, []uint{3}, inv.users)

	firstPublicID := sub.PublicID
	sub, err = svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID:                 3,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderProductRef:     "prod_course",
		Status:                 "past_due",
	})
	require.NoError(t, err)
	assert.Equal(t, firstPublicID, sub.PublicID)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.False(t, sub.IsTrial)
	assert.Nil(t, sub.TrialEndDate)
	assert.Len(t, repo.Subs, 1)
}

func TestSyncSubscriptionTrialWithoutEndIsNotTrial(t *testing.T) {
	svc := billing.NewService(billingtest.NewMemoryRepository())

	sub, err := svc.SyncSubscription(context.Background(), billing.NormalizedSubscription{
		UserID:                 3,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_2",
		Status:                 "trialing",
	})
	require.NoError(t, err)
	assert.False(t, sub.IsTrial)
	assert.Nil(t, sub.ProductID)
}

func TestSyncSubscriptionRequiresIdentifiers(t *testing.T) {
	svc := billing.NewService(billingtest.NewMemoryRepository())
	ctx := context.Background()

	_, err := svc.SyncSubscription(ctx, billing.NormalizedSubscription{Provider: "stripe", ProviderSubscriptionID: "sub_1"})
	assert.Error(t, err)
	_, err = svc.SyncSubscription(ctx, billing.NormalizedSubscription{UserID: 1, ProviderSubscriptionID: "sub_1"})
	assert.Error(t, err)
	_, err = svc.SyncSubscription(ctx, billing.NormalizedSubscription{UserID: 1, Provider: "stripe"})
	assert.Error(t, err)
}

func TestSyncSubscriptionDoesNotInvalidateOnFailure(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.UpsertErr = errors.New("deadlock")
	inv := &recordingInvalidator{}
	svc := billing.NewService(repo).WithInvalidator(inv)

	_, err := svc.SyncSubscription(context.Background(), billing.NormalizedSubscription{
		UserID: 1, Provider: "stripe", ProviderSubscriptionID: "sub_1", Status: "active",
	})
	assert.Error(t, err)
	assert.Empty(t, inv.users)
}

func eventAt(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func TestSyncSubscriptionIgnoresOutOfOrderEvents(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	inv := &recordingInvalidator{}
	svc := billing.NewService(repo).WithInvalidator(inv)
	ctx := context.Background()

	_, err := svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID: 3, Provider: "stripe", ProviderSubscriptionID: "sub_1",
		Status: "canceled", EventAt: eventAt(1700000500),
	})
	require.NoError(t, err)

	sub, err := svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID: 3, Provider: "stripe", ProviderSubscriptionID: "sub_1",
		Status: "active", EventAt: eventAt(1700000000),
	})
	assert.ErrorIs(t, err, billing.ErrStaleEvent)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, models.SubscriptionStatusCanceled, repo.Subscription("stripe", "sub_1").Status)
	assert.Equal(t, []uint{3}, inv.users)

	// same second applies; a missing timestamp never counts as stale
	_, err = svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID: 3, Provider: "stripe", ProviderSubscriptionID: "sub_1",
		Status: "past_due", EventAt: eventAt(1700000500),
	})
	require.NoError(t, err)
	sub, err = svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID: 3, Provider: "stripe", ProviderSubscriptionID: "sub_1", Status: "active",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.ProviderEventAt)
	assert.True(t, eventAt(1700000500).Equal(*sub.ProviderEventAt))
}

func TestSyncSubscriptionLosesToConcurrentNewerEvent(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	inv := &recordingInvalidator{}
	svc := billing.NewService(repo).WithInvalidator(inv)

	repo.BeforeUpsert = func(r *billingtest.MemoryRepository) {
		r.PutSubscription(models.Subscription{
			PublicID:               "0b6a3c1e-6f1e-4a3c-9d55-6a8e4c2f7b10",
			UserID:                 3,
			Provider:               "stripe",
			ProviderSubscriptionID: "sub_1",
			Status:                 models.SubscriptionStatusCanceled,
			ProviderEventAt:        eventAt(1700000500),
		})
	}

	sub, err := svc.SyncSubscription(context.Background(), billing.NormalizedSubscription{
		UserID: 3, Provider: "stripe", ProviderSubscriptionID: "sub_1",
		Status: "active", EventAt: eventAt(1700000000),
	})
	assert.ErrorIs(t, err, billing.ErrStaleEvent)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, models.SubscriptionStatusCanceled, repo.Subscription("stripe", "sub_1").Status)
	assert.Empty(t, inv.users)
}

func TestSyncSubscriptionOwnerChangeInvalidatesBothUsers(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	inv := &recordingInvalidator{}
	svc := billing.NewService(repo).WithInvalidator(inv)
	ctx := context.Background()

	_, err := svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID: 3, Provider: "stripe", ProviderSubscriptionID: "sub_1", Status: "active",
	})
	require.NoError(t, err)

	sub, err := svc.SyncSubscription(ctx, billing.NormalizedSubscription{
		UserID: 4, Provider: "stripe", ProviderSubscriptionID: "sub_1", Status: "active",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(4), sub.UserID)
	assert.Equal(t, []uint{3, 4, 3}, inv.users)
}

func TestSyncSubscriptionLookupFailure(t *testing.T) {
	repo := &failingLookupRepo{MemoryRepository: billingtest.NewMemoryRepository()}
	inv := &recordingInvalidator{}
	svc := billing.NewService(repo).WithInvalidator(inv)

	_, err := svc.SyncSubscription(context.Background(), billing.NormalizedSubscription{
		UserID: 3, Provider: "stripe", ProviderSubscriptionID: "sub_1", Status: "active",
	})
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, repo.Subs)
	assert.Empty(t, inv.users)
}

type failingLookupRepo struct {
	*billingtest.MemoryRepository
}

func (r *failingLookupRepo) GetSubscriptionByProviderID(provider, id string) (*models.Subscription, error) {
	return nil, errors.New("connection reset")
}

func TestSetUserVip(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.Users[8] = &models.User{ID: 8}
	inv := &recordingInvalidator{err: errors.New("redis down")}
	svc := billing.NewService(repo).WithInvalidator(inv)

	user, err := svc.SetUserVip(context.Background(), 8, true)
	require.NoError(t, err)
	assert.True(t, user.IsVip)
	assert.NotNil(t, user.VipGrantedAt)
	assert.Equal(t, []uint{8}, inv.users)

	user, err = svc.SetUserVip(context.Background(), 8, false)
	require.NoError(t, err)
	assert.False(t, user.IsVip)
	assert.Nil(t, user.VipGrantedAt)

	_, err = svc.SetUserVip(context.Background(), 99, true)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRecordWebhookEventIsIdempotent(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	svc := billing.NewService(repo)
	ctx := context.Background()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{Provider: "stripe", ProviderEventID: "evt_1", PayloadJSON: "{}"})
	require.NoError(t, err)
	assert.True(t, created)

	created, again, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{Provider: "STRIPE", ProviderEventID: "evt_1", PayloadJSON: "{}"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	_, hashed, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{Provider: "stripe", PayloadJSON: `{"a":1}`})
	require.NoError(t, err)
	assert.Contains(t, hashed.ProviderEventID, "hash:")

	require.NoError(t, svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("boom")))
	assert.Equal(t, "boom", repo.Processed[stored.ID])
	assert.Error(t, svc.MarkWebhookProcessed(ctx, 0, nil))
}

func TestUpsertBillingAccount(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	svc := billing.NewService(repo)
	ctx := context.Background()

	acc, err := svc.UpsertBillingAccount(ctx, 4, " Stripe ", " cus_1 ", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "stripe", acc.Provider)
	assert.Equal(t, "cus_1", acc.ProviderAccountID)

	found, err := svc.GetBillingAccountByProviderAccountID(ctx, "stripe", "cus_1")
	require.NoError(t, err)
	assert.Equal(t, uint(4), found.UserID)

	_, err = svc.UpsertBillingAccount(ctx, 0, "stripe", "cus_1", "")
	assert.Error(t, err)
}
