package entitlements

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

const testUserID uint = 42

func sub(status string, productID string) models.Subscription {
	s := models.Subscription{
		PublicID: uuid.NewString(),
		UserID:   testUserID,
		Status:   status,
	}
	if productID != "" {
		p := productID
		s.ProductID = &p
	}
	return s
}

func vipSub(status string) models.Subscription {
	s := sub(status, "")
	s.IsVip = true
	return s
}

func evaluator(cfg Config, subs ...models.Subscription) *Evaluator {
	return NewEvaluator(cfg, NewSnapshot(testUserID, false, subs, time.Now()))
}

func TestPastDueScenario(t *testing.T) {
	e := evaluator(Config{}, sub(models.SubscriptionStatusPastDue, "P1"))

	assert.True(t, e.HasActiveSubscription("P1"))
	assert.False(t, e.HasActiveSubscription("P2"))
	assert.True(t, e.HasActiveSubscription(""))
	assert.True(t, e.HasAccessToProduct("P1"))
	assert.False(t, e.HasAccessToProduct("P2"))
}

func TestVipGrantsEverything(t *testing.T) {
	snapshots := [][]models.Subscription{
		{vipSub(models.SubscriptionStatusCanceled)},
		{vipSub(models.SubscriptionStatusIncomplete), sub(models.SubscriptionStatusCanceled, "P1")},
		{sub(models.SubscriptionStatusCanceled, "P2"), vipSub(models.SubscriptionStatusActive)},
	}
	for _, subs := range snapshots {
		e := evaluator(Config{}, subs...)
		assert.True(t, e.IsVip())
		assert.True(t, e.HasActiveSubscription(""))
		assert.True(t, e.HasActiveSubscription("P1"))
		assert.True(t, e.HasActiveSubscription("unknown"))
		assert.True(t, e.HasAccessToProduct("P9"))
		assert.True(t, e.HasAccessToProduct(""))
	}
}

func TestUserLevelVip(t *testing.T) {
	e := NewEvaluator(Config{}, NewSnapshot(testUserID, true, nil, time.Now()))

	assert.True(t, e.IsVip())
	assert.True(t, e.HasActiveSubscription(""))
	assert.True(t, e.HasAccessToProduct("P1"))
}

func TestNonEntitlingStatusesDeny(t *testing.T) {
	e := evaluator(Config{},
		sub(models.SubscriptionStatusCanceled, ""),
		sub(models.SubscriptionStatusIncomplete, "P1"),
		sub(models.SubscriptionStatusCanceled, "P2"),
	)

	assert.False(t, e.HasActiveSubscription(""))
	assert.False(t, e.HasActiveSubscription("P1"))
	assert.False(t, e.HasAccessToProduct("P2"))
	assert.False(t, e.IsVip())
}

func TestProductMatchIsExact(t *testing.T) {
	e := evaluator(Config{},
		sub(models.SubscriptionStatusActive, "P2"),
		sub(models.SubscriptionStatusCanceled, "P1"),
	)

	assert.False(t, e.HasActiveSubscription("P1"))
	assert.True(t, e.HasActiveSubscription("P2"))
	assert.False(t, e.HasActiveSubscription("p2"))
	assert.False(t, e.HasActiveSubscription(" P2 "))
	assert.False(t, e.HasAccessToProduct("P2 "))
}

func TestPlatformSubscriptionDoesNotCoverProducts(t *testing.T) {
	e := evaluator(Config{}, sub(models.SubscriptionStatusActive, ""))

	assert.True(t, e.HasActiveSubscription(""))
	assert.False(t, e.HasActiveSubscription("P1"))
	assert.False(t, e.HasAccessToProduct("P1"))
}

func TestEmptySnapshotDenies(t *testing.T) {
	e := evaluator(Config{})

	assert.False(t, e.HasActiveSubscription(""))
	assert.False(t, e.HasActiveSubscription("P1"))
	assert.False(t, e.HasAccessToProduct("P1"))
	assert.False(t, e.IsVip())
}

func TestTestModeGrantsWithEmptySnapshot(t *testing.T) {
	e := evaluator(Config{TestMode: true})

	assert.True(t, e.HasActiveSubscription(""))
	assert.True(t, e.HasActiveSubscription("P1"))
	assert.True(t, e.HasAccessToProduct("P1"))
	assert.False(t, e.IsVip())
}

func TestMalformedProductIDFailsClosed(t *testing.T) {
	e := evaluator(Config{}, sub(models.SubscriptionStatusActive, "P1"))

	assert.False(t, e.HasAccessToProduct(""))
	assert.False(t, e.HasAccessToProduct("   "))
	assert.False(t, e.HasActiveSubscription("   "))
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	broken := sub("trialing", "P1")
	noEnd := sub(models.SubscriptionStatusActive, "P3")
	noEnd.IsTrial = true
	foreign := sub(models.SubscriptionStatusActive, "P4")
	foreign.UserID = testUserID + 1

	snap := NewSnapshot(testUserID, false, []models.Subscription{
		broken,
		sub(models.SubscriptionStatusActive, "P2"),
		noEnd,
		foreign,
	}, time.Now())
	e := NewEvaluator(Config{}, snap)

	assert.Len(t, snap.Subscriptions, 1)
	assert.False(t, e.HasActiveSubscription("P1"))
	assert.True(t, e.HasActiveSubscription("P2"))
	assert.False(t, e.HasActiveSubscription("P3"))
	assert.False(t, e.HasActiveSubscription("P4"))
}

func TestNewSnapshotCopiesInput(t *testing.T) {
	subs := []models.Subscription{sub(models.SubscriptionStatusActive, "P1")}
	snap := NewSnapshot(testUserID, false, subs, time.Now())

	subs[0].Status = models.SubscriptionStatusCanceled

	assert.True(t, NewEvaluator(Config{}, snap).HasActiveSubscription("P1"))
}

func TestDaysRemainingInTrial(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	trial := func(end time.Time) models.Subscription {
		s := sub(models.SubscriptionStatusActive, "P1")
		s.IsTrial = true
		start := now.Add(-24 * time.Hour)
		s.TrialStartDate = &start
		s.TrialEndDate = &end
		return s
	}

	assert.Equal(t, 3, DaysRemainingInTrial(trial(now.Add(51*time.Hour)), now))
	assert.Equal(t, 2, DaysRemainingInTrial(trial(now.Add(48*time.Hour)), now))
	assert.Equal(t, 1, DaysRemainingInTrial(trial(now.Add(time.Minute)), now))
	assert.Equal(t, 0, DaysRemainingInTrial(trial(now), now))
	assert.LessOrEqual(t, DaysRemainingInTrial(trial(now.Add(-30*time.Hour)), now), 0)
	assert.Equal(t, -1, DaysRemainingInTrial(trial(now.Add(-30*time.Hour)), now))

	notTrial := sub(models.SubscriptionStatusActive, "P1")
	assert.Equal(t, 0, DaysRemainingInTrial(notTrial, now))

	e := evaluator(Config{}).WithClock(func() time.Time { return now })
	assert.Equal(t, 3, e.DaysRemainingInTrial(trial(now.Add(51*time.Hour))))
}
