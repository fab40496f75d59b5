package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

const testWebhookSecret = "whsec_test_secret"

func stripeSubscriptionPayload(eventID, eventType, status string, trialEnd int64, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "created": 1700000300,
  "type": %q,
  "api_version": "2020-08-27",
  "data": {
    "object": {
      "id": "sub_123",
      "object": "subscription",
      "customer": "cus_123",
      "status": %q,
      "cancel_at_period_end": true,
      "trial_start": 1700000000,
      "trial_end": %d,
      "metadata": %s,
      "items": {
        "object": "list",
        "data": [
          {
            "id": "si_1",
            "object": "subscription_item",
            "current_period_end": 1800000000,
            "price": {"id": "price_1", "object": "price", "product": "prod_course"}
          }
        ]
      }
    }
  }
}`, eventID, eventType, status, trialEnd, metadata))
}

func signedHeader(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestVerifyAndParseStripeSubscriptionEvent(t *testing.T) {
	payload := stripeSubscriptionPayload("evt_1", "customer.subscription.updated", "trialing", 1900000000, `{"user_id": "12", "vip": "TRUE"}`)

	ev, err := VerifyStripeWebhook(payload, signedHeader(t, payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	parsed, err := ParseStripeSubscriptionEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", parsed.EventID)
	assert.Equal(t, "cus_123", parsed.CustomerID)

	sub := parsed.Subscription
	assert.Equal(t, uint(12), sub.UserID)
	assert.Equal(t, models.BillingProviderStripe, sub.Provider)
	assert.Equal(t, "sub_123", sub.ProviderSubscriptionID)
	assert.Equal(t, "prod_course", sub.ProviderProductRef)
	assert.Equal(t, "trialing", sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.True(t, sub.IsVip)
	require.NotNil(t, sub.TrialEnd)
	assert.Equal(t, int64(1900000000), sub.TrialEnd.Unix())
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, int64(1800000000), sub.CurrentPeriodEnd.Unix())
	require.NotNil(t, sub.EventAt)
	assert.Equal(t, int64(1700000300), sub.EventAt.Unix())
}

func TestParseStripeDeletedEventCancels(t *testing.T) {
	payload := stripeSubscriptionPayload("evt_2", "customer.subscription.deleted", "active", 0, `{}`)
	ev, err := VerifyStripeWebhook(payload, signedHeader(t, payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	parsed, err := ParseStripeSubscriptionEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, parsed.Subscription.Status)
	assert.Nil(t, parsed.Subscription.TrialEnd)
	assert.Equal(t, uint(0), parsed.Subscription.UserID)
	assert.False(t, parsed.Subscription.IsVip)
}

func TestVerifyStripeWebhookRejectsBadSignatures(t *testing.T) {
	payload := stripeSubscriptionPayload("evt_3", "customer.subscription.updated", "active", 0, `{}`)

	_, err := VerifyStripeWebhook(payload, signedHeader(t, payload, "whsec_other"), testWebhookSecret)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyStripeWebhook(payload, "", testWebhookSecret)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyStripeWebhook(payload, signedHeader(t, payload, testWebhookSecret), "")
	assert.ErrorIs(t, err, ErrWebhookUnconfigured)
}

func TestPeekStripeEventID(t *testing.T) {
	id, typ := PeekStripeEventID(stripeSubscriptionPayload("evt_4", "invoice.paid", "active", 0, `{}`))
	assert.Equal(t, "evt_4", id)
	assert.Equal(t, "invoice.paid", typ)

	id, typ = PeekStripeEventID([]byte("not json"))
	assert.Empty(t, id)
	assert.Empty(t, typ)
}

func TestIsStripeSubscriptionEvent(t *testing.T) {
	assert.True(t, IsStripeSubscriptionEvent("customer.subscription.created"))
	assert.True(t, IsStripeSubscriptionEvent(" Customer.Subscription.Deleted "))
	assert.False(t, IsStripeSubscriptionEvent("invoice.paid"))
	assert.False(t, IsStripeSubscriptionEvent(""))
}

func TestMetadataUserID(t *testing.T) {
	assert.Equal(t, uint(7), metadataUserID(map[string]string{"user_id": " 7 "}))
	assert.Equal(t, uint(0), metadataUserID(map[string]string{"user_id": "abc"}))
	assert.Equal(t, uint(0), metadataUserID(nil))
}
