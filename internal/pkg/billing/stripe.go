package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/env"
)

var (
	ErrInvalidSignature    = errors.New("billing: invalid webhook signature")
	ErrWebhookUnconfigured = errors.New("billing: STRIPE_WEBHOOK_SECRET is not configured")
)

// StripeSubscriptionEvent is a verified customer.subscription.* event
// reduced to what the sync needs. Subscription.UserID is only set when the
// checkout put a user_id into the subscription metadata.
type StripeSubscriptionEvent struct {
	EventID      string
	EventType    string
	CustomerID   string
	Subscription NormalizedSubscription
}

// StripeWebhookSecretFromEnv reads STRIPE_WEBHOOK_SECRET.
func StripeWebhookSecretFromEnv() string {
	return strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
}

// VerifyStripeWebhook checks the Stripe-Signature header and decodes the event.
func VerifyStripeWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, ErrWebhookUnconfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ev, nil
}

// PeekStripeEventID extracts id and type from an unverified payload so that
// rejected deliveries can still be recorded.
func PeekStripeEventID(payload []byte) (string, string) {
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", ""
	}
	return strings.TrimSpace(head.ID), strings.TrimSpace(head.Type)
}

func IsStripeSubscriptionEvent(eventType string) bool {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		return true
	default:
		return false
	}
}

// ParseStripeSubscriptionEvent converts a verified subscription event.
func ParseStripeSubscriptionEvent(ev stripe.Event) (*StripeSubscriptionEvent, error) {
	if !IsStripeSubscriptionEvent(string(ev.Type)) {
		return nil, fmt.Errorf("unsupported stripe event type %q", ev.Type)
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, errors.New("stripe event has no data object")
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("decode stripe subscription: %w", err)
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, errors.New("stripe subscription id is missing")
	}
	customerID := ""
	if sub.Customer != nil {
		customerID = strings.TrimSpace(sub.Customer.ID)
	}
	if customerID == "" {
		return nil, errors.New("stripe subscription customer is missing")
	}

	status := string(sub.Status)
	if ev.Type == "customer.subscription.deleted" {
		status = models.SubscriptionStatusCanceled
	}

	productRef, periodEnd := stripeItemDetails(&sub)
	out := &StripeSubscriptionEvent{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		CustomerID: customerID,
		Subscription: NormalizedSubscription{
			UserID:                 metadataUserID(sub.Metadata),
			Provider:               models.BillingProviderStripe,
			ProviderSubscriptionID: sub.ID,
			ProviderProductRef:     productRef,
			Status:                 status,
			TrialStart:             unixTime(sub.TrialStart),
			TrialEnd:               unixTime(sub.TrialEnd),
			CurrentPeriodEnd:       periodEnd,
			CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
			IsVip:                  strings.EqualFold(strings.TrimSpace(sub.Metadata["vip"]), "true"),
			RawPayloadJSON:         string(ev.Data.Raw),
			EventAt:                unixTime(ev.Created),
		},
	}
	return out, nil
}

// stripeItemDetails takes the product of the first priced item. Multi-item
// subscriptions are expected to be split per product at checkout.
func stripeItemDetails(sub *stripe.Subscription) (string, *time.Time) {
	if sub.Items == nil {
		return "", nil
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil || item.Price.Product == nil {
			continue
		}
		return strings.TrimSpace(item.Price.Product.ID), unixTime(item.CurrentPeriodEnd)
	}
	return "", nil
}

func metadataUserID(meta map[string]string) uint {
	raw := strings.TrimSpace(meta["user_id"])
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
