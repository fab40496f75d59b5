package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

// WebhookOutcome describes what a verified delivery did.
type WebhookOutcome string

const (
	OutcomeSynced   WebhookOutcome = "synced"
	OutcomeIgnored  WebhookOutcome = "ignored"
	OutcomeUnlinked WebhookOutcome = "unlinked"
)

var (
	ErrInvalidPayload    = errors.New("billing: invalid webhook payload")
	ErrCustomerNotLinked = errors.New("billing: no linked local account for provider customer")
	ErrReplayRejected    = errors.New("billing: webhook event cannot be replayed")
	ErrStaleEvent        = errors.New("billing: event is older than the stored subscription state")
)

// ProcessStripeEvent syncs a verified Stripe event into the subscriptions
// table. Events other than customer.subscription.* are ignored. It does not
// touch the webhook log; callers mark the stored event themselves.
func (s *Service) ProcessStripeEvent(ctx context.Context, ev stripe.Event) (WebhookOutcome, error) {
	if !IsStripeSubscriptionEvent(string(ev.Type)) {
		return OutcomeIgnored, nil
	}

	subEvent, err := ParseStripeSubscriptionEvent(ev)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	userID, err := s.resolveStripeUser(ctx, subEvent)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeUnlinked, fmt.Errorf("%w: %s", ErrCustomerNotLinked, subEvent.CustomerID)
		}
		return "", err
	}

	norm := subEvent.Subscription
	norm.UserID = userID
	if _, err := s.SyncSubscription(ctx, norm); err != nil {
		if errors.Is(err, ErrStaleEvent) {
			fiberlog.Infof("[Billing] Skipped stale %s %s for stripe subscription %s", subEvent.EventType, subEvent.EventID, norm.ProviderSubscriptionID)
			return OutcomeIgnored, nil
		}
		return "", err
	}
	fiberlog.Infof("[Billing] Synced stripe subscription %s for user %d (%s)", norm.ProviderSubscriptionID, userID, subEvent.EventType)
	return OutcomeSynced, nil
}

// resolveStripeUser prefers the user_id placed in subscription metadata at
// checkout and links the customer for later events. Otherwise the customer
// must already be linked.
func (s *Service) resolveStripeUser(ctx context.Context, ev *StripeSubscriptionEvent) (uint, error) {
	if ev.Subscription.UserID != 0 {
		if _, err := s.UpsertBillingAccount(ctx, ev.Subscription.UserID, models.BillingProviderStripe, ev.CustomerID, ""); err != nil {
			return 0, err
		}
		return ev.Subscription.UserID, nil
	}
	account, err := s.GetBillingAccountByProviderAccountID(ctx, models.BillingProviderStripe, ev.CustomerID)
	if err != nil {
		return 0, err
	}
	return account.UserID, nil
}

// ReplayWebhookEvent runs a stored delivery through ProcessStripeEvent again,
// e.g. once its customer has been linked. Only deliveries whose signature was
// verified on receipt can be replayed.
func (s *Service) ReplayWebhookEvent(ctx context.Context, webhookEventID uint) (WebhookOutcome, error) {
	stored, err := s.repo.GetWebhookEvent(webhookEventID)
	if err != nil {
		return "", err
	}
	if stored.Provider != models.BillingProviderStripe || !stored.SignatureValid {
		return "", fmt.Errorf("%w: event %d (provider=%s, signature_valid=%t)", ErrReplayRejected, stored.ID, stored.Provider, stored.SignatureValid)
	}

	var ev stripe.Event
	if err := json.Unmarshal([]byte(stored.PayloadJSON), &ev); err != nil {
		procErr := fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		if markErr := s.MarkWebhookProcessed(ctx, stored.ID, procErr); markErr != nil {
			fiberlog.Warnf("[Billing] Failed to mark webhook %d processed: %v", stored.ID, markErr)
		}
		return "", procErr
	}

	outcome, procErr := s.ProcessStripeEvent(ctx, ev)
	if markErr := s.MarkWebhookProcessed(ctx, stored.ID, procErr); markErr != nil {
		return outcome, markErr
	}
	fiberlog.Infof("[Billing] Replayed webhook %d (%s): %s", stored.ID, stored.ProviderEventID, outcome)
	return outcome, procErr
}
