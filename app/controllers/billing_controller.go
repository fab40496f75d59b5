package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing"
)

const webhookTimeout = 15 * time.Second

type BillingController struct {
	svc           *billing.Service
	webhookSecret string
}

func NewBillingController(svc *billing.Service, webhookSecret string) *BillingController {
	return &BillingController{svc: svc, webhookSecret: webhookSecret}
}

// HandleStripeWebhook verifies and stores a Stripe delivery, then syncs
// customer.subscription.* events into the subscriptions table. Every
// delivery is recorded once; redeliveries answer 200 without reprocessing.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	if bc.webhookSecret == "" {
		fiberlog.Error("[Billing] Stripe webhook received but STRIPE_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "webhook_unconfigured"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")
	eventID, eventType := billing.PeekStripeEventID(rawBody)

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	ev, verifyErr := billing.VerifyStripeWebhook(rawBody, signature, bc.webhookSecret)
	signatureValid := verifyErr == nil
	if signatureValid {
		eventID, eventType = ev.ID, string(ev.Type)
	}

	created, stored, err := bc.svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		fiberlog.Errorf("[Billing] Failed to persist stripe webhook %s: %v", eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.IsProcessed() && stored.SignatureValid && stored.ProcessingError == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		if created {
			bc.markProcessed(ctx, stored.ID, verifyErr)
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	outcome, procErr := bc.svc.ProcessStripeEvent(ctx, ev)
	bc.markProcessed(ctx, stored.ID, procErr)
	switch {
	case errors.Is(procErr, billing.ErrInvalidPayload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	case errors.Is(procErr, billing.ErrCustomerNotLinked):
		fiberlog.Warnf("[Billing] Stripe webhook %s ignored: %v", eventID, procErr)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true, "webhook_event_id": stored.ID})
	case procErr != nil:
		fiberlog.Errorf("[Billing] Failed to process stripe webhook %s: %v", eventID, procErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	case outcome == billing.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (bc *BillingController) markProcessed(ctx context.Context, id uint, processingErr error) {
	if err := bc.svc.MarkWebhookProcessed(ctx, id, processingErr); err != nil {
		fiberlog.Warnf("[Billing] Failed to mark webhook %d processed: %v", id, err)
	}
}
