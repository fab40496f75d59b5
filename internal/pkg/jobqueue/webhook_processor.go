package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing"
)

// WebhookReplayer is implemented by billing.Service.
type WebhookReplayer interface {
	ReplayWebhookEvent(ctx context.Context, webhookEventID uint) (billing.WebhookOutcome, error)
}

// ReplayWebhookHandler runs stored webhook deliveries through the billing
// sync again. Missing, unverified and malformed events are not retried.
func ReplayWebhookHandler(replayer WebhookReplayer) Handler {
	return func(ctx context.Context, job *Job) (string, error) {
		payload, err := ReplayWebhookJobPayloadFromMap(job.Payload)
		if err != nil {
			return "", Permanent(fmt.Errorf("invalid replay payload: %w", err))
		}
		if payload.WebhookEventID == 0 {
			return "", Permanent(errors.New("webhook_event_id is required"))
		}

		outcome, err := replayer.ReplayWebhookEvent(ctx, payload.WebhookEventID)
		switch {
		case err == nil:
			return string(outcome), nil
		case errors.Is(err, billing.ErrCustomerNotLinked):
			// Stored on the webhook event; retrying cannot link the customer.
			log.Warnf("[JobQueue] Webhook %d still has no linked customer", payload.WebhookEventID)
			return string(outcome), nil
		case errors.Is(err, gorm.ErrRecordNotFound),
			errors.Is(err, billing.ErrReplayRejected),
			errors.Is(err, billing.ErrInvalidPayload):
			return "", Permanent(err)
		default:
			return "", err
		}
	}
}
