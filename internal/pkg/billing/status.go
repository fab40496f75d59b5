package billing

import (
	"strings"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

// normalizeStatus folds provider statuses into the four statuses the
// evaluator understands. The bool reports a provider-side trial.
func normalizeStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive, false
	case "trialing":
		return models.SubscriptionStatusActive, true
	case "past_due":
		return models.SubscriptionStatusPastDue, false
	case "canceled", "cancelled", "unpaid", "paused", "expired":
		return models.SubscriptionStatusCanceled, false
	default:
		// incomplete, incomplete_expired and anything unknown fail closed
		return models.SubscriptionStatusIncomplete, false
	}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
