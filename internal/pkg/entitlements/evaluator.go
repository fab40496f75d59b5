package entitlements

import (
	"math"
	"strings"
	"time"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

// Evaluator answers access questions over a single snapshot. It never
// fetches, never errors and is safe for concurrent use.
type Evaluator struct {
	cfg  Config
	snap Snapshot
	now  func() time.Time
}

func NewEvaluator(cfg Config, snap Snapshot) *Evaluator {
	return &Evaluator{cfg: cfg, snap: snap, now: time.Now}
}

// WithClock replaces the time source used for trial calculations.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// HasActiveSubscription checks a single product, or the platform when
// productID is empty. Product ids match byte for byte; a whitespace-only
// productID is malformed and denied.
func (e *Evaluator) HasActiveSubscription(productID string) bool {
	if e.cfg.TestMode || e.IsVip() {
		return true
	}

	if productID == "" {
		for i := range e.snap.Subscriptions {
			if e.snap.Subscriptions[i].IsEntitling() {
				return true
			}
		}
		return false
	}

	if strings.TrimSpace(productID) == "" {
		return false
	}
	for i := range e.snap.Subscriptions {
		sub := &e.snap.Subscriptions[i]
		if sub.CoversProduct(productID) && sub.IsEntitling() {
			return true
		}
	}
	return false
}

// HasAccessToProduct is the product-specific gate. Unlike
// HasActiveSubscription, an empty productID is denied.
func (e *Evaluator) HasAccessToProduct(productID string) bool {
	if e.cfg.TestMode || e.IsVip() {
		return true
	}
	if strings.TrimSpace(productID) == "" {
		return false
	}
	return e.HasActiveSubscription(productID)
}

// IsVip reports the user-level flag or a VIP flag on any subscription.
func (e *Evaluator) IsVip() bool {
	if e.snap.UserVip {
		return true
	}
	for i := range e.snap.Subscriptions {
		if e.snap.Subscriptions[i].IsVip {
			return true
		}
	}
	return false
}

func (e *Evaluator) DaysRemainingInTrial(sub models.Subscription) int {
	return DaysRemainingInTrial(sub, e.now())
}

// DaysRemainingInTrial rounds partial days up. Zero or less means the trial
// is over; non-trial subscriptions always report 0.
func DaysRemainingInTrial(sub models.Subscription, now time.Time) int {
	if !sub.IsTrial || sub.TrialEndDate == nil {
		return 0
	}
	days := sub.TrialEndDate.Sub(now).Hours() / 24
	return int(math.Ceil(days))
}
