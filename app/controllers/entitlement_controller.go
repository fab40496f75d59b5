package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/middleware"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/usercontext"
)

const refetchTimeout = 10 * time.Second

// SubscriptionSummary is the public view of one subscription record.
type SubscriptionSummary struct {
	ID                 string     `json:"id"`
	ProductID          *string    `json:"product_id"`
	Status             string     `json:"status"`
	IsEntitling        bool       `json:"is_entitling"`
	IsTrial            bool       `json:"is_trial"`
	TrialDaysRemaining *int       `json:"trial_days_remaining,omitempty"`
	IsVip              bool       `json:"is_vip"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
}

// EntitlementSummary describes the caller's load state and, when loaded,
// what the snapshot grants.
type EntitlementSummary struct {
	State                 string                `json:"state"`
	UserID                uint                  `json:"user_id"`
	TestMode              bool                  `json:"test_mode"`
	IsVip                 bool                  `json:"is_vip"`
	HasActiveSubscription bool                  `json:"has_active_subscription"`
	Subscriptions         []SubscriptionSummary `json:"subscriptions"`
	FetchedAt             *time.Time            `json:"fetched_at,omitempty"`
	Error                 string                `json:"error,omitempty"`
}

// ProductDecision is the gate outcome for a single product.
type ProductDecision struct {
	ProductID string                `json:"product_id"`
	Decision  entitlements.Decision `json:"decision"`
	HasAccess bool                  `json:"has_access"`
}

type EntitlementController struct {
	invalidator billing.Invalidator
}

func NewEntitlementController(invalidator billing.Invalidator) *EntitlementController {
	return &EntitlementController{invalidator: invalidator}
}

// HandleGetEntitlements returns the caller's entitlement summary.
func (ec *EntitlementController) HandleGetEntitlements(c *fiber.Ctx) error {
	re := middleware.GetEntitlements(c)
	if re == nil {
		return entitlementsUnavailable(c)
	}
	st := re.Loader.Load(c.UserContext())
	return c.JSON(Summarize(re.Config, st, re.Loader.UserID()))
}

// HandleGetProductDecision reports whether the caller may open a product.
// Unlike the access gate it always answers 200.
func (ec *EntitlementController) HandleGetProductDecision(c *fiber.Ctx, productID string) error {
	re := middleware.GetEntitlements(c)
	if re == nil {
		return entitlementsUnavailable(c)
	}
	decision := re.Evaluate(c.UserContext(), productID)
	return c.JSON(ProductDecision{
		ProductID: productID,
		Decision:  decision,
		HasAccess: decision == entitlements.DecisionGranted,
	})
}

// HandleRefetch drops the cached snapshot and loads a fresh one, e.g. right
// after checkout.
func (ec *EntitlementController) HandleRefetch(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	re := middleware.GetEntitlements(c)
	if re == nil {
		return entitlementsUnavailable(c)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), refetchTimeout)
	defer cancel()

	if ec.invalidator != nil {
		if err := ec.invalidator.Invalidate(ctx, userCtx.UserID); err != nil {
			fiberlog.Warnf("[Entitlements] Could not invalidate cache for user %d: %v", userCtx.UserID, err)
		}
	}
	st := re.Loader.Refetch(ctx)
	return c.JSON(Summarize(re.Config, st, userCtx.UserID))
}

// HandleAccessGranted answers requests that passed an entitlement gate.
func (ec *EntitlementController) HandleAccessGranted(c *fiber.Ctx, productID string) error {
	body := fiber.Map{"decision": entitlements.DecisionGranted, "has_access": true}
	if productID != "" {
		body["product_id"] = productID
	}
	return c.JSON(body)
}

// Summarize renders a load state for API responses.
func Summarize(cfg entitlements.Config, st entitlements.State, userID uint) EntitlementSummary {
	out := EntitlementSummary{
		State:         entitlements.StateName(st),
		UserID:        userID,
		TestMode:      cfg.TestMode,
		Subscriptions: []SubscriptionSummary{},
	}

	switch s := st.(type) {
	case entitlements.Ready:
		ev := entitlements.NewEvaluator(cfg, s.Snapshot)
		fetchedAt := s.Snapshot.FetchedAt
		out.FetchedAt = &fetchedAt
		out.IsVip = ev.IsVip()
		out.HasActiveSubscription = ev.HasActiveSubscription("")
		for _, sub := range s.Snapshot.Subscriptions {
			item := SubscriptionSummary{
				ID:                sub.PublicID,
				ProductID:         sub.ProductID,
				Status:            sub.Status,
				IsEntitling:       sub.IsEntitling(),
				IsTrial:           sub.IsTrial,
				IsVip:             sub.IsVip,
				CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
				CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			}
			if sub.IsTrial {
				days := ev.DaysRemainingInTrial(sub)
				item.TrialDaysRemaining = &days
			}
			out.Subscriptions = append(out.Subscriptions, item)
		}
	case entitlements.Failed:
		out.Error = "fetch_failed"
		if errors.Is(s.Err, entitlements.ErrNotAuthenticated) {
			out.Error = "sign_in_required"
		}
		if cfg.TestMode {
			out.HasActiveSubscription = true
		}
	default:
		if cfg.TestMode {
			out.HasActiveSubscription = true
		}
	}
	return out
}

func entitlementsUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_server_error",
		"message": "entitlements not configured",
	})
}
