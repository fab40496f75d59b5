package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/usercontext"
)

const (
	KeyEntitlements = "ENTITLEMENTS"

	retryAfterPendingSeconds = 1
	retryAfterFailedSeconds  = 5
)

// DecisionRecorder receives every gate decision for analytics.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, decision entitlements.Decision, productID string) error
}

// RequestEntitlements is the per-request loader plus the config it is
// evaluated with.
type RequestEntitlements struct {
	Loader   *entitlements.Loader
	Config   entitlements.Config
	recorder DecisionRecorder
}

// Evaluate loads the snapshot if needed and decides. An empty productID
// gates the whole platform.
func (re *RequestEntitlements) Evaluate(ctx context.Context, productID string) entitlements.Decision {
	st := re.Loader.Load(ctx)
	if productID == "" {
		return entitlements.Decide(re.Config, st)
	}
	return entitlements.DecideProduct(re.Config, st, productID)
}

func (re *RequestEntitlements) record(ctx context.Context, d entitlements.Decision, productID string) {
	if re.recorder == nil {
		return
	}
	if err := re.recorder.RecordDecision(ctx, d, productID); err != nil {
		fiberlog.Warnf("[Entitlements] Failed to record %s decision: %v", d, err)
	}
}

type EntitlementOption func(*RequestEntitlements)

// WithDecisionRecorder counts every gate decision.
func WithDecisionRecorder(rec DecisionRecorder) EntitlementOption {
	return func(re *RequestEntitlements) {
		re.recorder = rec
	}
}

// LoadEntitlements attaches a lazily loading entitlement loader for the
// current user. Nothing is fetched until a gate or handler asks for it.
func LoadEntitlements(store entitlements.SubscriptionStore, cfg entitlements.Config, opts ...EntitlementOption) fiber.Handler {
	return func(c *fiber.Ctx) error {
		re := &RequestEntitlements{
			Loader: entitlements.NewLoader(store, usercontext.GetUserID(c)),
			Config: cfg,
		}
		for _, opt := range opts {
			opt(re)
		}
		defer re.Loader.Close()

		c.Locals(KeyEntitlements, re)
		return c.Next()
	}
}

// GetEntitlements returns the request loader, or nil when LoadEntitlements
// is not mounted.
func GetEntitlements(c *fiber.Ctx) *RequestEntitlements {
	if re, ok := c.Locals(KeyEntitlements).(*RequestEntitlements); ok {
		return re
	}
	return nil
}

// RequireEntitlement gates a fixed product, or the platform when productID
// is empty.
func RequireEntitlement(productID string) fiber.Handler {
	productID = strings.TrimSpace(productID)
	return func(c *fiber.Ctx) error {
		return gate(c, productID)
	}
}

// RequireProductEntitlementParam gates the product named in a route param.
// A missing param is denied rather than treated as platform-wide.
func RequireProductEntitlementParam(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		productID := strings.TrimSpace(c.Params(param))
		if productID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "bad_request",
				"message": "product id required",
			})
		}
		return gate(c, productID)
	}
}

func gate(c *fiber.Ctx, productID string) error {
	re := GetEntitlements(c)
	if re == nil {
		fiberlog.Errorf("[Entitlements] Gate on %s without LoadEntitlements", c.Path())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "entitlements not configured",
		})
	}

	ctx := c.UserContext()
	decision := re.Evaluate(ctx, productID)
	re.record(ctx, decision, productID)

	if decision == entitlements.DecisionGranted {
		return c.Next()
	}
	return RespondDecision(c, decision, productID)
}

// RespondDecision writes the JSON response for a non-granted decision.
func RespondDecision(c *fiber.Ctx, decision entitlements.Decision, productID string) error {
	body := fiber.Map{"decision": decision}
	if productID != "" {
		body["product_id"] = productID
	}

	switch decision {
	case entitlements.DecisionGranted:
		return c.JSON(body)
	case entitlements.DecisionSignIn:
		body["error"] = "sign_in_required"
		body["message"] = "sign in to access this content"
		return c.Status(fiber.StatusUnauthorized).JSON(body)
	case entitlements.DecisionUpgrade:
		body["error"] = "upgrade_required"
		body["message"] = "an active subscription is required"
		return c.Status(fiber.StatusPaymentRequired).JSON(body)
	case entitlements.DecisionRetry:
		body["error"] = "entitlements_unavailable"
		body["message"] = "could not load subscriptions, try again"
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterFailedSeconds))
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	default:
		body["error"] = "entitlements_loading"
		body["message"] = "subscriptions are still loading"
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterPendingSeconds))
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
}
