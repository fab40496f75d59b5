package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/CreatorGate/app/controllers"
)

// ServerInterface lists the v1 API operations.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	GetEntitlements(c *fiber.Ctx) error
	GetProductEntitlement(c *fiber.Ctx, productID string) error
	PostEntitlementsRefetch(c *fiber.Ctx) error
	GetPlatformAccess(c *fiber.Ctx) error
	GetProductAccess(c *fiber.Ctx, productID string) error
}

// APIServer implements the ServerInterface
type APIServer struct {
	entitlements *controllers.EntitlementController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(ec *controllers.EntitlementController) *APIServer {
	return &APIServer{entitlements: ec}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetEntitlements returns the caller's entitlement summary (session, API key or anonymous).
func (s *APIServer) GetEntitlements(c *fiber.Ctx) error {
	return s.entitlements.HandleGetEntitlements(c)
}

// GetProductEntitlement reports the gate decision for one product without denying the request.
func (s *APIServer) GetProductEntitlement(c *fiber.Ctx, productID string) error {
	if productID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "productId missing"})
	}
	return s.entitlements.HandleGetProductDecision(c, productID)
}

// PostEntitlementsRefetch reloads the caller's subscriptions, bypassing the cache.
func (s *APIServer) PostEntitlementsRefetch(c *fiber.Ctx) error {
	return s.entitlements.HandleRefetch(c)
}

// GetPlatformAccess is only reached when the platform gate granted access.
func (s *APIServer) GetPlatformAccess(c *fiber.Ctx) error {
	return s.entitlements.HandleAccessGranted(c, "")
}

// GetProductAccess is only reached when the product gate granted access.
func (s *APIServer) GetProductAccess(c *fiber.Ctx, productID string) error {
	return s.entitlements.HandleAccessGranted(c, productID)
}
