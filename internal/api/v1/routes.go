package apiv1

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CreatorGate/internal/pkg/middleware"
)

const productIDParam = "productId"

// ServerInterfaceWrapper extracts path params before calling the server.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) GetPing(c *fiber.Ctx) error {
	return w.Handler.GetPing(c)
}

func (w *ServerInterfaceWrapper) GetEntitlements(c *fiber.Ctx) error {
	return w.Handler.GetEntitlements(c)
}

func (w *ServerInterfaceWrapper) GetProductEntitlement(c *fiber.Ctx) error {
	return w.Handler.GetProductEntitlement(c, productIDFromPath(c))
}

func (w *ServerInterfaceWrapper) PostEntitlementsRefetch(c *fiber.Ctx) error {
	return w.Handler.PostEntitlementsRefetch(c)
}

func (w *ServerInterfaceWrapper) GetPlatformAccess(c *fiber.Ctx) error {
	return w.Handler.GetPlatformAccess(c)
}

func (w *ServerInterfaceWrapper) GetProductAccess(c *fiber.Ctx) error {
	return w.Handler.GetProductAccess(c, productIDFromPath(c))
}

func productIDFromPath(c *fiber.Ctx) string {
	raw := c.Params(productIDParam)
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return strings.TrimSpace(raw)
}

// RegisterHandlers mounts the v1 operations. Access routes are wrapped in
// entitlement gates, so their handlers only run for granted requests.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.Get("/ping", wrapper.GetPing)
	router.Get("/entitlements", wrapper.GetEntitlements)
	router.Get("/entitlements/products/:"+productIDParam, wrapper.GetProductEntitlement)
	router.Post("/entitlements/refetch", middleware.RequireAuth, wrapper.PostEntitlementsRefetch)
	router.Get("/platform/access", middleware.RequireEntitlement(""), wrapper.GetPlatformAccess)
	router.Get("/products/:"+productIDParam+"/access", middleware.RequireProductEntitlementParam(productIDParam), wrapper.GetProductAccess)
}
