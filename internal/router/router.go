package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/harrys-tix/internal/handler"
	"github.com/iliyamo/harrys-tix/internal/middleware"
	"github.com/iliyamo/harrys-tix/internal/model"
)

// RegisterRoutes registers routes that do not require authentication: the
// health check and the Prometheus endpoint.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterMember registers the member pre-order endpoints under /v1.  All
// routes require a valid JWT.  Creation is additionally rate limited.
func RegisterMember(e *echo.Echo, h *handler.PreOrderHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleAdmin),
	)
	if limiter == nil {
		limiter = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	g.POST("/pre-orders", h.Create, limiter)
	g.GET("/pre-orders", h.List)
	g.GET("/pre-orders/weekly", h.Weekly)
	g.DELETE("/pre-orders/:id", h.Cancel)
	g.POST("/pre-orders/:id/payment-method", h.AttachPaymentMethod, limiter)
	g.POST("/payment-methods/setup", h.SetupPaymentMethod, limiter)
}

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, h *handler.AdminPreOrderHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.GET("/pre-orders", h.List)
	g.PATCH("/pre-orders/:id", h.Patch)
	g.POST("/fulfill-pre-orders", h.FulfillNow)
	g.POST("/fulfillment/run", h.RunFulfillment)
}

// RegisterWebhooks registers gateway callbacks.  They authenticate by
// signature, not JWT.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler) {
	e.POST("/v1/webhooks/stripe", h.Stripe)
}
