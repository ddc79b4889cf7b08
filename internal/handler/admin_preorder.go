package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/harrys-tix/internal/model"
	"github.com/iliyamo/harrys-tix/internal/service"
)

// AdminPreOrderHandler serves the admin pre-order endpoints.  Routes are
// protected by JWTAuth and RequireRole(ADMIN).
type AdminPreOrderHandler struct {
	Svc       *service.PreOrderService
	Fulfiller *service.Fulfiller
	Logger    *zap.Logger
}

func NewAdminPreOrderHandler(svc *service.PreOrderService, fulfiller *service.Fulfiller, logger *zap.Logger) *AdminPreOrderHandler {
	if svc == nil || fulfiller == nil {
		panic("nil dependency passed to NewAdminPreOrderHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminPreOrderHandler{Svc: svc, Fulfiller: fulfiller, Logger: logger}
}

// List handles GET /v1/admin/pre-orders.
func (h *AdminPreOrderHandler) List(c echo.Context) error {
	items, err := h.Svc.ListAll(c.Request().Context())
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

type patchPreOrderRequest struct {
	Status                 *string `json:"status" validate:"omitempty,oneof=pending approved processing paid failed cancelled"`
	PaymentMethodID        *string `json:"payment_method_id" validate:"omitempty,max=255"`
	GatewayCustomerID      *string `json:"gateway_customer_id" validate:"omitempty,max=255"`
	GatewayPaymentIntentID *string `json:"gateway_payment_intent_id" validate:"omitempty,max=255"`
}

// Patch handles PATCH /v1/admin/pre-orders/:id.  Status changes follow the
// lifecycle rules; an illegal move answers 409.
func (h *AdminPreOrderHandler) Patch(c echo.Context) error {
	var body patchPreOrderRequest
	if err := bindAndValidate(c, &body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	patch := service.AdminPatch{
		PaymentMethodID:        body.PaymentMethodID,
		GatewayCustomerID:      body.GatewayCustomerID,
		GatewayPaymentIntentID: body.GatewayPaymentIntentID,
	}
	if body.Status != nil {
		s := model.Status(*body.Status)
		patch.Status = &s
	}
	p, err := h.Svc.AdminUpdate(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, p)
}

type fulfillRequest struct {
	PreOrderIDs []string `json:"preOrderIds" validate:"required,min=1,max=100,dive,required"`
}

// FulfillNow handles POST /v1/admin/fulfill-pre-orders: approve and charge
// the listed pre-orders immediately, outside the weekly window.
func (h *AdminPreOrderHandler) FulfillNow(c echo.Context) error {
	var body fulfillRequest
	if err := bindAndValidate(c, &body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	results := h.Fulfiller.FulfillNow(c.Request().Context(), body.PreOrderIDs)
	return c.JSON(http.StatusOK, echo.Map{"results": results})
}

// RunFulfillment handles POST /v1/admin/fulfillment/run and runs the weekly
// batch regardless of the window.
func (h *AdminPreOrderHandler) RunFulfillment(c echo.Context) error {
	results, err := h.Fulfiller.Run(c.Request().Context())
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"results": results})
}
