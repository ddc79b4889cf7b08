package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/harrys-tix/internal/service"
)

// PreOrderHandler serves the member pre-order endpoints.  JWT
// authentication has already run; the caller is taken from the context.
type PreOrderHandler struct {
	Svc    *service.PreOrderService
	Logger *zap.Logger
}

func NewPreOrderHandler(svc *service.PreOrderService, logger *zap.Logger) *PreOrderHandler {
	if svc == nil {
		panic("nil service passed to NewPreOrderHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreOrderHandler{Svc: svc, Logger: logger}
}

type createPreOrderRequest struct {
	EventID         uint64 `json:"event_id" validate:"required"`
	Quantity        int    `json:"quantity"`
	PaymentMethodID string `json:"payment_method_id" validate:"max=255"`
}

// Create handles POST /v1/pre-orders.
func (h *PreOrderHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body createPreOrderRequest
	if err := bindAndValidate(c, &body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	p, err := h.Svc.Create(c.Request().Context(), service.CreateInput{
		UserID:          userID,
		EventID:         body.EventID,
		Quantity:        body.Quantity,
		PaymentMethodID: body.PaymentMethodID,
	})
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// List handles GET /v1/pre-orders.
func (h *PreOrderHandler) List(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Svc.List(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Weekly handles GET /v1/pre-orders/weekly and reports the caller's active
// pre-order for the current week, if any.
func (h *PreOrderHandler) Weekly(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	p, err := h.Svc.WeeklyReservation(c.Request().Context(), userID, h.Svc.Now())
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": p})
}

// Cancel handles DELETE /v1/pre-orders/:id.  Unknown ids, other members'
// pre-orders and pre-orders past approval all answer 404.
func (h *PreOrderHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := strings.TrimSpace(c.Param("id"))
	p, err := h.Svc.Cancel(c.Request().Context(), id, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrInvalidState) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "pre-order not found or cannot be cancelled"})
		}
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, p)
}

type attachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required,max=255"`
}

// AttachPaymentMethod handles POST /v1/pre-orders/:id/payment-method.
func (h *PreOrderHandler) AttachPaymentMethod(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body attachPaymentMethodRequest
	if err := bindAndValidate(c, &body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	p, err := h.Svc.AttachPaymentMethod(c.Request().Context(), c.Param("id"), userID, body.PaymentMethodID)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, p)
}

// SetupPaymentMethod handles POST /v1/payment-methods/setup and returns the
// client secret used by the browser to save a card.
func (h *PreOrderHandler) SetupPaymentMethod(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	si, err := h.Svc.SetupPaymentMethod(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, si)
}
