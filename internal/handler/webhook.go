package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/harrys-tix/internal/payment"
	"github.com/iliyamo/harrys-tix/internal/service"
)

const maxWebhookBytes = 64 << 10

// WebhookHandler confirms or fails submitted charges from gateway events.
type WebhookHandler struct {
	Parser payment.WebhookParser
	Svc    *service.PreOrderService
	Logger *zap.Logger
}

func NewWebhookHandler(parser payment.WebhookParser, svc *service.PreOrderService, logger *zap.Logger) *WebhookHandler {
	if parser == nil || svc == nil {
		panic("nil dependency passed to NewWebhookHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{Parser: parser, Svc: svc, Logger: logger}
}

// Stripe handles POST /v1/webhooks/stripe.  Events for unknown intents or
// pre-orders that already moved on are acknowledged so the gateway stops
// retrying.  Events that overtake the charge being recorded answer 503 and
// storage failures 500, so the gateway retries both.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}
	ev, err := h.Parser.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		h.Logger.Warn("webhook rejected", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}

	ctx := c.Request().Context()
	ref := service.ChargeRef{IntentID: ev.IntentID, PreOrderID: ev.PreOrderID}
	switch ev.Type {
	case payment.EventIntentSucceeded:
		_, err = h.Svc.MarkPaid(ctx, ref)
	case payment.EventIntentFailed:
		reason := ev.FailureMessage
		if reason == "" {
			reason = "payment failed"
		}
		_, err = h.Svc.MarkChargeFailed(ctx, ref, reason)
	default:
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}

	switch {
	case err == nil:
	case errors.Is(err, service.ErrChargePending):
		h.Logger.Info("webhook arrived before charge was recorded",
			zap.String("type", ev.Type),
			zap.String("payment_intent_id", ev.IntentID),
			zap.String("pre_order_id", ev.PreOrderID))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "charge not yet recorded"})
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidState):
		h.Logger.Info("webhook ignored",
			zap.String("type", ev.Type),
			zap.String("payment_intent_id", ev.IntentID),
			zap.Error(err))
	default:
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
