package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DeclinedPaymentMethod makes the sandbox decline a charge, mirroring the
// gateway's own test card.
const DeclinedPaymentMethod = "pm_card_chargeDeclined"

// Sandbox is a Gateway that never leaves the process.  Every charge succeeds
// unless the payment method is DeclinedPaymentMethod.  Its webhooks are
// unsigned JSON in the gateway's envelope.
type Sandbox struct{}

func (Sandbox) CreateSetupIntent(ctx context.Context, customerRef string) (SetupIntent, error) {
	if err := ctx.Err(); err != nil {
		return SetupIntent{}, AsGatewayError(err)
	}
	if customerRef == "" {
		return SetupIntent{}, &GatewayError{Code: "resource_missing", Message: "no customer"}
	}
	return SetupIntent{ClientSecret: "seti_sandbox_" + uuid.NewString() + "_secret"}, nil
}

func (Sandbox) ChargeOffSession(ctx context.Context, req ChargeRequest) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, AsGatewayError(err)
	}
	if req.AmountMinorUnits <= 0 {
		return Charge{}, &GatewayError{Code: "amount_too_small", Message: fmt.Sprintf("amount %d", req.AmountMinorUnits)}
	}
	if req.PaymentMethodRef == DeclinedPaymentMethod {
		return Charge{}, &GatewayError{Code: "card_declined", Message: "Your card was declined."}
	}
	return Charge{IntentID: "pi_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", ""), Status: "processing"}, nil
}

// ParseWebhook accepts {"type": ..., "data": {"object": {"id": ..., "metadata": {...}, "last_payment_error": {"message": ...}}}}.
func (Sandbox) ParseWebhook(payload []byte, _ string) (WebhookEvent, error) {
	var env struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID               string            `json:"id"`
				Metadata         map[string]string `json:"metadata"`
				LastPaymentError *struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	ev := WebhookEvent{Type: env.Type, IntentID: env.Data.Object.ID, PreOrderID: env.Data.Object.Metadata["pre_order_id"]}
	if env.Data.Object.LastPaymentError != nil {
		ev.FailureMessage = env.Data.Object.LastPaymentError.Message
	}
	return ev, nil
}
