// Package payment defines the contract the pre-order flow needs from a
// payment gateway and provides a Stripe implementation and a sandbox for
// local runs.
package payment

import (
	"context"
	"errors"
	"fmt"
)

// Gateway collects card details without charging and later charges the
// saved card off-session.
type Gateway interface {
	CreateSetupIntent(ctx context.Context, customerRef string) (SetupIntent, error)
	ChargeOffSession(ctx context.Context, req ChargeRequest) (Charge, error)
}

// WebhookParser verifies and decodes gateway webhook deliveries.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// SetupIntent carries the client secret the browser uses to save a card.
type SetupIntent struct {
	ClientSecret string `json:"client_secret"`
}

// ChargeRequest is an off-session charge against a saved payment method.
// AmountMinorUnits is in the currency's smallest unit (pence for GBP).
type ChargeRequest struct {
	CustomerRef      string
	PaymentMethodRef string
	AmountMinorUnits int64
	Currency         string
	Metadata         map[string]string
	IdempotencyKey   string
}

// Charge is the gateway's answer to a submitted charge.  Submission does not
// mean the money settled; confirmation arrives later by webhook.
type Charge struct {
	IntentID string
	Status   string
}

// Webhook event types the service reacts to.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// WebhookEvent is the decoded part of a gateway webhook.  PreOrderID is
// read from the intent's pre_order_id metadata.
type WebhookEvent struct {
	Type           string
	IntentID       string
	PreOrderID     string
	FailureMessage string
}

// GatewayError is returned for declines, invalid payment methods, timeouts
// and transport failures alike.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return "gateway: " + e.Message
	}
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// Error codes produced by this package itself.
const (
	CodeTimeout = "timeout"
	CodeNetwork = "network_error"
	CodeUnknown = "unknown"
)

// AsGatewayError returns err as a *GatewayError, wrapping foreign errors
// with CodeUnknown.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Code: CodeTimeout, Message: err.Error()}
	}
	return &GatewayError{Code: CodeUnknown, Message: err.Error()}
}
