package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe implements Gateway and WebhookParser on the Stripe API.  Requests
// are bounded by the HTTP client timeout given to NewStripe.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe builds a client for the given secret key.  webhookSecret is the
// signing secret of the webhook endpoint and may be empty when webhooks are
// not configured.
func NewStripe(secretKey, webhookSecret string, timeout time.Duration) *Stripe {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backends := stripe.NewBackends(&http.Client{Timeout: timeout})
	return &Stripe{api: client.New(secretKey, backends), webhookSecret: webhookSecret}
}

func (s *Stripe) CreateSetupIntent(ctx context.Context, customerRef string) (SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerRef),
		Usage:              stripe.String(string(stripe.SetupIntentUsageOffSession)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	si, err := s.api.SetupIntents.New(params)
	if err != nil {
		return SetupIntent{}, mapStripeError(err)
	}
	return SetupIntent{ClientSecret: si.ClientSecret}, nil
}

func (s *Stripe) ChargeOffSession(ctx context.Context, req ChargeRequest) (Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinorUnits),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Charge{}, mapStripeError(err)
	}
	return Charge{IntentID: pi.ID, Status: string(pi.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// payment intent from payment_intent.* events.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if s.webhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe webhook secret not configured")
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("verify webhook: %w", err)
	}
	out := WebhookEvent{Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	out.IntentID = pi.ID
	out.PreOrderID = pi.Metadata["pre_order_id"]
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}

// mapStripeError folds Stripe API errors, timeouts and transport errors
// into a GatewayError.
func mapStripeError(err error) *GatewayError {
	var se *stripe.Error
	if errors.As(err, &se) {
		code := string(se.Code)
		if se.DeclineCode != "" {
			code = string(se.DeclineCode)
		}
		if code == "" {
			code = string(se.Type)
		}
		return &GatewayError{Code: code, Message: se.Msg}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &GatewayError{Code: CodeTimeout, Message: err.Error()}
	}
	if errors.As(err, &ne) {
		return &GatewayError{Code: CodeNetwork, Message: err.Error()}
	}
	return &GatewayError{Code: CodeUnknown, Message: err.Error()}
}
