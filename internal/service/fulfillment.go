package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/harrys-tix/internal/metrics"
	"github.com/iliyamo/harrys-tix/internal/model"
	"github.com/iliyamo/harrys-tix/internal/payment"
)

// Window is the weekly hour during which approved pre-orders are charged.
type Window struct {
	Weekday  time.Weekday
	Hour     int
	Location *time.Location
}

// DefaultWindow is Tuesday 19:00 London time.
func DefaultWindow() Window {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		loc = time.UTC
	}
	return Window{Weekday: time.Tuesday, Hour: 19, Location: loc}
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// Contains reports whether t falls on the window's weekday and hour.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.location())
	return local.Weekday() == w.Weekday && local.Hour() == w.Hour
}

// Key identifies the window occurrence containing t.
func (w Window) Key(t time.Time) string {
	return t.In(w.location()).Format("2006-01-02")
}

// RunGuard lets only one replica run a given window.
type RunGuard interface {
	// Acquire returns true when the caller is the first to claim key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release gives up a claimed key.
	Release(ctx context.Context, key string) error
}

const runGuardTTL = 2 * time.Hour

// Outcome is the per pre-order result of a fulfillment attempt.
type Outcome struct {
	PreOrderID             string       `json:"pre_order_id"`
	Status                 model.Status `json:"status,omitempty"`
	GatewayPaymentIntentID string       `json:"gateway_payment_intent_id,omitempty"`
	Error                  string       `json:"error,omitempty"`
}

// Fulfiller charges approved pre-orders off-session.
type Fulfiller struct {
	svc      *PreOrderService
	gateway  payment.Gateway
	window   Window
	currency string
	guard    RunGuard
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewFulfiller builds the engine on top of the lifecycle service.  guard may
// be nil, in which case every tick inside the window scans.
func NewFulfiller(svc *PreOrderService, gateway payment.Gateway, window Window, currency string, guard RunGuard, logger *zap.Logger) *Fulfiller {
	if svc == nil || gateway == nil {
		panic("nil dependency passed to NewFulfiller")
	}
	if currency == "" {
		currency = "gbp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fulfiller{
		svc:      svc,
		gateway:  gateway,
		window:   window,
		currency: currency,
		guard:    guard,
		logger:   logger,
		tracer:   otel.Tracer("preorder-fulfillment"),
	}
}

// InWindow reports whether now is inside the weekly fulfillment window.
func (f *Fulfiller) InWindow(now time.Time) bool {
	return f.window.Contains(now)
}

// MinorUnits converts a decimal amount to the currency's smallest unit,
// rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Tick runs the batch when called inside the window and the guard allows
// it.  ran is false when nothing was attempted.
func (f *Fulfiller) Tick(ctx context.Context) (outcomes []Outcome, ran bool, err error) {
	now := f.svc.clock.Now()
	if !f.InWindow(now) {
		return nil, false, nil
	}
	key := "fulfillment:run:" + f.window.Key(now)
	claimed := false
	if f.guard != nil {
		ok, gerr := f.guard.Acquire(ctx, key, runGuardTTL)
		switch {
		case gerr != nil:
			f.logger.Warn("fulfillment guard unavailable, running anyway", zap.String("key", key), zap.Error(gerr))
		case !ok:
			return nil, false, nil
		default:
			claimed = true
		}
	}
	outcomes, err = f.Run(ctx)
	if err != nil && claimed {
		// nothing was charged; let the next tick in this window retry
		if rerr := f.guard.Release(ctx, key); rerr != nil {
			f.logger.Warn("failed to release fulfillment guard", zap.String("key", key), zap.Error(rerr))
		}
	}
	return outcomes, true, err
}

// Run attempts every approved pre-order once, in creation order.  Item
// failures are recorded in the outcomes; only failing to load the batch is
// returned as an error.
func (f *Fulfiller) Run(ctx context.Context) ([]Outcome, error) {
	ctx, span := f.tracer.Start(ctx, "fulfillment.run")
	defer span.End()

	approved, err := f.svc.store.ListByStatus(ctx, model.StatusApproved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load approved pre-orders")
		return nil, fmt.Errorf("load approved pre-orders: %w", err)
	}
	span.SetAttributes(attribute.Int("preorders.count", len(approved)))

	out := make([]Outcome, 0, len(approved))
	failed := 0
	for i := range approved {
		o := f.charge(ctx, &approved[i])
		if o.Status != model.StatusProcessing {
			failed++
		}
		out = append(out, o)
	}
	f.logger.Info("fulfillment run finished",
		zap.Int("attempted", len(out)),
		zap.Int("failed", failed))
	return out, nil
}

// ChargeOne charges a single approved pre-order regardless of the window.
func (f *Fulfiller) ChargeOne(ctx context.Context, id string) (Outcome, error) {
	p, err := f.svc.get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status != model.StatusApproved {
		return Outcome{}, fmt.Errorf("pre-order %s is %s: %w", id, p.Status, ErrInvalidState)
	}
	return f.charge(ctx, p), nil
}

// FulfillNow approves any pending pre-orders among ids and charges them
// immediately.  Each id gets exactly one outcome, in request order.
func (f *Fulfiller) FulfillNow(ctx context.Context, ids []string) []Outcome {
	seen := make(map[string]struct{}, len(ids))
	out := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}

		p, err := f.svc.get(ctx, id)
		if err != nil {
			out = append(out, Outcome{PreOrderID: id, Error: err.Error()})
			continue
		}
		if p.Status == model.StatusPending {
			if _, err := f.svc.Approve(ctx, id); err != nil {
				out = append(out, Outcome{PreOrderID: id, Status: p.Status, Error: err.Error()})
				continue
			}
		}
		o, err := f.ChargeOne(ctx, id)
		if err != nil {
			out = append(out, Outcome{PreOrderID: id, Status: p.Status, Error: err.Error()})
			continue
		}
		out = append(out, o)
	}
	return out
}

func (f *Fulfiller) charge(ctx context.Context, p *model.PreOrder) Outcome {
	ctx, span := f.tracer.Start(ctx, "fulfillment.charge")
	defer span.End()
	span.SetAttributes(
		attribute.String("preorder.id", p.ID),
		attribute.Int64("event.id", int64(p.EventID)),
		attribute.Int64("user.id", int64(p.UserID)),
	)

	if !p.HasPaymentInfo() {
		return f.fail(ctx, span, p, "missing payment method or gateway customer")
	}

	req := payment.ChargeRequest{
		CustomerRef:      *p.GatewayCustomerID,
		PaymentMethodRef: *p.PaymentMethodID,
		AmountMinorUnits: MinorUnits(p.TotalPrice),
		Currency:         f.currency,
		Metadata: map[string]string{
			"pre_order_id": p.ID,
			"event_id":     fmt.Sprint(p.EventID),
			"user_id":      fmt.Sprint(p.UserID),
		},
		IdempotencyKey: idempotencyKey(p),
	}
	charge, err := f.gateway.ChargeOffSession(ctx, req)
	if err != nil {
		span.RecordError(err)
		return f.fail(ctx, span, p, payment.AsGatewayError(err).Error())
	}

	if _, err := f.svc.startCharge(ctx, p.ID, charge.IntentID); err != nil {
		// The charge went through but the record moved underneath us.
		span.RecordError(err)
		span.SetStatus(codes.Error, "record charge")
		f.logger.Error("charge submitted but pre-order not updated",
			zap.String("pre_order_id", p.ID),
			zap.String("payment_intent_id", charge.IntentID),
			zap.Error(err))
		metrics.RecordFulfillmentOutcome("orphaned")
		o := Outcome{PreOrderID: p.ID, GatewayPaymentIntentID: charge.IntentID, Error: err.Error()}
		if cur, gerr := f.svc.get(ctx, p.ID); gerr == nil {
			o.Status = cur.Status
		}
		return o
	}

	span.SetAttributes(attribute.String("payment_intent.id", charge.IntentID))
	metrics.RecordFulfillmentOutcome(string(model.StatusProcessing))
	f.logger.Info("pre-order charge submitted",
		zap.String("pre_order_id", p.ID),
		zap.String("payment_intent_id", charge.IntentID),
		zap.Int64("amount", req.AmountMinorUnits))
	return Outcome{PreOrderID: p.ID, Status: model.StatusProcessing, GatewayPaymentIntentID: charge.IntentID}
}

func (f *Fulfiller) fail(ctx context.Context, span trace.Span, p *model.PreOrder, reason string) Outcome {
	span.SetStatus(codes.Error, reason)
	_, err := f.svc.failCharge(ctx, p.ID, reason)
	switch {
	case errors.Is(err, ErrInvalidState):
		// The pre-order left approved (cancelled, say) after it was loaded.
		metrics.RecordFulfillmentOutcome("skipped")
		f.logger.Warn("pre-order changed before charge failure was recorded",
			zap.String("pre_order_id", p.ID),
			zap.String("reason", reason))
		o := Outcome{PreOrderID: p.ID, Error: err.Error()}
		if cur, gerr := f.svc.get(ctx, p.ID); gerr == nil {
			o.Status = cur.Status
		}
		return o
	case err != nil:
		f.logger.Error("failed to record charge failure",
			zap.String("pre_order_id", p.ID),
			zap.Error(err))
		return Outcome{PreOrderID: p.ID, Status: p.Status, Error: reason + ": " + err.Error()}
	}
	metrics.RecordFulfillmentOutcome(string(model.StatusFailed))
	f.logger.Warn("pre-order charge failed",
		zap.String("pre_order_id", p.ID),
		zap.String("reason", reason))
	return Outcome{PreOrderID: p.ID, Status: model.StatusFailed, Error: reason}
}

// idempotencyKey is stable for one approval of a pre-order, so repeated
// submissions collapse on the gateway while a re-approval gets a new key.
func idempotencyKey(p *model.PreOrder) string {
	if p.ApprovedAt == nil {
		return "preorder-" + p.ID
	}
	return fmt.Sprintf("preorder-%s-%d", p.ID, p.ApprovedAt.Unix())
}
