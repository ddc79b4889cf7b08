// Package service holds the pre-order lifecycle rules and the weekly
// fulfillment engine.  Every status write in the application goes through
// the guarded transitions defined here.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/harrys-tix/internal/clock"
	"github.com/iliyamo/harrys-tix/internal/metrics"
	"github.com/iliyamo/harrys-tix/internal/model"
	"github.com/iliyamo/harrys-tix/internal/payment"
	"github.com/iliyamo/harrys-tix/internal/queue"
	"github.com/iliyamo/harrys-tix/internal/repository"
)

// Notifier receives a message after every successful transition.  Failures
// are logged and never reach the caller.
type Notifier interface {
	PreOrderStatusChanged(ctx context.Context, ev queue.PreOrderStatusChanged) error
}

const notifyTimeout = 5 * time.Second

// PreOrderService validates and persists pre-order state changes.
type PreOrderService struct {
	store    repository.PreOrderStore
	events   repository.EventReader
	users    repository.UserReader
	gateway  payment.Gateway
	notifier Notifier
	clock    clock.Clock
	loc      *time.Location
	logger   *zap.Logger
}

// NewPreOrderService wires the lifecycle service.  notifier may be nil.  loc
// is the location whose Sunday midnight starts a reservation week.
func NewPreOrderService(store repository.PreOrderStore, events repository.EventReader, users repository.UserReader,
	gateway payment.Gateway, notifier Notifier, clk clock.Clock, loc *time.Location, logger *zap.Logger) *PreOrderService {
	if store == nil || events == nil || users == nil || gateway == nil || clk == nil {
		panic("nil dependency passed to NewPreOrderService")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreOrderService{
		store:    store,
		events:   events,
		users:    users,
		gateway:  gateway,
		notifier: notifier,
		clock:    clk,
		loc:      loc,
		logger:   logger,
	}
}

func (s *PreOrderService) now() time.Time { return s.clock.Now().UTC() }

// Now returns the service clock's current time.
func (s *PreOrderService) Now() time.Time { return s.clock.Now() }

// CreateInput is a member's reservation request.  PaymentMethodID is
// optional; without it the pre-order is intent-only until a method is
// attached.
type CreateInput struct {
	UserID          uint64
	EventID         uint64
	Quantity        int
	PaymentMethodID string
}

// Create records a pending pre-order priced at the event's member price.
func (s *PreOrderService) Create(ctx context.Context, in CreateInput) (*model.PreOrder, error) {
	user, err := s.users.GetByID(ctx, in.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("user %d has no profile: %w", in.UserID, ErrForbidden)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", in.UserID, err)
	}
	if !user.IsMember {
		return nil, fmt.Errorf("user %d is not a member: %w", in.UserID, ErrForbidden)
	}
	if in.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1: %w", ErrValidation)
	}
	event, err := s.events.GetByID(ctx, in.EventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("event %d: %w", in.EventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", in.EventID, err)
	}

	now := s.now()
	from, to := WeekBounds(now, s.loc)

	p := &model.PreOrder{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		EventID:    in.EventID,
		Quantity:   in.Quantity,
		TotalPrice: event.MemberPrice.Mul(decimal.NewFromInt(int64(in.Quantity))).Round(2),
		Status:     model.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if pm := strings.TrimSpace(in.PaymentMethodID); pm != "" {
		p.PaymentMethodID = &pm
		if user.GatewayCustomerID != nil {
			cus := *user.GatewayCustomerID
			p.GatewayCustomerID = &cus
		}
	}
	if err := s.store.CreateIfNoActive(ctx, p, from.UTC(), to.UTC()); err != nil {
		if errors.Is(err, repository.ErrActiveExists) {
			return nil, fmt.Errorf("user %d already holds a pre-order this week: %w", in.UserID, ErrConflict)
		}
		return nil, fmt.Errorf("create pre-order: %w", err)
	}
	metrics.RecordTransition(string(model.StatusPending))
	s.logger.Info("pre-order created",
		zap.String("pre_order_id", p.ID),
		zap.Uint64("user_id", p.UserID),
		zap.Uint64("event_id", p.EventID),
		zap.String("total_price", p.TotalPrice.StringFixed(2)))
	s.notify(ctx, p, "", "")
	return p, nil
}

// Cancel moves the caller's pending or approved pre-order to cancelled.
func (s *PreOrderService) Cancel(ctx context.Context, id string, userID uint64) (*model.PreOrder, error) {
	return s.transition(ctx, repository.Transition{
		ID:    id,
		From:  []model.Status{model.StatusPending, model.StatusApproved},
		To:    model.StatusCancelled,
		Owner: &userID,
	})
}

// Approve accepts a pending pre-order for the next fulfillment run.
func (s *PreOrderService) Approve(ctx context.Context, id string) (*model.PreOrder, error) {
	return s.transition(ctx, repository.Transition{
		ID:   id,
		From: []model.Status{model.StatusPending},
		To:   model.StatusApproved,
	})
}

// Reapprove puts a failed pre-order back in the queue so the next run
// retries the charge.
func (s *PreOrderService) Reapprove(ctx context.Context, id string) (*model.PreOrder, error) {
	return s.transition(ctx, repository.Transition{
		ID:   id,
		From: []model.Status{model.StatusFailed},
		To:   model.StatusApproved,
	})
}

// Reject fails a pending pre-order.  reason is optional.
func (s *PreOrderService) Reject(ctx context.Context, id, reason string) (*model.PreOrder, error) {
	t := repository.Transition{
		ID:   id,
		From: []model.Status{model.StatusPending},
		To:   model.StatusFailed,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		t.FailureReason = &reason
	}
	return s.transition(ctx, t)
}

// WeeklyReservation returns the user's active pre-order created during the
// week containing ref, or nil.
func (s *PreOrderService) WeeklyReservation(ctx context.Context, userID uint64, ref time.Time) (*model.PreOrder, error) {
	from, to := WeekBounds(ref, s.loc)
	p, err := s.store.FindActive(ctx, userID, from.UTC(), to.UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("weekly reservation for user %d: %w", userID, err)
	}
	return p, nil
}

// AttachPaymentMethod saves a payment method on an intent-only pre-order
// owned by userID.  The gateway customer comes from the member's profile.
func (s *PreOrderService) AttachPaymentMethod(ctx context.Context, id string, userID uint64, paymentMethodID string) (*model.PreOrder, error) {
	pm := strings.TrimSpace(paymentMethodID)
	if pm == "" {
		return nil, fmt.Errorf("payment_method_id is required: %w", ErrValidation)
	}
	p, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("pre-order %s: %w", id, ErrNotFound)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	if user.GatewayCustomerID == nil || *user.GatewayCustomerID == "" {
		return nil, fmt.Errorf("user %d has no gateway customer: %w", userID, ErrValidation)
	}
	cus := *user.GatewayCustomerID
	return s.updateGateway(ctx, id, []model.Status{model.StatusPending, model.StatusApproved},
		repository.GatewayFields{PaymentMethodID: &pm, GatewayCustomerID: &cus})
}

// SetupPaymentMethod asks the gateway for a setup intent so the member can
// save a card without being charged.
func (s *PreOrderService) SetupPaymentMethod(ctx context.Context, userID uint64) (payment.SetupIntent, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return payment.SetupIntent{}, fmt.Errorf("user %d has no profile: %w", userID, ErrForbidden)
	}
	if err != nil {
		return payment.SetupIntent{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !user.IsMember {
		return payment.SetupIntent{}, fmt.Errorf("user %d is not a member: %w", userID, ErrForbidden)
	}
	if user.GatewayCustomerID == nil || *user.GatewayCustomerID == "" {
		return payment.SetupIntent{}, fmt.Errorf("user %d has no gateway customer: %w", userID, ErrValidation)
	}
	si, err := s.gateway.CreateSetupIntent(ctx, *user.GatewayCustomerID)
	if err != nil {
		return payment.SetupIntent{}, fmt.Errorf("create setup intent: %w", err)
	}
	return si, nil
}

// ChargeRef identifies a submitted charge in a gateway callback.
// PreOrderID comes from the charge metadata and may be empty.
type ChargeRef struct {
	IntentID   string
	PreOrderID string
}

// MarkPaid confirms the charge identified by ref.
func (s *PreOrderService) MarkPaid(ctx context.Context, ref ChargeRef) (*model.PreOrder, error) {
	p, err := s.getByCharge(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, repository.Transition{
		ID:   p.ID,
		From: []model.Status{model.StatusProcessing},
		To:   model.StatusPaid,
	})
}

// MarkChargeFailed records that the gateway could not settle the charge.
func (s *PreOrderService) MarkChargeFailed(ctx context.Context, ref ChargeRef, reason string) (*model.PreOrder, error) {
	p, err := s.getByCharge(ctx, ref)
	if err != nil {
		return nil, err
	}
	t := repository.Transition{
		ID:   p.ID,
		From: []model.Status{model.StatusProcessing},
		To:   model.StatusFailed,
	}
	if reason != "" {
		t.FailureReason = &reason
	}
	return s.transition(ctx, t)
}

// AdminPatch is the set of fields an admin may change.  Nil fields are left
// untouched.
type AdminPatch struct {
	Status                 *model.Status
	PaymentMethodID        *string
	GatewayCustomerID      *string
	GatewayPaymentIntentID *string
}

// gatewayEditable are the statuses whose gateway fields an admin may edit.
var gatewayEditable = []model.Status{model.StatusPending, model.StatusApproved, model.StatusProcessing, model.StatusFailed}

// AdminUpdate applies an admin patch.  A status change must be a legal
// transition from the current status.
func (s *PreOrderService) AdminUpdate(ctx context.Context, id string, patch AdminPatch) (*model.PreOrder, error) {
	fields := repository.GatewayFields{
		PaymentMethodID:        patch.PaymentMethodID,
		GatewayCustomerID:      patch.GatewayCustomerID,
		GatewayPaymentIntentID: patch.GatewayPaymentIntentID,
	}
	hasFields := fields.PaymentMethodID != nil || fields.GatewayCustomerID != nil || fields.GatewayPaymentIntentID != nil
	if patch.Status == nil && !hasFields {
		return nil, fmt.Errorf("nothing to update: %w", ErrValidation)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", *patch.Status, ErrValidation)
	}

	p, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	changeStatus := patch.Status != nil && *patch.Status != p.Status
	if changeStatus {
		if err := checkAdminTransition(p, *patch.Status, fields); err != nil {
			return nil, err
		}
	}

	if hasFields {
		if p, err = s.updateGateway(ctx, id, gatewayEditable, fields); err != nil {
			return nil, err
		}
	}
	if changeStatus {
		return s.transition(ctx, repository.Transition{
			ID:   id,
			From: []model.Status{p.Status},
			To:   *patch.Status,
		})
	}
	return p, nil
}

// checkAdminTransition rejects admin status changes that would skip the
// gateway.  processing is only entered by a submitted charge, and paid
// requires the payment details and intent of that charge.
func checkAdminTransition(p *model.PreOrder, to model.Status, f repository.GatewayFields) error {
	if !model.CanTransition(p.Status, to) {
		return fmt.Errorf("pre-order %s cannot move from %s to %s: %w", p.ID, p.Status, to, ErrInvalidState)
	}
	switch to {
	case model.StatusProcessing:
		return fmt.Errorf("pre-order %s: processing is set by the fulfillment run: %w", p.ID, ErrInvalidState)
	case model.StatusPaid:
		merged := *p
		if f.PaymentMethodID != nil {
			merged.PaymentMethodID = f.PaymentMethodID
		}
		if f.GatewayCustomerID != nil {
			merged.GatewayCustomerID = f.GatewayCustomerID
		}
		if f.GatewayPaymentIntentID != nil {
			merged.GatewayPaymentIntentID = f.GatewayPaymentIntentID
		}
		if !merged.HasPaymentInfo() || merged.GatewayPaymentIntentID == nil || *merged.GatewayPaymentIntentID == "" {
			return fmt.Errorf("pre-order %s has no charge to confirm: %w", p.ID, ErrInvalidState)
		}
	}
	return nil
}

// List returns the caller's pre-orders in creation order.
func (s *PreOrderService) List(ctx context.Context, userID uint64) ([]model.PreOrder, error) {
	out, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pre-orders for user %d: %w", userID, err)
	}
	return out, nil
}

// ListAll returns every pre-order, newest first, with event and user details.
func (s *PreOrderService) ListAll(ctx context.Context) ([]model.PreOrderSummary, error) {
	out, err := s.store.ListSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pre-orders: %w", err)
	}
	return out, nil
}

// Get returns one pre-order.
func (s *PreOrderService) Get(ctx context.Context, id string) (*model.PreOrder, error) {
	return s.get(ctx, id)
}

// startCharge records a submitted charge on an approved pre-order.
func (s *PreOrderService) startCharge(ctx context.Context, id, intentID string) (*model.PreOrder, error) {
	return s.transition(ctx, repository.Transition{
		ID:              id,
		From:            []model.Status{model.StatusApproved},
		To:              model.StatusProcessing,
		PaymentIntentID: &intentID,
	})
}

// failCharge fails an approved pre-order whose charge could not be submitted.
func (s *PreOrderService) failCharge(ctx context.Context, id, reason string) (*model.PreOrder, error) {
	return s.transition(ctx, repository.Transition{
		ID:            id,
		From:          []model.Status{model.StatusApproved},
		To:            model.StatusFailed,
		FailureReason: &reason,
	})
}

func (s *PreOrderService) get(ctx context.Context, id string) (*model.PreOrder, error) {
	p, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("pre-order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load pre-order %s: %w", id, err)
	}
	return p, nil
}

// getByCharge resolves a gateway callback to its pre-order.  A callback can
// overtake the fulfillment run recording the intent; when the metadata
// points at a pre-order still approved under another intent, the charge is
// reported as pending so the gateway redelivers.
func (s *PreOrderService) getByCharge(ctx context.Context, ref ChargeRef) (*model.PreOrder, error) {
	p, err := s.store.GetByIntentID(ctx, ref.IntentID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load pre-order for intent %s: %w", ref.IntentID, err)
	}
	if ref.PreOrderID != "" {
		q, gerr := s.store.GetByID(ctx, ref.PreOrderID)
		if gerr == nil && q.Status == model.StatusApproved {
			return nil, fmt.Errorf("payment intent %s for pre-order %s: %w", ref.IntentID, q.ID, ErrChargePending)
		}
		if gerr != nil && !errors.Is(gerr, repository.ErrNotFound) {
			return nil, fmt.Errorf("load pre-order %s: %w", ref.PreOrderID, gerr)
		}
	}
	return nil, fmt.Errorf("payment intent %s: %w", ref.IntentID, ErrNotFound)
}

func (s *PreOrderService) transition(ctx context.Context, t repository.Transition) (*model.PreOrder, error) {
	t.At = s.now()
	p, err := s.store.Transition(ctx, t)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("pre-order %s: %w", t.ID, ErrNotFound)
	case errors.Is(err, repository.ErrStatusChanged):
		return nil, fmt.Errorf("pre-order %s cannot move to %s: %w", t.ID, t.To, ErrInvalidState)
	case err != nil:
		return nil, fmt.Errorf("update pre-order %s: %w", t.ID, err)
	}
	metrics.RecordTransition(string(t.To))
	s.logger.Info("pre-order transition",
		zap.String("pre_order_id", p.ID),
		zap.String("status", string(p.Status)))

	var prev model.Status
	if len(t.From) == 1 {
		prev = t.From[0]
	}
	reason := ""
	if p.FailureReason != nil {
		reason = *p.FailureReason
	}
	s.notify(ctx, p, prev, reason)
	return p, nil
}

func (s *PreOrderService) updateGateway(ctx context.Context, id string, allowed []model.Status, f repository.GatewayFields) (*model.PreOrder, error) {
	p, err := s.store.UpdateGateway(ctx, id, allowed, f, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("pre-order %s: %w", id, ErrNotFound)
	case errors.Is(err, repository.ErrStatusChanged):
		return nil, fmt.Errorf("pre-order %s payment details are locked: %w", id, ErrInvalidState)
	case err != nil:
		return nil, fmt.Errorf("update pre-order %s: %w", id, err)
	}
	return p, nil
}

// notify publishes in the background so a slow broker never delays the
// request that caused the transition.
func (s *PreOrderService) notify(ctx context.Context, p *model.PreOrder, prev model.Status, reason string) {
	if s.notifier == nil {
		return
	}
	ev := queue.PreOrderStatusChanged{
		PreOrderID:     p.ID,
		UserID:         p.UserID,
		EventID:        p.EventID,
		Quantity:       p.Quantity,
		TotalPrice:     p.TotalPrice.StringFixed(2),
		PreviousStatus: string(prev),
		Status:         string(p.Status),
		Reason:         reason,
		OccurredAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if u, err := s.users.GetByID(ctx, ev.UserID); err == nil {
			ev.UserEmail = u.Email
		}
		if e, err := s.events.GetByID(ctx, ev.EventID); err == nil {
			ev.EventTitle = e.Title
		}
		if err := s.notifier.PreOrderStatusChanged(ctx, ev); err != nil {
			s.logger.Warn("pre-order notification failed",
				zap.String("pre_order_id", ev.PreOrderID),
				zap.String("status", ev.Status),
				zap.Error(err))
		}
	}()
}
