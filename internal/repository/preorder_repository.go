package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/harrys-tix/internal/model"
)

// PreOrderRepo is the SQL implementation of PreOrderStore.  Queries are
// written with '?' placeholders and rebound for the connection's driver, so
// the same repository serves MySQL and PostgreSQL.  Timestamps are stored in
// UTC.
type PreOrderRepo struct {
	db *sqlx.DB
}

// NewPreOrderRepo returns a PreOrderRepo bound to the given database.
func NewPreOrderRepo(db *sqlx.DB) *PreOrderRepo { return &PreOrderRepo{db: db} }

var _ PreOrderStore = (*PreOrderRepo)(nil)

const preOrderColumns = `p.id, p.user_id, p.event_id, p.quantity, p.total_price, p.status,
       p.payment_method_id, p.gateway_customer_id, p.gateway_payment_intent_id, p.failure_reason,
       p.approved_at, p.paid_at, p.failed_at, p.cancelled_at, p.created_at, p.updated_at`

// preOrderRecord mirrors the pre_orders table.
type preOrderRecord struct {
	ID                     string          `db:"id"`
	UserID                 uint64          `db:"user_id"`
	EventID                uint64          `db:"event_id"`
	Quantity               int             `db:"quantity"`
	TotalPrice             decimal.Decimal `db:"total_price"`
	Status                 string          `db:"status"`
	PaymentMethodID        sql.NullString  `db:"payment_method_id"`
	GatewayCustomerID      sql.NullString  `db:"gateway_customer_id"`
	GatewayPaymentIntentID sql.NullString  `db:"gateway_payment_intent_id"`
	FailureReason          sql.NullString  `db:"failure_reason"`
	ApprovedAt             sql.NullTime    `db:"approved_at"`
	PaidAt                 sql.NullTime    `db:"paid_at"`
	FailedAt               sql.NullTime    `db:"failed_at"`
	CancelledAt            sql.NullTime    `db:"cancelled_at"`
	CreatedAt              time.Time       `db:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at"`
}

type summaryRecord struct {
	preOrderRecord
	EventTitle sql.NullString `db:"event_title"`
	UserEmail  sql.NullString `db:"user_email"`
}

func nullStr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func (r preOrderRecord) toModel() model.PreOrder {
	return model.PreOrder{
		ID:                     r.ID,
		UserID:                 r.UserID,
		EventID:                r.EventID,
		Quantity:               r.Quantity,
		TotalPrice:             r.TotalPrice,
		Status:                 model.Status(r.Status),
		PaymentMethodID:        nullStr(r.PaymentMethodID),
		GatewayCustomerID:      nullStr(r.GatewayCustomerID),
		GatewayPaymentIntentID: nullStr(r.GatewayPaymentIntentID),
		FailureReason:          nullStr(r.FailureReason),
		ApprovedAt:             nullTime(r.ApprovedAt),
		PaidAt:                 nullTime(r.PaidAt),
		FailedAt:               nullTime(r.FailedAt),
		CancelledAt:            nullTime(r.CancelledAt),
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Create inserts a new pre-order.  The caller supplies the ID and timestamps.
func (r *PreOrderRepo) Create(ctx context.Context, p *model.PreOrder) error {
	return r.insert(ctx, r.db, p)
}

// CreateIfNoActive inserts p inside a transaction that first locks the
// member's users row, so concurrent creates for one member run one after
// the other and the second sees the first one's row.
func (r *PreOrderRepo) CreateIfNoActive(ctx context.Context, p *model.PreOrder, from, to time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var locked uint64
	if err := tx.GetContext(ctx, &locked, r.db.Rebind("SELECT id FROM users WHERE id = ? FOR UPDATE"), p.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock user %d: %w", p.UserID, ErrNotFound)
		}
		return fmt.Errorf("lock user %d: %w", p.UserID, err)
	}

	var n int
	err = tx.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM pre_orders
		WHERE user_id = ? AND created_at >= ? AND created_at < ? AND status NOT IN (?, ?)`),
		p.UserID, from.UTC(), to.UTC(), string(model.StatusCancelled), string(model.StatusFailed))
	if err != nil {
		return fmt.Errorf("check active pre-orders: %w", err)
	}
	if n > 0 {
		return ErrActiveExists
	}
	if err := r.insert(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *PreOrderRepo) insert(ctx context.Context, ex sqlx.ExecerContext, p *model.PreOrder) error {
	const q = `INSERT INTO pre_orders (id, user_id, event_id, quantity, total_price, status,
		payment_method_id, gateway_customer_id, gateway_payment_intent_id, failure_reason,
		approved_at, paid_at, failed_at, cancelled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ex.ExecContext(ctx, r.db.Rebind(q),
		p.ID, p.UserID, p.EventID, p.Quantity, p.TotalPrice.StringFixed(2), string(p.Status),
		p.PaymentMethodID, p.GatewayCustomerID, p.GatewayPaymentIntentID, p.FailureReason,
		timeArg(p.ApprovedAt), timeArg(p.PaidAt), timeArg(p.FailedAt), timeArg(p.CancelledAt),
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert pre-order: %w", err)
	}
	return nil
}

func (r *PreOrderRepo) getOne(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) (*model.PreOrder, error) {
	query := `SELECT ` + preOrderColumns + ` FROM pre_orders p WHERE ` + where + ` LIMIT 1`
	var rec preOrderRecord
	if err := sqlx.GetContext(ctx, q, &rec, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p := rec.toModel()
	return &p, nil
}

// GetByID returns the pre-order with the given id or ErrNotFound.
func (r *PreOrderRepo) GetByID(ctx context.Context, id string) (*model.PreOrder, error) {
	return r.getOne(ctx, r.db, "p.id = ?", id)
}

// GetByIntentID looks a pre-order up by its gateway payment intent.
func (r *PreOrderRepo) GetByIntentID(ctx context.Context, intentID string) (*model.PreOrder, error) {
	return r.getOne(ctx, r.db, "p.gateway_payment_intent_id = ?", intentID)
}

func (r *PreOrderRepo) list(ctx context.Context, where string, args ...any) ([]model.PreOrder, error) {
	query := `SELECT ` + preOrderColumns + ` FROM pre_orders p WHERE ` + where + ` ORDER BY p.created_at, p.id`
	var recs []preOrderRecord
	if err := r.db.SelectContext(ctx, &recs, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]model.PreOrder, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// ListByUser returns the user's pre-orders, oldest first.
func (r *PreOrderRepo) ListByUser(ctx context.Context, userID uint64) ([]model.PreOrder, error) {
	return r.list(ctx, "p.user_id = ?", userID)
}

// ListByStatus returns all pre-orders in the given status in creation order.
func (r *PreOrderRepo) ListByStatus(ctx context.Context, status model.Status) ([]model.PreOrder, error) {
	return r.list(ctx, "p.status = ?", string(status))
}

// ListSummaries returns every pre-order joined with its event title and the
// member's email, newest first.
func (r *PreOrderRepo) ListSummaries(ctx context.Context) ([]model.PreOrderSummary, error) {
	query := `SELECT ` + preOrderColumns + `, e.title AS event_title, u.email AS user_email
		FROM pre_orders p
		LEFT JOIN events e ON e.id = p.event_id
		LEFT JOIN users u ON u.id = p.user_id
		ORDER BY p.created_at DESC, p.id`
	var recs []summaryRecord
	if err := r.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, err
	}
	out := make([]model.PreOrderSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.PreOrderSummary{
			PreOrder:   rec.toModel(),
			EventTitle: rec.EventTitle.String,
			UserEmail:  rec.UserEmail.String,
		})
	}
	return out, nil
}

// FindActive returns the user's non-cancelled, non-failed pre-order created
// in [from, to), or ErrNotFound.
func (r *PreOrderRepo) FindActive(ctx context.Context, userID uint64, from, to time.Time) (*model.PreOrder, error) {
	return r.getOne(ctx, r.db,
		"p.user_id = ? AND p.created_at >= ? AND p.created_at < ? AND p.status NOT IN (?, ?) ORDER BY p.created_at",
		userID, from.UTC(), to.UTC(), string(model.StatusCancelled), string(model.StatusFailed))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// milestoneSets returns the SET fragments that keep the milestone columns
// consistent with the new status.
func milestoneSets(to model.Status, at time.Time) ([]string, []any) {
	switch to {
	case model.StatusProcessing:
		return []string{"paid_at = NULL", "failed_at = NULL", "cancelled_at = NULL"}, nil
	case model.StatusApproved:
		return []string{"approved_at = ?", "paid_at = NULL", "failed_at = NULL", "cancelled_at = NULL", "failure_reason = NULL"}, []any{at}
	case model.StatusPaid:
		return []string{"approved_at = NULL", "paid_at = ?", "failed_at = NULL", "cancelled_at = NULL"}, []any{at}
	case model.StatusFailed:
		return []string{"approved_at = NULL", "paid_at = NULL", "failed_at = ?", "cancelled_at = NULL"}, []any{at}
	case model.StatusCancelled:
		return []string{"approved_at = NULL", "paid_at = NULL", "failed_at = NULL", "cancelled_at = ?"}, []any{at}
	}
	return nil, nil
}

// Transition applies a guarded status change inside a transaction.  When no
// row matches the guard it returns ErrNotFound if the id is unknown and
// ErrStatusChanged otherwise.
func (r *PreOrderRepo) Transition(ctx context.Context, t Transition) (*model.PreOrder, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition to %s: no source statuses", t.To)
	}
	at := t.At.UTC()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(t.To), at}
	ms, margs := milestoneSets(t.To, at)
	sets = append(sets, ms...)
	args = append(args, margs...)
	if t.PaymentIntentID != nil {
		sets = append(sets, "gateway_payment_intent_id = ?")
		args = append(args, *t.PaymentIntentID)
	}
	if t.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, *t.FailureReason)
	}
	where := "id = ? AND status IN (" + placeholders(len(t.From)) + ")"
	args = append(args, t.ID)
	for _, s := range t.From {
		args = append(args, string(s))
	}
	if t.Owner != nil {
		where += " AND user_id = ?"
		args = append(args, *t.Owner)
	}
	query := "UPDATE pre_orders SET " + strings.Join(sets, ", ") + " WHERE " + where
	return r.guardedUpdate(ctx, t.ID, query, args)
}

// UpdateGateway sets the provided gateway columns while the status is one
// of allowed.
func (r *PreOrderRepo) UpdateGateway(ctx context.Context, id string, allowed []model.Status, f GatewayFields, at time.Time) (*model.PreOrder, error) {
	if f.empty() || len(allowed) == 0 {
		return r.GetByID(ctx, id)
	}
	sets := []string{"updated_at = ?"}
	args := []any{at.UTC()}
	if f.PaymentMethodID != nil {
		sets = append(sets, "payment_method_id = ?")
		args = append(args, *f.PaymentMethodID)
	}
	if f.GatewayCustomerID != nil {
		sets = append(sets, "gateway_customer_id = ?")
		args = append(args, *f.GatewayCustomerID)
	}
	if f.GatewayPaymentIntentID != nil {
		sets = append(sets, "gateway_payment_intent_id = ?")
		args = append(args, *f.GatewayPaymentIntentID)
	}
	args = append(args, id)
	for _, s := range allowed {
		args = append(args, string(s))
	}
	query := "UPDATE pre_orders SET " + strings.Join(sets, ", ") +
		" WHERE id = ? AND status IN (" + placeholders(len(allowed)) + ")"
	return r.guardedUpdate(ctx, id, query, args)
}

func (r *PreOrderRepo) guardedUpdate(ctx context.Context, id, query string, args []any) (*model.PreOrder, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("update pre-order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	p, err := r.getOne(ctx, tx, "p.id = ?", id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrStatusChanged
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return p, nil
}
