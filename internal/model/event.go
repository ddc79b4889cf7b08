package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the read-only view of an event needed to price a pre-order.
type Event struct {
	ID          uint64          // events.id
	Title       string          // events.title
	StartsAt    time.Time       // events.starts_at
	MemberPrice decimal.Decimal // events.member_price
}
