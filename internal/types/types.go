// Package types defines shared value objects used across the broker layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP LMT"
)

// TimeInForce represents how long an order remains active.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// OrderStatus is the common order lifecycle shared by every venue adapter.
// Venue-native vocabularies are collapsed into this enum by the status
// translator; adapters never expose a raw venue status.
type OrderStatus int

const (
	StatusPending OrderStatus = iota
	StatusAccepted
	StatusPartial
	StatusExecuted
	StatusCancelPending
	StatusCanceled
	StatusRejected
	StatusExpired
	StatusFailed
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusPartial:
		return "PARTIAL"
	case StatusExecuted:
		return "EXECUTED"
	case StatusCancelPending:
		return "CANCEL_PENDING"
	case StatusCanceled:
		return "CANCELED"
	case StatusRejected:
		return "REJECTED"
	case StatusExpired:
		return "EXPIRED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if the status is terminal. Terminal statuses
// never transition.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusCanceled, StatusRejected, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle permits moving from s to next.
//
//	PENDING -> ACCEPTED -> PARTIAL -> EXECUTED
//	PENDING|ACCEPTED|PARTIAL -> CANCEL_PENDING -> CANCELED
//	PENDING|ACCEPTED|PARTIAL -> REJECTED|EXPIRED|FAILED
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return true // any non-terminal start may move anywhere forward
	case StatusAccepted:
		return next != StatusPending
	case StatusPartial:
		switch next {
		case StatusPending, StatusAccepted:
			return false
		default:
			return true
		}
	case StatusCancelPending:
		switch next {
		case StatusCanceled, StatusExecuted, StatusPartial, StatusRejected, StatusExpired, StatusFailed:
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// BrokerAccount is a provider-qualified account identifier with display
// metadata. Accounts are rebuilt on every ListAccounts call and never
// persisted by this layer.
type BrokerAccount struct {
	ID        string
	Provider  string
	Name      string
	Brokerage string
	Cash      decimal.Decimal
	Currency  string
	AuthToken string // optional, opaque to this layer
}

// InstrumentIdentity is a venue-specific unique instrument key plus the
// human ticker used to resolve it. Once resolved at preview time, the same
// identity must re-verify at placement time or placement fails closed.
type InstrumentIdentity struct {
	Ticker   string
	VenueKey string // venue-unique key, e.g. a numeric contract id
	Exchange string
	Currency string
}

// SameInstrument reports whether two identities refer to the same venue
// instrument. Ticker alone is not sufficient: tickers get reused across
// corporate actions, the venue key is authoritative.
func (i InstrumentIdentity) SameInstrument(other InstrumentIdentity) bool {
	return i.VenueKey != "" && i.VenueKey == other.VenueKey
}

// OrderSpec is the immutable description of an order request. The caller
// persists the resolved spec between preview and placement and hands it
// back unchanged.
type OrderSpec struct {
	AccountID        string
	Instrument       InstrumentIdentity
	Side             Side
	Quantity         decimal.Decimal
	OrderType        OrderType
	TimeInForce      TimeInForce
	LimitPrice       decimal.Decimal
	StopPrice        decimal.Decimal
	CorrelationToken string // caller-chosen, attached to the venue order
}

// Validate checks the order-type/price invariants before any network call.
func (s OrderSpec) Validate() error {
	if !s.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	switch s.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !s.LimitPrice.IsPositive() {
			return ErrMissingLimitPrice
		}
	case OrderTypeStop:
		if !s.StopPrice.IsPositive() {
			return ErrMissingStopPrice
		}
	case OrderTypeStopLimit:
		if !s.LimitPrice.IsPositive() {
			return ErrMissingLimitPrice
		}
		if !s.StopPrice.IsPositive() {
			return ErrMissingStopPrice
		}
	default:
		return ErrUnsupportedOrderType
	}
	return nil
}

// Estimate is the side-effect-free preview result. ResolvedSpec carries the
// verified instrument identity for round-tripping into PlaceOrder.
type Estimate struct {
	ResolvedSpec   OrderSpec
	EstimatedValue decimal.Decimal
	Commission     decimal.Decimal
	ReferencePrice decimal.Decimal
	CreatedAt      time.Time
}

// OrderRecord is the adapter's snapshot of a venue order. It is a value
// object: callers persist snapshots, the record is never mutated in place.
type OrderRecord struct {
	VenueOrderID     string
	AccountID        string
	Provider         string
	Ticker           string
	Side             Side
	Status           OrderStatus
	Quantity         decimal.Decimal
	FilledQuantity   decimal.Decimal
	AvgFillPrice     decimal.Decimal
	Commission       decimal.Decimal
	CorrelationToken string
	Note             string // explanatory note, e.g. uncertain submission
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Remaining returns the unfilled quantity.
func (r OrderRecord) Remaining() decimal.Decimal {
	return r.Quantity.Sub(r.FilledQuantity)
}

// OrderFilter narrows ListOrders results.
type OrderFilter struct {
	OpenOnly bool
	Ticker   string
	Since    time.Time
}
