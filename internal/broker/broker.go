// Package broker defines the uniform capability contract every venue
// adapter implements. Adapters translate venue-native vocabularies into the
// common types and never leak raw transport errors past their boundary.
package broker

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/brokerhub/internal/types"
)

// Adapter is the per-venue capability set. Every account-scoped method
// checks ownership before any network call and fails with
// types.ErrUnauthorizedAccount when the adapter does not own the account.
type Adapter interface {
	// Name returns the provider identifier (e.g. "ibgw", "alpaca").
	Name() string

	// Owns reports whether this adapter owns the account. The answer
	// combines the adapter's cached account list with its configured
	// allow-list; a configured non-empty allow-list is a strict filter.
	Owns(ctx context.Context, accountID string) bool

	// ListAccounts returns the accounts this adapter manages.
	ListAccounts(ctx context.Context) ([]types.BrokerAccount, error)

	// ResolveInstrument resolves a human ticker to the venue's unique
	// instrument identity.
	ResolveInstrument(ctx context.Context, accountID, ticker string) (types.InstrumentIdentity, error)

	// PreviewOrder returns a side-effect-free estimate. The returned
	// estimate carries the fully resolved OrderSpec (verified instrument
	// identity included) for round-tripping into PlaceOrder. There is no
	// server-side linkage between preview and placement.
	PreviewOrder(ctx context.Context, spec types.OrderSpec) (*types.Estimate, error)

	// PlaceOrder submits the order. It re-resolves the instrument identity
	// and fails closed with types.ErrInstrumentMismatch if it no longer
	// matches the spec. It blocks for a bounded initial-status wait;
	// StatusPending is a legitimate, non-error return. PlaceOrder is not
	// idempotent: dedup happens via the spec's correlation token.
	PlaceOrder(ctx context.Context, spec types.OrderSpec) (*types.OrderRecord, error)

	// ListOrders returns order snapshots for the account.
	ListOrders(ctx context.Context, accountID string, filter types.OrderFilter) ([]types.OrderRecord, error)

	// CancelOrder requests cancellation of a venue order and returns the
	// resulting snapshot (normally CANCEL_PENDING or CANCELED).
	CancelOrder(ctx context.Context, accountID, venueOrderID string) (*types.OrderRecord, error)

	// GetBalance returns the account's cash balance.
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// PostTradeRefresh refreshes venue-side account state after a fill.
	PostTradeRefresh(ctx context.Context, accountID string) error
}

// AllowList is an ordered list of account identifiers. Empty means "trust
// venue-reported accounts"; non-empty is a strict filter applied before
// venue-reported presence. This is a security boundary, not a convenience
// filter.
type AllowList []string

// Permits reports whether the allow-list admits the account.
func (l AllowList) Permits(accountID string) bool {
	if len(l) == 0 {
		return true
	}
	for _, id := range l {
		if id == accountID {
			return true
		}
	}
	return false
}
