package types

import "errors"

// Sentinel errors for the broker layer.
var (
	// Authorization errors. Never retried.
	ErrUnauthorizedAccount = errors.New("account not owned by adapter")
	ErrNoAdapterForAccount = errors.New("no adapter claims account")

	// Connection errors. Retried by the supervisor up to its ceiling,
	// surfaced only after the ceiling is exhausted.
	ErrConnectionUnavailable = errors.New("venue connection unavailable")
	ErrConnectTimeout        = errors.New("venue connect timeout")

	// Placement errors.
	ErrInstrumentMismatch   = errors.New("instrument identity changed since preview")
	ErrInstrumentNotFound   = errors.New("instrument not found at venue")
	ErrVenueRejected        = errors.New("order rejected by venue")
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrReadOnlyVenue        = errors.New("venue configured read-only")

	// Spec validation errors. Fail before any network call.
	ErrInvalidQuantity   = errors.New("order quantity must be positive")
	ErrMissingLimitPrice = errors.New("limit order requires a limit price")
	ErrMissingStopPrice  = errors.New("stop order requires a stop price")

	// State errors.
	ErrPreviewNotFound = errors.New("no stored preview for id")
	ErrInvalidConfig   = errors.New("invalid configuration")
)
