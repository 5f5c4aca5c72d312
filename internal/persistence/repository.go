// Package persistence provides durable state for routing hints, order
// previews, and order attempts awaiting reconciliation.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/brokerhub/internal/types"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// Provider hint operations (router acceleration)
	SaveProviderHint(ctx context.Context, accountID, provider string) error
	ProviderHint(ctx context.Context, accountID string) (string, error)
	DeleteProviderHint(ctx context.Context, accountID string) error

	// Preview operations
	SavePreview(ctx context.Context, preview Preview) error
	GetPreview(ctx context.Context, id string) (*Preview, error)
	DeletePreviewsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Order attempt operations (keyed by correlation token)
	SaveAttempt(ctx context.Context, record types.OrderRecord) error
	GetAttempt(ctx context.Context, correlationToken string) (*types.OrderRecord, error)
	UnresolvedAttempts(ctx context.Context) ([]types.OrderRecord, error)
	AttemptHistory(ctx context.Context, accountID string, limit int) ([]types.OrderRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Preview is a persisted side-effect-free estimate. The resolved spec is
// stored verbatim so placement uses exactly the identity that was previewed.
type Preview struct {
	ID             string
	Spec           types.OrderSpec
	EstimatedValue decimal.Decimal
	Commission     decimal.Decimal
	ReferencePrice decimal.Decimal
	CreatedAt      time.Time
}
