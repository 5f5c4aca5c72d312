// Package execution orchestrates the preview/confirm/place flow across
// venue adapters and persists every attempt for reconciliation.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tathienbao/brokerhub/internal/metrics"
	"github.com/tathienbao/brokerhub/internal/persistence"
	"github.com/tathienbao/brokerhub/internal/router"
	"github.com/tathienbao/brokerhub/internal/types"
)

// Config holds executor tuning.
type Config struct {
	// PreviewTTL bounds how long a preview stays placeable. Market prices
	// move; a stale estimate is worse than none.
	PreviewTTL time.Duration `yaml:"preview_ttl"`
}

// DefaultConfig returns executor defaults.
func DefaultConfig() Config {
	return Config{PreviewTTL: 15 * time.Minute}
}

// Executor runs the two-step order flow: Preview resolves and estimates
// without side effects, Place looks the preview up and submits exactly the
// spec that was previewed. Dedup keys on the preview's correlation token.
type Executor struct {
	cfg      Config
	router   *router.Router
	repo     persistence.Repository
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config, r *router.Router, repo persistence.Repository, rec *metrics.Recorder, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		router:   r,
		repo:     repo,
		recorder: rec,
		logger:   logger.With("component", "executor"),
	}
}

// Preview resolves the owning adapter, asks it for an estimate, and
// persists the resolved spec under a fresh preview id. The correlation
// token is minted here so the eventual placement can be found again even if
// the submission outcome is lost.
func (e *Executor) Preview(ctx context.Context, spec types.OrderSpec) (string, *types.Estimate, error) {
	adapter, err := e.router.Resolve(ctx, spec.AccountID)
	if err != nil {
		return "", nil, err
	}

	if spec.CorrelationToken == "" {
		spec.CorrelationToken = uuid.NewString()
	}

	est, err := adapter.PreviewOrder(ctx, spec)
	if err != nil {
		e.recorder.RecordError("preview")
		return "", nil, err
	}

	previewID := uuid.NewString()
	if err := e.repo.SavePreview(ctx, persistence.Preview{
		ID:             previewID,
		Spec:           est.ResolvedSpec,
		EstimatedValue: est.EstimatedValue,
		Commission:     est.Commission,
		ReferencePrice: est.ReferencePrice,
		CreatedAt:      est.CreatedAt,
	}); err != nil {
		return "", nil, fmt.Errorf("persist preview: %w", err)
	}

	e.logger.Info("order previewed",
		"preview_id", previewID,
		"account", est.ResolvedSpec.AccountID,
		"ticker", est.ResolvedSpec.Instrument.Ticker,
		"estimated_value", est.EstimatedValue,
	)
	return previewID, est, nil
}

// Place submits the order a preview described. The persisted spec is used
// verbatim; the adapter independently re-verifies the instrument identity
// before anything reaches the venue.
func (e *Executor) Place(ctx context.Context, previewID string) (*types.OrderRecord, error) {
	preview, err := e.repo.GetPreview(ctx, previewID)
	if err != nil {
		return nil, err
	}
	if preview == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrPreviewNotFound, previewID)
	}
	if e.cfg.PreviewTTL > 0 && time.Since(preview.CreatedAt) > e.cfg.PreviewTTL {
		return nil, fmt.Errorf("%w: %s expired", types.ErrPreviewNotFound, previewID)
	}

	// A token that already has an attempt on file was placed before.
	// Return the known record instead of submitting a duplicate.
	if prior, err := e.repo.GetAttempt(ctx, preview.Spec.CorrelationToken); err != nil {
		return nil, err
	} else if prior != nil {
		e.logger.Warn("duplicate placement suppressed",
			"preview_id", previewID,
			"token", preview.Spec.CorrelationToken,
			"status", prior.Status,
		)
		return prior, nil
	}

	adapter, err := e.router.Resolve(ctx, preview.Spec.AccountID)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	record, err := adapter.PlaceOrder(ctx, preview.Spec)
	if err != nil {
		e.recorder.RecordError("place")
		return nil, err
	}
	timer.ObserveOrder()

	if serr := e.repo.SaveAttempt(ctx, *record); serr != nil {
		// The venue has the order; losing the local record must not
		// fail the placement.
		e.logger.Error("attempt persist failed", "token", record.CorrelationToken, "err", serr)
	}
	e.recorder.RecordOrder(record.Provider, record.Side.String(), record.Status.String())
	if record.Note != "" {
		e.recorder.RecordUncertainSubmission(record.Provider, record.VenueOrderID != "")
	}

	if record.Status == types.StatusExecuted || record.Status == types.StatusPartial {
		if rerr := adapter.PostTradeRefresh(ctx, record.AccountID); rerr != nil {
			e.logger.Warn("post-trade refresh failed", "account", record.AccountID, "err", rerr)
		}
	}

	return record, nil
}

// Cancel requests cancellation through the owning adapter and updates the
// stored attempt when one exists.
func (e *Executor) Cancel(ctx context.Context, accountID, venueOrderID string) (*types.OrderRecord, error) {
	adapter, err := e.router.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}

	record, err := adapter.CancelOrder(ctx, accountID, venueOrderID)
	if err != nil {
		e.recorder.RecordError("cancel")
		return nil, err
	}
	e.recorder.RecordCancel(record.Provider)

	if record.CorrelationToken != "" {
		if serr := e.repo.SaveAttempt(ctx, *record); serr != nil {
			e.logger.Error("attempt persist failed", "token", record.CorrelationToken, "err", serr)
		}
	}
	return record, nil
}

// Orders returns live order snapshots for an account through its adapter.
func (e *Executor) Orders(ctx context.Context, accountID string, filter types.OrderFilter) ([]types.OrderRecord, error) {
	adapter, err := e.router.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return adapter.ListOrders(ctx, accountID, filter)
}

// SweepPreviews deletes previews past their TTL.
func (e *Executor) SweepPreviews(ctx context.Context) error {
	if e.cfg.PreviewTTL <= 0 {
		return nil
	}
	n, err := e.repo.DeletePreviewsBefore(ctx, time.Now().Add(-e.cfg.PreviewTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Debug("expired previews swept", "count", n)
	}
	return nil
}

// IsRetryable reports whether a placement error may be retried by the
// caller with a fresh preview. Authorization and validation failures are
// permanent; connectivity failures are not.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, types.ErrConnectionUnavailable),
		errors.Is(err, types.ErrConnectTimeout):
		return true
	default:
		return false
	}
}
