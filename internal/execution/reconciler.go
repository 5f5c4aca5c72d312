package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/tathienbao/brokerhub/internal/metrics"
	"github.com/tathienbao/brokerhub/internal/persistence"
	"github.com/tathienbao/brokerhub/internal/router"
	"github.com/tathienbao/brokerhub/internal/types"
)

// Reconciler periodically re-checks attempts whose status is not terminal
// against the venue's view. Uncertain submissions are matched by their
// correlation token; a submission that never reached the venue is marked
// FAILED after the grace window, never resubmitted.
type Reconciler struct {
	interval time.Duration
	grace    time.Duration
	router   *router.Router
	repo     persistence.Repository
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewReconciler creates a reconciler. interval is how often the pass runs;
// grace is how long an unmatched uncertain attempt stays PENDING before it
// is declared FAILED.
func NewReconciler(interval, grace time.Duration, r *router.Router, repo persistence.Repository, rec *metrics.Recorder, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		interval: interval,
		grace:    grace,
		router:   r,
		repo:     repo,
		recorder: rec,
		logger:   logger.With("component", "reconciler"),
	}
}

// Run executes passes until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				r.logger.Error("reconciliation pass failed", "err", err)
				r.recorder.RecordReconciliation("error")
			}
		}
	}
}

// Pass runs a single reconciliation sweep.
func (r *Reconciler) Pass(ctx context.Context) error {
	attempts, err := r.repo.UnresolvedAttempts(ctx)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		r.recorder.RecordReconciliation("clean")
		return nil
	}

	updated := 0
	for _, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.reconcileOne(ctx, attempt) {
			updated++
		}
	}

	r.logger.Info("reconciliation pass complete",
		"attempts", len(attempts), "updated", updated)
	if updated > 0 {
		r.recorder.RecordReconciliation("updated")
	} else {
		r.recorder.RecordReconciliation("clean")
	}
	return nil
}

// reconcileOne refreshes one attempt and reports whether it changed.
func (r *Reconciler) reconcileOne(ctx context.Context, attempt types.OrderRecord) bool {
	adapter, err := r.router.Resolve(ctx, attempt.AccountID)
	if err != nil {
		r.logger.Warn("attempt unroutable, leaving for next pass",
			"token", attempt.CorrelationToken, "err", err)
		return false
	}

	orders, err := adapter.ListOrders(ctx, attempt.AccountID, types.OrderFilter{})
	if err != nil {
		r.logger.Warn("venue listing failed during reconciliation",
			"provider", adapter.Name(), "err", err)
		return false
	}

	for _, o := range orders {
		if o.CorrelationToken != attempt.CorrelationToken {
			continue
		}
		if o.Status == attempt.Status && o.FilledQuantity.Equal(attempt.FilledQuantity) {
			return false
		}
		if !attempt.Status.CanTransition(o.Status) && o.Status != attempt.Status {
			r.logger.Warn("venue reports a backward status, keeping local",
				"token", attempt.CorrelationToken,
				"local", attempt.Status, "venue", o.Status)
			return false
		}
		o.Note = attempt.Note
		o.CreatedAt = attempt.CreatedAt
		if err := r.repo.SaveAttempt(ctx, o); err != nil {
			r.logger.Error("attempt update failed", "token", o.CorrelationToken, "err", err)
			return false
		}
		r.logger.Info("attempt reconciled",
			"token", o.CorrelationToken,
			"from", attempt.Status, "to", o.Status)
		return true
	}

	// Not at the venue. An uncertain submission past the grace window
	// never made it: close it out as FAILED so callers stop waiting.
	if attempt.Status == types.StatusPending && time.Since(attempt.CreatedAt) > r.grace {
		attempt.Status = types.StatusFailed
		attempt.UpdatedAt = time.Now().UTC()
		if attempt.Note == "" {
			attempt.Note = "not found at venue after grace window"
		}
		if err := r.repo.SaveAttempt(ctx, attempt); err != nil {
			r.logger.Error("attempt update failed", "token", attempt.CorrelationToken, "err", err)
			return false
		}
		r.logger.Warn("attempt declared failed",
			"token", attempt.CorrelationToken, "age", time.Since(attempt.CreatedAt))
		return true
	}
	return false
}
