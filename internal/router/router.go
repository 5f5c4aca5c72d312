// Package router maps account identifiers to the venue adapter that owns
// them. Routing is by live ownership poll, optionally accelerated by a
// persisted provider hint that is always re-confirmed before use.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tathienbao/brokerhub/internal/broker"
	"github.com/tathienbao/brokerhub/internal/types"
)

// HintStore persists provider hints across restarts. Hints are an
// optimization only: a hint is never trusted without the adapter
// re-confirming ownership, and a stale hint is deleted on mismatch.
type HintStore interface {
	ProviderHint(ctx context.Context, accountID string) (string, error)
	SaveProviderHint(ctx context.Context, accountID, provider string) error
	DeleteProviderHint(ctx context.Context, accountID string) error
}

// Router resolves accounts to adapters. Registration happens at startup;
// Resolve is safe for concurrent use afterwards.
type Router struct {
	logger *slog.Logger
	hints  HintStore // nil means no hint acceleration

	mu       sync.RWMutex
	adapters map[string]broker.Adapter
	order    []string // registration order, makes polling deterministic
}

// New builds an empty router. hints may be nil.
func New(hints HintStore, logger *slog.Logger) *Router {
	return &Router{
		logger:   logger.With("component", "router"),
		hints:    hints,
		adapters: make(map[string]broker.Adapter),
	}
}

// Register adds an adapter under its provider name. Registering the same
// name twice replaces the previous adapter.
func (r *Router) Register(a broker.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Name()]; !ok {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

// Adapter returns the adapter registered under the provider name.
func (r *Router) Adapter(provider string) (broker.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	return a, ok
}

// Providers returns the registered provider names in registration order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve finds the adapter that owns the account. A persisted hint is
// tried first but only honored when the adapter re-confirms ownership;
// otherwise every adapter is polled in registration order. No owner means
// types.ErrNoAdapterForAccount.
func (r *Router) Resolve(ctx context.Context, accountID string) (broker.Adapter, error) {
	if hinted := r.resolveByHint(ctx, accountID); hinted != nil {
		return hinted, nil
	}

	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	for _, name := range names {
		a, ok := r.Adapter(name)
		if !ok {
			continue
		}
		if a.Owns(ctx, accountID) {
			r.saveHint(ctx, accountID, name)
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrNoAdapterForAccount, accountID)
}

func (r *Router) resolveByHint(ctx context.Context, accountID string) broker.Adapter {
	if r.hints == nil {
		return nil
	}
	provider, err := r.hints.ProviderHint(ctx, accountID)
	if err != nil || provider == "" {
		return nil
	}
	a, ok := r.Adapter(provider)
	if !ok {
		return nil
	}
	if !a.Owns(ctx, accountID) {
		// Stale hint: the account moved or the allow-list changed.
		r.logger.Warn("provider hint no longer confirms, dropping it",
			"account", accountID, "provider", provider)
		if derr := r.hints.DeleteProviderHint(ctx, accountID); derr != nil {
			r.logger.Warn("hint delete failed", "account", accountID, "err", derr)
		}
		return nil
	}
	return a
}

func (r *Router) saveHint(ctx context.Context, accountID, provider string) {
	if r.hints == nil {
		return
	}
	if err := r.hints.SaveProviderHint(ctx, accountID, provider); err != nil {
		r.logger.Warn("hint save failed", "account", accountID, "err", err)
	}
}

// ListAllAccounts aggregates accounts across every registered adapter.
// Adapters that fail are skipped with a warning so one unreachable venue
// does not hide the others.
func (r *Router) ListAllAccounts(ctx context.Context) []types.BrokerAccount {
	var all []types.BrokerAccount
	for _, name := range r.Providers() {
		a, ok := r.Adapter(name)
		if !ok {
			continue
		}
		accounts, err := a.ListAccounts(ctx)
		if err != nil {
			r.logger.Warn("account listing failed", "provider", name, "err", err)
			continue
		}
		all = append(all, accounts...)
	}
	return all
}
