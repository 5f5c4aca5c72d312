package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/brokerhub/internal/types"
)

// stubAdapter owns a fixed set of accounts and counts ownership probes.
type stubAdapter struct {
	name     string
	owned    map[string]bool
	ownsCall int
	accounts []types.BrokerAccount
	listErr  error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Owns(ctx context.Context, accountID string) bool {
	s.ownsCall++
	return s.owned[accountID]
}

func (s *stubAdapter) ListAccounts(ctx context.Context) ([]types.BrokerAccount, error) {
	return s.accounts, s.listErr
}

func (s *stubAdapter) ResolveInstrument(ctx context.Context, accountID, ticker string) (types.InstrumentIdentity, error) {
	return types.InstrumentIdentity{}, nil
}

func (s *stubAdapter) PreviewOrder(ctx context.Context, spec types.OrderSpec) (*types.Estimate, error) {
	return nil, nil
}

func (s *stubAdapter) PlaceOrder(ctx context.Context, spec types.OrderSpec) (*types.OrderRecord, error) {
	return nil, nil
}

func (s *stubAdapter) ListOrders(ctx context.Context, accountID string, filter types.OrderFilter) ([]types.OrderRecord, error) {
	return nil, nil
}

func (s *stubAdapter) CancelOrder(ctx context.Context, accountID, venueOrderID string) (*types.OrderRecord, error) {
	return nil, nil
}

func (s *stubAdapter) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s *stubAdapter) PostTradeRefresh(ctx context.Context, accountID string) error { return nil }

// memHints is an in-memory hint store.
type memHints struct {
	hints map[string]string
}

func newMemHints() *memHints { return &memHints{hints: map[string]string{}} }

func (m *memHints) ProviderHint(ctx context.Context, accountID string) (string, error) {
	return m.hints[accountID], nil
}

func (m *memHints) SaveProviderHint(ctx context.Context, accountID, provider string) error {
	m.hints[accountID] = provider
	return nil
}

func (m *memHints) DeleteProviderHint(ctx context.Context, accountID string) error {
	delete(m.hints, accountID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_PollsInRegistrationOrder(t *testing.T) {
	first := &stubAdapter{name: "first", owned: map[string]bool{}}
	second := &stubAdapter{name: "second", owned: map[string]bool{"U100": true}}

	r := New(nil, discardLogger())
	r.Register(first)
	r.Register(second)

	a, err := r.Resolve(context.Background(), "U100")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Name() != "second" {
		t.Errorf("resolved %q, want second", a.Name())
	}
	if first.ownsCall != 1 {
		t.Errorf("first adapter probed %d times, want 1", first.ownsCall)
	}
}

func TestResolve_NoOwner(t *testing.T) {
	r := New(nil, discardLogger())
	r.Register(&stubAdapter{name: "only", owned: map[string]bool{}})

	_, err := r.Resolve(context.Background(), "U999")
	if !errors.Is(err, types.ErrNoAdapterForAccount) {
		t.Fatalf("expected ErrNoAdapterForAccount, got %v", err)
	}
}

func TestResolve_SavesAndUsesHint(t *testing.T) {
	slow := &stubAdapter{name: "slow", owned: map[string]bool{}}
	owner := &stubAdapter{name: "owner", owned: map[string]bool{"U100": true}}
	hints := newMemHints()

	r := New(hints, discardLogger())
	r.Register(slow)
	r.Register(owner)

	if _, err := r.Resolve(context.Background(), "U100"); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if hints.hints["U100"] != "owner" {
		t.Fatalf("hint = %q, want owner", hints.hints["U100"])
	}

	// Second resolve goes straight to the hinted adapter; the slow one is
	// never probed again.
	slowCalls := slow.ownsCall
	if _, err := r.Resolve(context.Background(), "U100"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if slow.ownsCall != slowCalls {
		t.Errorf("hinted resolve probed the non-owner adapter")
	}
}

func TestResolve_StaleHintReconfirmedAndDropped(t *testing.T) {
	former := &stubAdapter{name: "former", owned: map[string]bool{}}
	current := &stubAdapter{name: "current", owned: map[string]bool{"U100": true}}
	hints := newMemHints()
	hints.hints["U100"] = "former" // stale

	r := New(hints, discardLogger())
	r.Register(former)
	r.Register(current)

	a, err := r.Resolve(context.Background(), "U100")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Name() != "current" {
		t.Errorf("resolved %q, want current", a.Name())
	}
	if hints.hints["U100"] != "current" {
		t.Errorf("hint = %q, want refreshed to current", hints.hints["U100"])
	}
}

func TestResolve_HintForUnknownProviderIgnored(t *testing.T) {
	owner := &stubAdapter{name: "owner", owned: map[string]bool{"U100": true}}
	hints := newMemHints()
	hints.hints["U100"] = "unregistered"

	r := New(hints, discardLogger())
	r.Register(owner)

	a, err := r.Resolve(context.Background(), "U100")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Name() != "owner" {
		t.Errorf("resolved %q, want owner", a.Name())
	}
}

func TestRegister_ReplacesSameName(t *testing.T) {
	old := &stubAdapter{name: "venue", owned: map[string]bool{}}
	replacement := &stubAdapter{name: "venue", owned: map[string]bool{"U1": true}}

	r := New(nil, discardLogger())
	r.Register(old)
	r.Register(replacement)

	if got := r.Providers(); len(got) != 1 {
		t.Fatalf("providers = %v, want single entry", got)
	}
	a, err := r.Resolve(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a != replacement {
		t.Error("expected replacement adapter to win")
	}
}

func TestListAllAccounts_SkipsFailingAdapter(t *testing.T) {
	healthy := &stubAdapter{
		name:     "healthy",
		accounts: []types.BrokerAccount{{ID: "U1", Provider: "healthy"}},
	}
	broken := &stubAdapter{name: "broken", listErr: errors.New("venue down")}

	r := New(nil, discardLogger())
	r.Register(broken)
	r.Register(healthy)

	accounts := r.ListAllAccounts(context.Background())
	if len(accounts) != 1 || accounts[0].ID != "U1" {
		t.Fatalf("accounts = %+v", accounts)
	}
}
