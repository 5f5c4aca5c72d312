package alpaca

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdk "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/brokerhub/internal/broker"
	"github.com/tathienbao/brokerhub/internal/status"
	"github.com/tathienbao/brokerhub/internal/types"
)

type fakeTrading struct {
	account *sdk.Account
	acctErr error

	assets map[string]*sdk.Asset

	placed   []sdk.PlaceOrderRequest
	placeErr error
	order    *sdk.Order

	orders    []sdk.Order
	ordersErr error

	byClientID map[string]*sdk.Order
	byID       map[string]*sdk.Order

	cancelled []string
	cancelErr error
}

func (f *fakeTrading) GetAccount() (*sdk.Account, error) {
	return f.account, f.acctErr
}

func (f *fakeTrading) GetAsset(symbol string) (*sdk.Asset, error) {
	a, ok := f.assets[symbol]
	if !ok {
		return nil, &sdk.APIError{Code: 40410000, Message: "asset not found"}
	}
	return a, nil
}

func (f *fakeTrading) PlaceOrder(req sdk.PlaceOrderRequest) (*sdk.Order, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.order, nil
}

func (f *fakeTrading) GetOrders(req sdk.GetOrdersRequest) ([]sdk.Order, error) {
	return f.orders, f.ordersErr
}

func (f *fakeTrading) GetOrderByClientOrderID(clientOrderID string) (*sdk.Order, error) {
	o, ok := f.byClientID[clientOrderID]
	if !ok {
		return nil, &sdk.APIError{Code: 40410000, Message: "order not found"}
	}
	return o, nil
}

func (f *fakeTrading) GetOrder(orderID string) (*sdk.Order, error) {
	o, ok := f.byID[orderID]
	if !ok {
		return nil, &sdk.APIError{Code: 40410000, Message: "order not found"}
	}
	return o, nil
}

func (f *fakeTrading) CancelOrder(orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

type fakeQuotes struct {
	price float64
	err   error
}

func (f *fakeQuotes) GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &marketdata.Trade{Price: f.price}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseTrading() *fakeTrading {
	return &fakeTrading{
		account: &sdk.Account{
			ID:            "acct-uuid-1",
			AccountNumber: "PA3XXXXX",
			Currency:      "USD",
			Cash:          decimal.RequireFromString("25000.50"),
		},
		assets: map[string]*sdk.Asset{
			"AAPL": {ID: "asset-aapl", Symbol: "AAPL", Exchange: "NASDAQ", Tradable: true},
			"HALT": {ID: "asset-halt", Symbol: "HALT", Exchange: "NYSE", Tradable: false},
		},
		byClientID: map[string]*sdk.Order{},
		byID:       map[string]*sdk.Order{},
	}
}

func newTestAdapter(t *testing.T, tc *fakeTrading, qc quoteClient, cfg Config) *Adapter {
	t.Helper()
	if qc == nil {
		qc = &fakeQuotes{price: 187.50}
	}
	logger := discardLogger()
	return &Adapter{
		cfg:        cfg,
		client:     tc,
		quotes:     qc,
		translator: status.NewTranslator(ProviderName, StatusTable(), logger),
		logger:     logger,
		allow:      broker.AllowList(cfg.AllowedAccounts),
	}
}

func marketSpec() types.OrderSpec {
	return types.OrderSpec{
		AccountID:        "acct-uuid-1",
		Instrument:       types.InstrumentIdentity{Ticker: "AAPL"},
		Side:             types.SideBuy,
		Quantity:         decimal.NewFromInt(10),
		OrderType:        types.OrderTypeMarket,
		TimeInForce:      types.TIFDay,
		CorrelationToken: "tok-42",
	}
}

func venueOrder(status string) *sdk.Order {
	qty := decimal.NewFromInt(10)
	return &sdk.Order{
		ID:            "ord-1",
		ClientOrderID: "tok-42",
		Symbol:        "AAPL",
		Side:          sdk.Buy,
		Qty:           &qty,
		FilledQty:     decimal.Zero,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func TestOwns_AcceptsIDAndNumber(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{})
	ctx := context.Background()

	if !a.Owns(ctx, "acct-uuid-1") {
		t.Error("expected ownership by account id")
	}
	if !a.Owns(ctx, "PA3XXXXX") {
		t.Error("expected ownership by account number")
	}
	if a.Owns(ctx, "someone-else") {
		t.Error("expected foreign account to be denied")
	}
}

func TestOwns_AllowListDeniesOwnedAccount(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{AllowedAccounts: []string{"other"}})

	if a.Owns(context.Background(), "acct-uuid-1") {
		t.Error("allow-list must deny an account it does not name, even when owned")
	}
}

func TestListAccounts(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{})

	accounts, err := a.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	got := accounts[0]
	if got.ID != "acct-uuid-1" || got.Provider != ProviderName {
		t.Errorf("unexpected account %+v", got)
	}
	if !got.Cash.Equal(decimal.RequireFromString("25000.50")) {
		t.Errorf("cash = %s", got.Cash)
	}
}

func TestResolveInstrument_NotTradable(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{})

	_, err := a.ResolveInstrument(context.Background(), "acct-uuid-1", "HALT")
	if !errors.Is(err, types.ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestPreviewOrder(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), &fakeQuotes{price: 187.50}, Config{})

	est, err := a.PreviewOrder(context.Background(), marketSpec())
	if err != nil {
		t.Fatalf("PreviewOrder: %v", err)
	}
	if est.ResolvedSpec.Instrument.VenueKey != "asset-aapl" {
		t.Errorf("venue key = %q", est.ResolvedSpec.Instrument.VenueKey)
	}
	if !est.ReferencePrice.Equal(decimal.RequireFromString("187.5")) {
		t.Errorf("reference price = %s", est.ReferencePrice)
	}
	if !est.EstimatedValue.Equal(decimal.RequireFromString("1875")) {
		t.Errorf("estimated value = %s", est.EstimatedValue)
	}
	if !est.Commission.IsZero() {
		t.Errorf("commission = %s, venue is commission-free", est.Commission)
	}
}

func TestPreviewOrder_QuoteFailureFallsBackToLimit(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), &fakeQuotes{err: errors.New("feed down")}, Config{})

	spec := marketSpec()
	spec.OrderType = types.OrderTypeLimit
	spec.LimitPrice = decimal.RequireFromString("180")

	est, err := a.PreviewOrder(context.Background(), spec)
	if err != nil {
		t.Fatalf("PreviewOrder: %v", err)
	}
	if !est.ReferencePrice.Equal(decimal.RequireFromString("180")) {
		t.Errorf("reference price = %s, want limit fallback", est.ReferencePrice)
	}
}

func TestPlaceOrder_Happy(t *testing.T) {
	tc := baseTrading()
	tc.order = venueOrder("new")
	a := newTestAdapter(t, tc, nil, Config{})

	rec, err := a.PlaceOrder(context.Background(), marketSpec())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if rec.Status != types.StatusAccepted {
		t.Errorf("status = %v, want ACCEPTED", rec.Status)
	}
	if rec.VenueOrderID != "ord-1" {
		t.Errorf("venue order id = %q", rec.VenueOrderID)
	}
	if len(tc.placed) != 1 {
		t.Fatalf("expected 1 placement, got %d", len(tc.placed))
	}
	if tc.placed[0].ClientOrderID != "tok-42" {
		t.Errorf("client order id = %q, want correlation token", tc.placed[0].ClientOrderID)
	}
}

func TestPlaceOrder_VenueRejection(t *testing.T) {
	tc := baseTrading()
	tc.placeErr = &sdk.APIError{Code: 42210000, Message: "insufficient buying power"}
	a := newTestAdapter(t, tc, nil, Config{})

	_, err := a.PlaceOrder(context.Background(), marketSpec())
	if !errors.Is(err, types.ErrVenueRejected) {
		t.Fatalf("expected ErrVenueRejected, got %v", err)
	}
}

func TestPlaceOrder_UncertainRecovered(t *testing.T) {
	tc := baseTrading()
	tc.placeErr = errors.New("connection reset by peer")
	filled := venueOrder("filled")
	filled.FilledQty = decimal.NewFromInt(10)
	tc.byClientID["tok-42"] = filled
	a := newTestAdapter(t, tc, nil, Config{})

	rec, err := a.PlaceOrder(context.Background(), marketSpec())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if rec.Status != types.StatusExecuted {
		t.Errorf("status = %v, want EXECUTED from recovery probe", rec.Status)
	}
	if rec.Note != "recovered by correlation token" {
		t.Errorf("note = %q", rec.Note)
	}
}

func TestPlaceOrder_UncertainUnmatched(t *testing.T) {
	tc := baseTrading()
	tc.placeErr = errors.New("connection reset by peer")
	a := newTestAdapter(t, tc, nil, Config{})

	rec, err := a.PlaceOrder(context.Background(), marketSpec())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if rec.Status != types.StatusPending {
		t.Errorf("status = %v, want PENDING", rec.Status)
	}
	if rec.Note == "" {
		t.Error("expected an uncertain-submission note")
	}
	if len(tc.placed) != 1 {
		t.Errorf("uncertain attempt must never be retried, got %d placements", len(tc.placed))
	}
}

func TestPlaceOrder_InstrumentMismatch(t *testing.T) {
	tc := baseTrading()
	a := newTestAdapter(t, tc, nil, Config{})

	spec := marketSpec()
	spec.Instrument.VenueKey = "asset-stale"

	_, err := a.PlaceOrder(context.Background(), spec)
	if !errors.Is(err, types.ErrInstrumentMismatch) {
		t.Fatalf("expected ErrInstrumentMismatch, got %v", err)
	}
	if len(tc.placed) != 0 {
		t.Error("no order may reach the venue on an identity mismatch")
	}
}

func TestPlaceOrder_ReadOnly(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{ReadOnly: true})

	_, err := a.PlaceOrder(context.Background(), marketSpec())
	if !errors.Is(err, types.ErrReadOnlyVenue) {
		t.Fatalf("expected ErrReadOnlyVenue, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	tc := baseTrading()
	tc.byID["ord-1"] = venueOrder("pending_cancel")
	a := newTestAdapter(t, tc, nil, Config{})

	rec, err := a.CancelOrder(context.Background(), "acct-uuid-1", "ord-1")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if rec.Status != types.StatusCancelPending {
		t.Errorf("status = %v, want CANCEL_PENDING", rec.Status)
	}
	if len(tc.cancelled) != 1 || tc.cancelled[0] != "ord-1" {
		t.Errorf("cancelled = %v", tc.cancelled)
	}
}

func TestCancelOrder_SnapshotUnavailable(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{})

	rec, err := a.CancelOrder(context.Background(), "acct-uuid-1", "ord-9")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if rec.Status != types.StatusCancelPending {
		t.Errorf("status = %v, want CANCEL_PENDING pending confirmation", rec.Status)
	}
}

func TestListOrders_StatusTranslation(t *testing.T) {
	tc := baseTrading()
	qty := decimal.NewFromInt(10)
	tc.orders = []sdk.Order{
		{ID: "o1", Symbol: "AAPL", Qty: &qty, FilledQty: decimal.NewFromInt(4), Status: "new"},
		{ID: "o2", Symbol: "AAPL", Qty: &qty, FilledQty: decimal.NewFromInt(10), Status: "filled"},
	}
	a := newTestAdapter(t, tc, nil, Config{})

	records, err := a.ListOrders(context.Background(), "acct-uuid-1", types.OrderFilter{})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Partially filled beats the literal status.
	if records[0].Status != types.StatusPartial {
		t.Errorf("records[0].Status = %v, want PARTIAL", records[0].Status)
	}
	if records[1].Status != types.StatusExecuted {
		t.Errorf("records[1].Status = %v, want EXECUTED", records[1].Status)
	}
}

func TestGetBalance(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{})

	cash, err := a.GetBalance(context.Background(), "acct-uuid-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !cash.Equal(decimal.RequireFromString("25000.50")) {
		t.Errorf("cash = %s", cash)
	}
}

func TestGetBalance_Unauthorized(t *testing.T) {
	a := newTestAdapter(t, baseTrading(), nil, Config{})

	_, err := a.GetBalance(context.Background(), "intruder")
	if !errors.Is(err, types.ErrUnauthorizedAccount) {
		t.Fatalf("expected ErrUnauthorizedAccount, got %v", err)
	}
}
