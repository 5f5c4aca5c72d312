package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdk "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/brokerhub/internal/broker"
	"github.com/tathienbao/brokerhub/internal/status"
	"github.com/tathienbao/brokerhub/internal/types"
)

// ProviderName identifies this adapter in account routing.
const ProviderName = "alpaca"

// tradingClient is the slice of the SDK trading client this adapter uses.
type tradingClient interface {
	GetAccount() (*sdk.Account, error)
	GetAsset(symbol string) (*sdk.Asset, error)
	PlaceOrder(req sdk.PlaceOrderRequest) (*sdk.Order, error)
	GetOrders(req sdk.GetOrdersRequest) ([]sdk.Order, error)
	GetOrderByClientOrderID(clientOrderID string) (*sdk.Order, error)
	GetOrder(orderID string) (*sdk.Order, error)
	CancelOrder(orderID string) error
}

// quoteClient provides reference prices for previews.
type quoteClient interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
}

// Adapter implements broker.Adapter over the Alpaca REST trading API. Every
// operation is a self-contained request/response pair; there is no session
// to supervise and no serialization across callers.
type Adapter struct {
	cfg        Config
	client     tradingClient
	quotes     quoteClient
	translator *status.Translator
	logger     *slog.Logger
	allow      broker.AllowList

	acctMu    sync.RWMutex
	accountID string // venue account id, cached after first lookup
	acctNum   string // human account number, accepted as an alias
}

// New builds an adapter from config. No network call happens here; account
// identity is fetched lazily on first use.
func New(cfg Config, logger *slog.Logger) *Adapter {
	tc := sdk.NewClient(sdk.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	mdOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataBaseURL != "" {
		mdOpts.BaseURL = cfg.DataBaseURL
	}
	return &Adapter{
		cfg:        cfg,
		client:     tc,
		quotes:     marketdata.NewClient(mdOpts),
		translator: status.NewTranslator(ProviderName, StatusTable(), logger),
		logger:     logger.With("adapter", ProviderName),
		allow:      broker.AllowList(cfg.AllowedAccounts),
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string { return ProviderName }

// Owns reports whether the configured credential owns the account. The
// allow-list is checked before the venue answer: an account missing from a
// non-empty allow-list is denied even when the credential owns it.
func (a *Adapter) Owns(ctx context.Context, accountID string) bool {
	if !a.allow.Permits(accountID) {
		return false
	}

	a.acctMu.RLock()
	id, num := a.accountID, a.acctNum
	a.acctMu.RUnlock()
	if id == "" {
		if err := a.refreshAccount(ctx); err != nil {
			a.logger.Warn("account lookup failed during ownership check", "err", err)
			return false
		}
		a.acctMu.RLock()
		id, num = a.accountID, a.acctNum
		a.acctMu.RUnlock()
	}
	return accountID == id || accountID == num
}

func (a *Adapter) refreshAccount(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	acct, err := a.client.GetAccount()
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	a.acctMu.Lock()
	a.accountID = acct.ID
	a.acctNum = acct.AccountNumber
	a.acctMu.Unlock()
	return nil
}

// ListAccounts returns the single account behind the credential, subject to
// the allow-list.
func (a *Adapter) ListAccounts(ctx context.Context) ([]types.BrokerAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := a.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.acctMu.Lock()
	a.accountID = acct.ID
	a.acctNum = acct.AccountNumber
	a.acctMu.Unlock()

	if !a.allow.Permits(acct.ID) && !a.allow.Permits(acct.AccountNumber) {
		return nil, nil
	}
	return []types.BrokerAccount{{
		ID:        acct.ID,
		Provider:  ProviderName,
		Name:      acct.AccountNumber,
		Brokerage: "Alpaca",
		Cash:      acct.Cash,
		Currency:  acct.Currency,
	}}, nil
}

// ResolveInstrument resolves a ticker to the venue's asset identity. The
// asset UUID is the venue-unique key; tickers get remapped across corporate
// actions, the UUID does not.
func (a *Adapter) ResolveInstrument(ctx context.Context, accountID, ticker string) (types.InstrumentIdentity, error) {
	if !a.Owns(ctx, accountID) {
		return types.InstrumentIdentity{}, types.ErrUnauthorizedAccount
	}
	return a.resolve(ctx, ticker)
}

func (a *Adapter) resolve(ctx context.Context, ticker string) (types.InstrumentIdentity, error) {
	if err := ctx.Err(); err != nil {
		return types.InstrumentIdentity{}, err
	}
	asset, err := a.client.GetAsset(ticker)
	if err != nil {
		return types.InstrumentIdentity{}, fmt.Errorf("%w: %s: %v", types.ErrInstrumentNotFound, ticker, err)
	}
	if !asset.Tradable {
		return types.InstrumentIdentity{}, fmt.Errorf("%w: %s is not tradable", types.ErrInstrumentNotFound, ticker)
	}
	return types.InstrumentIdentity{
		Ticker:   asset.Symbol,
		VenueKey: asset.ID,
		Exchange: asset.Exchange,
		Currency: "USD",
	}, nil
}

// PreviewOrder resolves the instrument, pulls a reference price, and returns
// an estimate. Nothing is sent to the order endpoint.
func (a *Adapter) PreviewOrder(ctx context.Context, spec types.OrderSpec) (*types.Estimate, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if !a.Owns(ctx, spec.AccountID) {
		return nil, types.ErrUnauthorizedAccount
	}

	identity, err := a.resolve(ctx, spec.Instrument.Ticker)
	if err != nil {
		return nil, err
	}

	ref := spec.LimitPrice
	if trade, qerr := a.quotes.GetLatestTrade(identity.Ticker, marketdata.GetLatestTradeRequest{}); qerr == nil {
		ref = decimal.NewFromFloat(trade.Price)
	} else {
		a.logger.Warn("reference price unavailable, falling back to limit price",
			"ticker", identity.Ticker, "err", qerr)
	}

	resolved := spec
	resolved.Instrument = identity

	return &types.Estimate{
		ResolvedSpec:   resolved,
		EstimatedValue: ref.Mul(spec.Quantity),
		Commission:     decimal.Zero,
		ReferencePrice: ref,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// PlaceOrder submits the order with the correlation token as the venue's
// client order id. The REST call is synchronous: a non-error response is the
// venue's authoritative snapshot. A transport failure leaves the outcome
// unknown, so the token is probed before the attempt is reported PENDING.
func (a *Adapter) PlaceOrder(ctx context.Context, spec types.OrderSpec) (*types.OrderRecord, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if a.cfg.ReadOnly {
		return nil, types.ErrReadOnlyVenue
	}
	if !a.Owns(ctx, spec.AccountID) {
		return nil, types.ErrUnauthorizedAccount
	}

	fresh, err := a.resolve(ctx, spec.Instrument.Ticker)
	if err != nil {
		return nil, err
	}
	if spec.Instrument.VenueKey != "" && !spec.Instrument.SameInstrument(fresh) {
		a.logger.Error("instrument identity changed since preview",
			"ticker", spec.Instrument.Ticker,
			"previewed", spec.Instrument.VenueKey,
			"resolved", fresh.VenueKey,
		)
		return nil, types.ErrInstrumentMismatch
	}

	qty := spec.Quantity
	req := sdk.PlaceOrderRequest{
		Symbol:        fresh.Ticker,
		Qty:           &qty,
		Side:          toVenueSide(spec.Side),
		Type:          toVenueType(spec.OrderType),
		TimeInForce:   toVenueTIF(spec.TimeInForce),
		ClientOrderID: spec.CorrelationToken,
	}
	if spec.LimitPrice.IsPositive() {
		p := spec.LimitPrice
		req.LimitPrice = &p
	}
	if spec.StopPrice.IsPositive() {
		p := spec.StopPrice
		req.StopPrice = &p
	}

	order, err := a.client.PlaceOrder(req)
	if err != nil {
		var apiErr *sdk.APIError
		if errors.As(err, &apiErr) {
			// The venue answered: the order was not created.
			return nil, fmt.Errorf("%w: %s", types.ErrVenueRejected, apiErr.Message)
		}
		// Transport failure: outcome unknown. Probe by token, never
		// blindly retry.
		a.logger.Warn("uncertain submission, running recovery probe",
			"token", spec.CorrelationToken, "err", err)
		return a.recoverUncertain(spec, err)
	}

	rec := a.recordFromOrder(order, spec.AccountID)
	a.logger.Info("order placed",
		"venue_order_id", rec.VenueOrderID,
		"account", spec.AccountID,
		"ticker", rec.Ticker,
		"side", spec.Side,
		"qty", spec.Quantity,
		"status", rec.Status,
	)
	return &rec, nil
}

// recoverUncertain looks the attempt up by its correlation token. A match
// adopts the venue snapshot; no match leaves a PENDING record for the next
// reconciliation pass.
func (a *Adapter) recoverUncertain(spec types.OrderSpec, cause error) (*types.OrderRecord, error) {
	now := time.Now().UTC()
	rec := types.OrderRecord{
		AccountID:        spec.AccountID,
		Provider:         ProviderName,
		Ticker:           spec.Instrument.Ticker,
		Side:             spec.Side,
		Status:           types.StatusPending,
		Quantity:         spec.Quantity,
		CorrelationToken: spec.CorrelationToken,
		Note:             "uncertain submission: " + cause.Error(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if spec.CorrelationToken == "" {
		return &rec, nil
	}

	order, err := a.client.GetOrderByClientOrderID(spec.CorrelationToken)
	if err != nil || order == nil {
		return &rec, nil
	}
	found := a.recordFromOrder(order, spec.AccountID)
	found.Note = "recovered by correlation token"
	a.logger.Info("recovery probe matched venue order",
		"venue_order_id", found.VenueOrderID,
		"token", spec.CorrelationToken,
		"status", found.Status,
	)
	return &found, nil
}

// ListOrders returns order snapshots, open by default plus closed orders
// when the filter asks for them.
func (a *Adapter) ListOrders(ctx context.Context, accountID string, filter types.OrderFilter) ([]types.OrderRecord, error) {
	if !a.Owns(ctx, accountID) {
		return nil, types.ErrUnauthorizedAccount
	}

	req := sdk.GetOrdersRequest{Status: "open", Limit: 500}
	if !filter.OpenOnly {
		req.Status = "all"
	}
	if !filter.Since.IsZero() {
		req.After = filter.Since
	}
	if filter.Ticker != "" {
		req.Symbols = []string{filter.Ticker}
	}

	orders, err := a.client.GetOrders(req)
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}

	records := make([]types.OrderRecord, 0, len(orders))
	for i := range orders {
		records = append(records, a.recordFromOrder(&orders[i], accountID))
	}
	return records, nil
}

// CancelOrder requests cancellation and returns the venue's snapshot. The
// cancel endpoint is asynchronous, so CANCEL_PENDING is the common answer.
func (a *Adapter) CancelOrder(ctx context.Context, accountID, venueOrderID string) (*types.OrderRecord, error) {
	if a.cfg.ReadOnly {
		return nil, types.ErrReadOnlyVenue
	}
	if !a.Owns(ctx, accountID) {
		return nil, types.ErrUnauthorizedAccount
	}

	if err := a.client.CancelOrder(venueOrderID); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", venueOrderID, err)
	}

	order, err := a.client.GetOrder(venueOrderID)
	if err != nil || order == nil {
		// Cancel was accepted; report it pending until the snapshot
		// confirms.
		now := time.Now().UTC()
		return &types.OrderRecord{
			VenueOrderID: venueOrderID,
			AccountID:    accountID,
			Provider:     ProviderName,
			Status:       types.StatusCancelPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}, nil
	}
	rec := a.recordFromOrder(order, accountID)
	a.logger.Info("cancel requested",
		"venue_order_id", venueOrderID, "status", rec.Status)
	return &rec, nil
}

// GetBalance returns the account's cash balance.
func (a *Adapter) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if !a.Owns(ctx, accountID) {
		return decimal.Zero, types.ErrUnauthorizedAccount
	}
	acct, err := a.client.GetAccount()
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account: %w", err)
	}
	return acct.Cash, nil
}

// PostTradeRefresh re-pulls the account snapshot so the cached identity and
// any caller-visible balance reflect the fill.
func (a *Adapter) PostTradeRefresh(ctx context.Context, accountID string) error {
	if !a.Owns(ctx, accountID) {
		return types.ErrUnauthorizedAccount
	}
	return a.refreshAccount(ctx)
}

// recordFromOrder converts a venue order into the common snapshot shape.
func (a *Adapter) recordFromOrder(o *sdk.Order, accountID string) types.OrderRecord {
	qty := decimal.Zero
	if o.Qty != nil {
		qty = *o.Qty
	}
	avg := decimal.Zero
	if o.FilledAvgPrice != nil {
		avg = *o.FilledAvgPrice
	}
	side := types.SideBuy
	if o.Side == sdk.Sell {
		side = types.SideSell
	}
	return types.OrderRecord{
		VenueOrderID:     o.ID,
		AccountID:        accountID,
		Provider:         ProviderName,
		Ticker:           o.Symbol,
		Side:             side,
		Status:           a.translator.Translate(string(o.Status), o.FilledQty, qty.Sub(o.FilledQty)),
		Quantity:         qty,
		FilledQuantity:   o.FilledQty,
		AvgFillPrice:     avg,
		Commission:       decimal.Zero,
		CorrelationToken: o.ClientOrderID,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toVenueSide(s types.Side) sdk.Side {
	if s == types.SideSell {
		return sdk.Sell
	}
	return sdk.Buy
}

func toVenueType(t types.OrderType) sdk.OrderType {
	switch t {
	case types.OrderTypeLimit:
		return sdk.Limit
	case types.OrderTypeStop:
		return sdk.Stop
	case types.OrderTypeStopLimit:
		return sdk.StopLimit
	default:
		return sdk.Market
	}
}

func toVenueTIF(t types.TimeInForce) sdk.TimeInForce {
	switch t {
	case types.TIFGTC:
		return sdk.GTC
	case types.TIFIOC:
		return sdk.IOC
	default:
		return sdk.Day
	}
}
