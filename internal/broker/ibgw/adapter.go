package ibgw

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/brokerhub/internal/broker"
	"github.com/tathienbao/brokerhub/internal/status"
	"github.com/tathienbao/brokerhub/internal/supervisor"
	"github.com/tathienbao/brokerhub/internal/types"
)

// ProviderName identifies this adapter in the router registry.
const ProviderName = "ibgw"

// gatewaySession is the slice of Session the adapter consumes. Tests
// substitute a scripted implementation.
type gatewaySession interface {
	ManagedAccounts() []string
	AccountSummaries(ctx context.Context) (map[string]AccountSummary, error)
	ContractDetails(ctx context.Context, ticker string) (Contract, error)
	Snapshot(ctx context.Context, c Contract) (decimal.Decimal, error)
	NextOrderID() int64
	PlaceOrder(ctx context.Context, orderID int64, c Contract, o WireOrder) error
	CancelOrder(ctx context.Context, orderID int64) error
	WaitOrderStatus(ctx context.Context, orderID int64, timeout time.Duration) (OrderUpdate, bool)
	LastOrderUpdate(orderID int64) (OrderUpdate, bool)
	OpenOrders(ctx context.Context) ([]OrderUpdate, error)
	CompletedOrders(ctx context.Context) ([]OrderUpdate, error)
}

// ensureFunc obtains a live session, connecting if needed.
type ensureFunc func(ctx context.Context) (gatewaySession, error)

// Adapter is the stateful gateway venue adapter. The single session handle
// is not safe for interleaved blocking calls, so every gateway-facing
// method serializes through one mutex: correctness over throughput.
type Adapter struct {
	cfg        Config
	sup        *supervisor.Supervisor
	translator *status.Translator
	logger     *slog.Logger
	allow      broker.AllowList

	ensure ensureFunc

	mu sync.Mutex // serializes all gateway calls

	acctMu         sync.RWMutex
	cachedAccounts []string
}

var _ broker.Adapter = (*Adapter)(nil)

// sessionDialer bridges the concrete Dialer into the supervisor contract.
type sessionDialer struct {
	d *Dialer
}

func (sd sessionDialer) Dial(ctx context.Context) (supervisor.Session, error) {
	return sd.d.Dial(ctx)
}

// New creates the gateway adapter. The supervisor instance is owned by the
// process dependency graph and injected here, never a package singleton.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", ProviderName)

	sup := supervisor.New(supervisor.Config{
		ConnectTimeout:     cfg.ConnectTimeout,
		ReconnectBaseDelay: cfg.ReconnectBaseDelay,
		MaxReconnectTries:  cfg.MaxReconnectTries,
	}, sessionDialer{d: NewDialer(cfg, logger)}, logger)

	a := &Adapter{
		cfg:        cfg,
		sup:        sup,
		translator: status.NewTranslator(ProviderName, StatusTable(), logger),
		logger:     logger,
		allow:      broker.AllowList(cfg.AllowedAccounts),
	}
	a.ensure = func(ctx context.Context) (gatewaySession, error) {
		sess, err := sup.Ensure(ctx)
		if err != nil {
			return nil, err
		}
		return sess.(*Session), nil
	}
	return a
}

// Name returns "ibgw".
func (a *Adapter) Name() string { return ProviderName }

// Supervisor exposes the connection supervisor for health checks.
func (a *Adapter) Supervisor() *supervisor.Supervisor { return a.sup }

// Shutdown tears the gateway session down deliberately.
func (a *Adapter) Shutdown() error { return a.sup.Disconnect() }

// Owns reports account ownership. The gateway session exposes every
// account the credential manages, so a configured non-empty allow-list is
// checked first and an absent account is never owned regardless of
// gateway-reported presence.
func (a *Adapter) Owns(ctx context.Context, accountID string) bool {
	if !a.allow.Permits(accountID) {
		return false
	}

	a.acctMu.RLock()
	cached := a.cachedAccounts
	a.acctMu.RUnlock()

	if len(cached) == 0 {
		refreshed, err := a.refreshAccounts(ctx)
		if err != nil {
			a.logger.Warn("ownership check could not reach gateway", "account", accountID, "err", err)
			return false
		}
		cached = refreshed
	}

	for _, id := range cached {
		if id == accountID {
			return true
		}
	}
	return false
}

func (a *Adapter) refreshAccounts(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}
	accounts := sess.ManagedAccounts()

	a.acctMu.Lock()
	a.cachedAccounts = accounts
	a.acctMu.Unlock()
	return accounts, nil
}

// ListAccounts returns the gateway-reported accounts that pass the
// allow-list, with cash balances attached.
func (a *Adapter) ListAccounts(ctx context.Context) ([]types.BrokerAccount, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}

	accounts := sess.ManagedAccounts()
	a.acctMu.Lock()
	a.cachedAccounts = accounts
	a.acctMu.Unlock()

	summaries, err := sess.AccountSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("account summaries: %w", err)
	}

	var out []types.BrokerAccount
	for _, id := range accounts {
		if !a.allow.Permits(id) {
			continue
		}
		acct := types.BrokerAccount{
			ID:        id,
			Provider:  ProviderName,
			Name:      id,
			Brokerage: "Interactive Brokers",
		}
		if sum, ok := summaries[id]; ok {
			acct.Cash = sum.Cash
			acct.Currency = sum.Currency
		}
		out = append(out, acct)
	}
	return out, nil
}

// ResolveInstrument resolves a ticker to the venue contract id.
func (a *Adapter) ResolveInstrument(ctx context.Context, accountID, ticker string) (types.InstrumentIdentity, error) {
	if !a.Owns(ctx, accountID) {
		return types.InstrumentIdentity{}, types.ErrUnauthorizedAccount
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolveLocked(ctx, ticker)
}

func (a *Adapter) resolveLocked(ctx context.Context, ticker string) (types.InstrumentIdentity, error) {
	sess, err := a.ensure(ctx)
	if err != nil {
		return types.InstrumentIdentity{}, err
	}

	c, err := sess.ContractDetails(ctx, ticker)
	if err != nil {
		return types.InstrumentIdentity{}, fmt.Errorf("%w: %v", types.ErrInstrumentNotFound, err)
	}
	return types.InstrumentIdentity{
		Ticker:   ticker,
		VenueKey: c.ConID,
		Exchange: c.Exchange,
		Currency: c.Currency,
	}, nil
}

func contractFromIdentity(id types.InstrumentIdentity) Contract {
	return Contract{
		ConID:    id.VenueKey,
		Symbol:   id.Ticker,
		SecType:  "STK",
		Exchange: id.Exchange,
		Currency: id.Currency,
	}
}

// PreviewOrder is side-effect-free and stateless: the gateway holds no
// linkage between this preview and a later placement, so the resolved spec
// is returned in full for the caller to round-trip into PlaceOrder.
func (a *Adapter) PreviewOrder(ctx context.Context, spec types.OrderSpec) (*types.Estimate, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if !a.Owns(ctx, spec.AccountID) {
		return nil, types.ErrUnauthorizedAccount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	identity, err := a.resolveLocked(ctx, spec.Instrument.Ticker)
	if err != nil {
		return nil, err
	}

	sess, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := sess.Snapshot(ctx, contractFromIdentity(identity))
	if err != nil {
		// A missing snapshot price degrades to the caller's limit price;
		// market orders without any reference stay unpriced.
		a.logger.Warn("snapshot unavailable for preview", "ticker", spec.Instrument.Ticker, "err", err)
		ref = spec.LimitPrice
	}

	resolved := spec
	resolved.Instrument = identity

	est := &types.Estimate{
		ResolvedSpec:   resolved,
		ReferencePrice: ref,
		EstimatedValue: ref.Mul(spec.Quantity),
		Commission:     a.cfg.Commission().Mul(spec.Quantity),
		CreatedAt:      time.Now(),
	}
	return est, nil
}

// PlaceOrder submits the order. Non-idempotent: dedup is the correlation
// token's job during reconciliation, not the adapter's.
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

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-resolve independently and compare against the stored identity.
	// A remapped ticker aborts placement rather than trading the wrong
	// instrument.
	fresh, err := a.resolveLocked(ctx, spec.Instrument.Ticker)
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

	sess, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}

	orderID := sess.NextOrderID()
	wire := WireOrder{
		Account:    spec.AccountID,
		Action:     spec.Side.String(),
		Quantity:   spec.Quantity,
		OrderType:  string(spec.OrderType),
		LimitPrice: spec.LimitPrice,
		StopPrice:  spec.StopPrice,
		TIF:        string(spec.TimeInForce),
		OrderRef:   spec.CorrelationToken,
	}

	now := time.Now()
	record := types.OrderRecord{
		VenueOrderID:     strconv.FormatInt(orderID, 10),
		AccountID:        spec.AccountID,
		Provider:         ProviderName,
		Ticker:           spec.Instrument.Ticker,
		Side:             spec.Side,
		Status:           types.StatusPending,
		Quantity:         spec.Quantity,
		CorrelationToken: spec.CorrelationToken,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := sess.PlaceOrder(ctx, orderID, contractFromIdentity(fresh), wire); err != nil {
		// The order may or may not have reached the venue. Never assume
		// either way: record the attempt as PENDING and probe for an
		// order carrying our correlation token.
		a.logger.Warn("uncertain submission, running recovery probe",
			"order_id", orderID,
			"token", spec.CorrelationToken,
			"err", err,
		)
		record.Note = "uncertain submission: " + err.Error()
		return a.recoverUncertain(ctx, record)
	}

	// Bounded wait for an initial status; no status is a legitimate
	// PENDING, the venue may ack asynchronously.
	if u, ok := sess.WaitOrderStatus(ctx, orderID, a.cfg.StatusWaitTimeout); ok {
		a.applyUpdate(&record, u)
	}

	a.logger.Info("order placed",
		"order_id", orderID,
		"account", spec.AccountID,
		"ticker", spec.Instrument.Ticker,
		"side", spec.Side,
		"qty", spec.Quantity,
		"status", record.Status,
	)
	return &record, nil
}

// recoverUncertain scans open and recently completed venue orders for one
// tagged with the attempt's correlation token. On a match the real id and
// status are adopted; on no match the record stays PENDING for the next
// scheduled reconciliation pass. Never blindly retried: a blind retry
// risks a duplicate.
func (a *Adapter) recoverUncertain(ctx context.Context, record types.OrderRecord) (*types.OrderRecord, error) {
	if record.CorrelationToken == "" {
		return &record, nil
	}

	sess, err := a.ensure(ctx)
	if err != nil {
		// Gateway still unreachable; leave the record for reconciliation.
		return &record, nil
	}

	if u, ok := a.findByToken(ctx, sess, record.CorrelationToken); ok {
		record.VenueOrderID = strconv.FormatInt(u.OrderID, 10)
		a.applyUpdate(&record, u)
		record.Note = "recovered by correlation token"
		a.logger.Info("recovery probe matched venue order",
			"order_id", u.OrderID,
			"token", record.CorrelationToken,
			"status", record.Status,
		)
	}
	return &record, nil
}

// findByToken scans open then completed orders for a correlation token.
func (a *Adapter) findByToken(ctx context.Context, sess gatewaySession, token string) (OrderUpdate, bool) {
	open, err := sess.OpenOrders(ctx)
	if err != nil {
		a.logger.Warn("open orders scan failed during recovery", "err", err)
	}
	for _, u := range open {
		if u.OrderRef == token {
			return u, true
		}
	}

	completed, err := sess.CompletedOrders(ctx)
	if err != nil {
		a.logger.Warn("completed orders scan failed during recovery", "err", err)
	}
	for _, u := range completed {
		if u.OrderRef == token {
			return u, true
		}
	}
	return OrderUpdate{}, false
}

// applyUpdate folds a venue order update into a record snapshot.
func (a *Adapter) applyUpdate(record *types.OrderRecord, u OrderUpdate) {
	record.Status = a.translator.Translate(u.Status, u.Filled, u.Remaining)
	record.FilledQuantity = u.Filled
	record.AvgFillPrice = u.AvgFillPrice
	if u.Quantity.IsPositive() {
		record.Quantity = u.Quantity
	}
	if u.OrderRef != "" {
		record.CorrelationToken = u.OrderRef
	}
	record.UpdatedAt = time.Now()
}

// ListOrders returns order snapshots for the account.
func (a *Adapter) ListOrders(ctx context.Context, accountID string, filter types.OrderFilter) ([]types.OrderRecord, error) {
	if !a.Owns(ctx, accountID) {
		return nil, types.ErrUnauthorizedAccount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}

	updates, err := sess.OpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	if !filter.OpenOnly {
		completed, err := sess.CompletedOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("completed orders: %w", err)
		}
		updates = append(updates, completed...)
	}

	var out []types.OrderRecord
	for _, u := range updates {
		if u.Account != "" && u.Account != accountID {
			continue
		}
		if filter.Ticker != "" && u.Symbol != filter.Ticker {
			continue
		}
		record := types.OrderRecord{
			VenueOrderID:     strconv.FormatInt(u.OrderID, 10),
			AccountID:        accountID,
			Provider:         ProviderName,
			Ticker:           u.Symbol,
			Quantity:         u.Quantity,
			CorrelationToken: u.OrderRef,
			UpdatedAt:        time.Now(),
		}
		if u.Action == types.SideSell.String() {
			record.Side = types.SideSell
		}
		a.applyUpdate(&record, u)
		out = append(out, record)
	}
	return out, nil
}

// CancelOrder requests cancellation and reports the resulting status.
// CANCEL_PENDING is the normal immediate answer; the venue confirms
// asynchronously.
func (a *Adapter) CancelOrder(ctx context.Context, accountID, venueOrderID string) (*types.OrderRecord, error) {
	if a.cfg.ReadOnly {
		return nil, types.ErrReadOnlyVenue
	}
	if !a.Owns(ctx, accountID) {
		return nil, types.ErrUnauthorizedAccount
	}

	orderID, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid venue order id %q", venueOrderID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}

	if err := sess.CancelOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("send cancel: %w", err)
	}

	record := types.OrderRecord{
		VenueOrderID: venueOrderID,
		AccountID:    accountID,
		Provider:     ProviderName,
		Status:       types.StatusCancelPending,
		UpdatedAt:    time.Now(),
	}
	if u, ok := sess.LastOrderUpdate(orderID); ok {
		record.Ticker = u.Symbol
		record.Quantity = u.Quantity
		record.CorrelationToken = u.OrderRef
	}

	if u, ok := sess.WaitOrderStatus(ctx, orderID, a.cfg.StatusWaitTimeout); ok {
		translated := a.translator.Translate(u.Status, u.Filled, u.Remaining)
		// Only adopt the update once the venue reflects the cancel; a
		// stale working status would regress CANCEL_PENDING.
		if translated == types.StatusCanceled || translated == types.StatusCancelPending || translated.IsTerminal() {
			a.applyUpdate(&record, u)
		}
	}

	a.logger.Info("cancel requested", "order_id", venueOrderID, "status", record.Status)
	return &record, nil
}

// GetBalance returns the account's cash balance.
func (a *Adapter) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if !a.Owns(ctx, accountID) {
		return decimal.Zero, types.ErrUnauthorizedAccount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensure(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	summaries, err := sess.AccountSummaries(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account summaries: %w", err)
	}
	sum, ok := summaries[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no summary for account %s", accountID)
	}
	return sum.Cash, nil
}

// PostTradeRefresh re-pulls account state after a fill so balances do not
// go stale between fills and the next scheduled refresh.
func (a *Adapter) PostTradeRefresh(ctx context.Context, accountID string) error {
	if !a.Owns(ctx, accountID) {
		return types.ErrUnauthorizedAccount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensure(ctx)
	if err != nil {
		return err
	}
	if _, err := sess.AccountSummaries(ctx); err != nil {
		return fmt.Errorf("post-trade refresh: %w", err)
	}
	return nil
}
