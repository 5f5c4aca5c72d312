package ibgw

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Incoming message IDs.
const (
	inTickPrice          = 1
	inOrderStatus        = 3
	inErrMsg             = 4
	inOpenOrder          = 5
	inNextValidID        = 9
	inContractData       = 10
	inManagedAccounts    = 15
	inContractDataEnd    = 52
	inOpenOrderEnd       = 53
	inAccountSummary     = 63
	inAccountSummaryEnd  = 64
	inCompletedOrder     = 101
	inCompletedOrdersEnd = 102
)

// Outgoing message IDs.
const (
	outReqMktData         = 1
	outCancelMktData      = 2
	outPlaceOrder         = 3
	outCancelOrder        = 4
	outReqContractData    = 9
	outReqAllOpenOrders   = 16
	outReqAccountSummary  = 62
	outReqCompletedOrders = 99
)

// Contract is the gateway's instrument record. ConID is the venue-unique
// instrument key; the ticker alone is never authoritative.
type Contract struct {
	ConID    string
	Symbol   string
	SecType  string
	Exchange string
	Currency string
}

// AccountSummary holds one account's balance tags.
type AccountSummary struct {
	Account  string
	Currency string
	Cash     decimal.Decimal
	NetValue decimal.Decimal
}

// WireOrder describes an outgoing order submission.
type WireOrder struct {
	Account    string
	Action     string // BUY or SELL
	Quantity   decimal.Decimal
	OrderType  string
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
	TIF        string
	OrderRef   string // caller's correlation token, echoed back by the venue
}

// OrderUpdate is the latest known state of a venue order.
type OrderUpdate struct {
	OrderID      int64
	Account      string
	Symbol       string
	ConID        string
	Action       string
	Quantity     decimal.Decimal
	Status       string // raw gateway literal
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	AvgFillPrice decimal.Decimal
	OrderRef     string
}

// pendingReq collects responses for one request id until its end marker.
type pendingReq struct {
	fields chan []string
	done   chan struct{}
}

// orderWaiter is notified on any status update for a given order id.
type orderWaiter struct {
	orderID int64
	ch      chan OrderUpdate
}

// Session is one live wire connection to the gateway. It implements
// supervisor.Session. The session handle is not safe for two callers
// issuing blocking calls at once; the adapter serializes access.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	conn    net.Conn
	limiter *rate.Limiter

	nextReqID   atomic.Int64
	nextOrderID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*pendingReq
	scan     *scanCollector // at most one open/completed-orders scan
	waiters  []orderWaiter
	accounts []string

	orderMu sync.RWMutex
	orders  map[int64]OrderUpdate

	accountsReady chan struct{}
	orderIDReady  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// scanCollector gathers open-order or completed-order messages, which the
// gateway sends without a request id.
type scanCollector struct {
	updates []OrderUpdate
	done    chan struct{}
}

// Dialer dials gateway sessions. It implements supervisor.Dialer via the
// adapter's wrapper.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a gateway session dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial connects, performs the handshake, and starts the read loop. The
// returned session has its managed-account list and order id sequence
// populated (or the dial fails).
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)

	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	s := newSession(d.cfg, conn, d.logger)

	if err := s.handshake(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	s.wg.Add(1)
	go s.readLoop()

	// The gateway announces managed accounts and the next valid order id
	// right after startAPI; wait for both before handing the session out.
	select {
	case <-s.accountsReady:
	case <-ctx.Done():
		_ = s.Close()
		return nil, fmt.Errorf("waiting for managed accounts: %w", ctx.Err())
	case <-s.done:
		return nil, fmt.Errorf("session dropped during startup")
	}
	select {
	case <-s.orderIDReady:
	case <-ctx.Done():
		_ = s.Close()
		return nil, fmt.Errorf("waiting for order id seed: %w", ctx.Err())
	case <-s.done:
		return nil, fmt.Errorf("session dropped during startup")
	}

	d.logger.Info("gateway session ready",
		"host", d.cfg.Host,
		"port", d.cfg.Port,
		"client_id", d.cfg.ClientID,
		"accounts", len(s.ManagedAccounts()),
	)
	return s, nil
}

func newSession(cfg Config, conn net.Conn, logger *slog.Logger) *Session {
	s := &Session{
		cfg:           cfg,
		logger:        logger,
		conn:          conn,
		limiter:       rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		pending:       make(map[int64]*pendingReq),
		orders:        make(map[int64]OrderUpdate),
		accountsReady: make(chan struct{}),
		orderIDReady:  make(chan struct{}),
		done:          make(chan struct{}),
	}
	s.nextReqID.Store(1000)
	return s
}

// handshake performs the gateway API handshake and sends startAPI.
func (s *Session) handshake() error {
	// "API\0" + supported version range.
	hs := []byte("API\x00")
	hs = append(hs, []byte("v100..151")...)
	hs = append(hs, 0)

	if _, err := s.conn.Write(hs); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	buf := make([]byte, 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := s.conn.Read(buf)
	_ = s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	s.logger.Debug("handshake response", "bytes", n)

	// startAPI: msg 71, version 2, client id.
	start := fmt.Sprintf("71\x002\x00%d\x00", s.cfg.ClientID)
	if _, err := s.conn.Write(frame(start)); err != nil {
		return fmt.Errorf("write startAPI: %w", err)
	}
	return nil
}

// frame prepends the 4-byte big-endian length prefix.
func frame(msg string) []byte {
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out, uint32(len(msg)))
	copy(out[4:], msg)
	return out
}

// readLoop reads length-prefixed frames and dispatches them.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.markDropped()

	header := make([]byte, 4)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if _, err := io.ReadFull(s.conn, header); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.logger.Error("gateway read error", "err", err)
			return
		}

		size := binary.BigEndian.Uint32(header)
		if size == 0 || size > 1<<20 {
			s.logger.Error("invalid frame size", "size", size)
			return
		}

		payload := make([]byte, size)
		_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := io.ReadFull(s.conn, payload); err != nil {
			s.logger.Error("gateway read error", "err", err)
			return
		}

		s.dispatch(payload)
	}
}

// dispatch parses one frame (NUL-separated fields) and routes it.
func (s *Session) dispatch(payload []byte) {
	payload = bytes.TrimSuffix(payload, []byte{0})
	raw := bytes.Split(payload, []byte{0})
	fields := make([]string, len(raw))
	for i, f := range raw {
		fields[i] = string(f)
	}
	if len(fields) < 2 {
		s.logger.Debug("incomplete frame", "fields", len(fields))
		return
	}

	msgID, err := strconv.Atoi(fields[0])
	if err != nil {
		s.logger.Debug("invalid message id", "data", fields[0])
		return
	}

	switch msgID {
	case inManagedAccounts:
		s.handleManagedAccounts(fields)
	case inNextValidID:
		s.handleNextValidID(fields)
	case inOrderStatus:
		s.handleOrderStatus(fields)
	case inOpenOrder, inCompletedOrder:
		s.handleOrderRow(msgID, fields)
	case inOpenOrderEnd, inCompletedOrdersEnd:
		s.finishScan()
	case inContractData, inAccountSummary, inTickPrice:
		s.handleReqScoped(fields)
	case inContractDataEnd, inAccountSummaryEnd:
		s.finishReq(fields)
	case inErrMsg:
		s.handleErr(fields)
	default:
		s.logger.Debug("unhandled message", "msg_id", msgID)
	}
}

// handleManagedAccounts stores the comma-separated account list.
// Layout: msgID, version, "ACC1,ACC2".
func (s *Session) handleManagedAccounts(fields []string) {
	if len(fields) < 3 {
		return
	}
	accounts := strings.Split(fields[2], ",")

	s.mu.Lock()
	first := s.accounts == nil
	s.accounts = accounts
	s.mu.Unlock()

	if first {
		close(s.accountsReady)
	}
}

// handleNextValidID seeds the order id sequence.
// Layout: msgID, version, orderID.
func (s *Session) handleNextValidID(fields []string) {
	if len(fields) < 3 {
		return
	}
	id, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return
	}
	if s.nextOrderID.Swap(id) == 0 {
		close(s.orderIDReady)
	}
}

// handleOrderStatus updates order state and wakes waiters.
// Layout: msgID, orderID, status, filled, remaining, avgFillPrice.
func (s *Session) handleOrderStatus(fields []string) {
	if len(fields) < 6 {
		return
	}
	orderID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return
	}

	filled, _ := decimal.NewFromString(fields[3])
	remaining, _ := decimal.NewFromString(fields[4])
	avg, _ := decimal.NewFromString(fields[5])

	s.orderMu.Lock()
	u := s.orders[orderID]
	u.OrderID = orderID
	u.Status = fields[2]
	u.Filled = filled
	u.Remaining = remaining
	u.AvgFillPrice = avg
	s.orders[orderID] = u
	s.orderMu.Unlock()

	s.notifyWaiters(u)

	s.logger.Debug("order status",
		"order_id", orderID,
		"status", fields[2],
		"filled", filled,
		"remaining", remaining,
	)
}

// handleOrderRow handles one open-order or completed-order row.
// Layout: msgID, orderID, conID, symbol, secType, exchange, currency,
// action, totalQty, orderType, lmtPrice, auxPrice, tif, orderRef, account,
// status, filled, avgFillPrice.
func (s *Session) handleOrderRow(msgID int, fields []string) {
	if len(fields) < 18 {
		return
	}
	orderID, _ := strconv.ParseInt(fields[1], 10, 64)
	qty, _ := decimal.NewFromString(fields[8])
	filled, _ := decimal.NewFromString(fields[16])
	avg, _ := decimal.NewFromString(fields[17])

	u := OrderUpdate{
		OrderID:      orderID,
		ConID:        fields[2],
		Symbol:       fields[3],
		Action:       fields[7],
		Quantity:     qty,
		OrderRef:     fields[13],
		Account:      fields[14],
		Status:       fields[15],
		Filled:       filled,
		Remaining:    qty.Sub(filled),
		AvgFillPrice: avg,
	}

	if msgID == inOpenOrder {
		s.orderMu.Lock()
		s.orders[orderID] = u
		s.orderMu.Unlock()
	}

	s.mu.Lock()
	if s.scan != nil {
		s.scan.updates = append(s.scan.updates, u)
	}
	s.mu.Unlock()
}

// finishScan completes an in-flight order scan.
func (s *Session) finishScan() {
	s.mu.Lock()
	scan := s.scan
	s.mu.Unlock()
	if scan != nil {
		select {
		case <-scan.done:
		default:
			close(scan.done)
		}
	}
}

// handleReqScoped routes request-scoped rows to their collector.
// Layout: msgID, version, reqID, payload...
func (s *Session) handleReqScoped(fields []string) {
	if len(fields) < 3 {
		return
	}
	reqID, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return
	}

	s.mu.Lock()
	req := s.pending[reqID]
	s.mu.Unlock()
	if req == nil {
		return
	}

	select {
	case req.fields <- fields:
	case <-req.done:
	}
}

// finishReq completes a request collector on its end marker.
// Layout: msgID, version, reqID.
func (s *Session) finishReq(fields []string) {
	if len(fields) < 3 {
		return
	}
	reqID, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return
	}

	s.mu.Lock()
	req := s.pending[reqID]
	delete(s.pending, reqID)
	s.mu.Unlock()
	if req != nil {
		close(req.done)
	}
}

// handleErr logs venue error messages. Codes below 2000 are order/request
// errors; 2000+ are informational warnings.
// Layout: msgID, version, id, code, message.
func (s *Session) handleErr(fields []string) {
	if len(fields) < 5 {
		return
	}
	code, _ := strconv.Atoi(fields[3])
	if code >= 2000 {
		s.logger.Debug("gateway notice", "id", fields[2], "code", code, "msg", fields[4])
		return
	}
	s.logger.Warn("gateway error", "id", fields[2], "code", code, "msg", fields[4])
}

// markDropped closes the done channel exactly once and fails all waiters.
func (s *Session) markDropped() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Close tears down the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.markDropped()
	s.wg.Wait()
	return nil
}

// Done is closed when the session drops, deliberately or not.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ManagedAccounts returns the gateway-reported account list.
func (s *Session) ManagedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// NextOrderID allocates the next venue order id.
func (s *Session) NextOrderID() int64 {
	return s.nextOrderID.Add(1) - 1
}

// send writes one rate-limited frame.
func (s *Session) send(ctx context.Context, msg string) error {
	select {
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if _, err := s.conn.Write(frame(msg)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// newRequest registers a response collector for a fresh request id.
func (s *Session) newRequest() (int64, *pendingReq) {
	reqID := s.nextReqID.Add(1)
	req := &pendingReq{
		fields: make(chan []string, 16),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.pending[reqID] = req
	s.mu.Unlock()
	return reqID, req
}

func (s *Session) dropRequest(reqID int64) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

// ContractDetails resolves a ticker to its gateway contract. The response
// row carries the conID, the venue-unique instrument key.
func (s *Session) ContractDetails(ctx context.Context, ticker string) (Contract, error) {
	reqID, req := s.newRequest()
	defer s.dropRequest(reqID)

	// reqContractData: msgID, version, reqID, conId, symbol, secType,
	// expiry, strike, right, multiplier, exchange, currency.
	msg := fmt.Sprintf("%d\x008\x00%d\x000\x00%s\x00STK\x00\x00\x00\x00\x00SMART\x00USD\x00",
		outReqContractData, reqID, ticker)
	if err := s.send(ctx, msg); err != nil {
		return Contract{}, err
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	var c Contract
	for {
		select {
		case fields := <-req.fields:
			// contractData: msgID, version, reqID, symbol, secType,
			// exchange, currency, localSymbol, conID.
			if len(fields) < 9 {
				continue
			}
			c = Contract{
				Symbol:   fields[3],
				SecType:  fields[4],
				Exchange: fields[5],
				Currency: fields[6],
				ConID:    fields[8],
			}
		case <-req.done:
			if c.ConID == "" {
				return Contract{}, fmt.Errorf("no contract for %q", ticker)
			}
			return c, nil
		case <-timer.C:
			return Contract{}, fmt.Errorf("contract details timeout for %q", ticker)
		case <-s.done:
			return Contract{}, fmt.Errorf("session dropped")
		case <-ctx.Done():
			return Contract{}, ctx.Err()
		}
	}
}

// AccountSummaries requests cash balances for all managed accounts.
func (s *Session) AccountSummaries(ctx context.Context) (map[string]AccountSummary, error) {
	reqID, req := s.newRequest()
	defer s.dropRequest(reqID)

	msg := fmt.Sprintf("%d\x001\x00%d\x00All\x00TotalCashValue,NetLiquidation\x00",
		outReqAccountSummary, reqID)
	if err := s.send(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	out := make(map[string]AccountSummary)
	for {
		select {
		case fields := <-req.fields:
			// accountSummary: msgID, version, reqID, account, tag, value,
			// currency.
			if len(fields) < 7 {
				continue
			}
			account := fields[3]
			value, err := decimal.NewFromString(fields[5])
			if err != nil {
				continue
			}
			sum := out[account]
			sum.Account = account
			sum.Currency = fields[6]
			switch fields[4] {
			case "TotalCashValue":
				sum.Cash = value
			case "NetLiquidation":
				sum.NetValue = value
			}
			out[account] = sum
		case <-req.done:
			return out, nil
		case <-timer.C:
			return nil, fmt.Errorf("account summary timeout")
		case <-s.done:
			return nil, fmt.Errorf("session dropped")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Snapshot requests a bounded market-data snapshot for a contract and
// returns the last observed price. The subscription is always released,
// even on error or timeout.
func (s *Session) Snapshot(ctx context.Context, c Contract) (decimal.Decimal, error) {
	reqID, req := s.newRequest()
	defer s.dropRequest(reqID)

	msg := fmt.Sprintf("%d\x0011\x00%d\x00%s\x00%s\x00%s\x00\x00%s\x00%s\x000\x00\x00\x00",
		outReqMktData, reqID, c.ConID, c.Symbol, c.SecType, c.Exchange, c.Currency)
	if err := s.send(ctx, msg); err != nil {
		return decimal.Zero, err
	}
	// Release the subscription no matter how we leave.
	defer func() {
		cancel := fmt.Sprintf("%d\x001\x00%d\x00", outCancelMktData, reqID)
		_ = s.send(context.Background(), cancel)
	}()

	timer := time.NewTimer(s.cfg.SnapshotSettle)
	defer timer.Stop()

	last := decimal.Zero
	for {
		select {
		case fields := <-req.fields:
			// tickPrice: msgID, version, reqID, tickType, price.
			if len(fields) < 5 {
				continue
			}
			tickType, _ := strconv.Atoi(fields[3])
			price, err := decimal.NewFromString(fields[4])
			if err != nil || !price.IsPositive() {
				continue
			}
			// 4 = last, 9 = close; last wins, close is the fallback.
			switch tickType {
			case 4:
				return price, nil
			case 9:
				last = price
			}
		case <-timer.C:
			if last.IsPositive() {
				return last, nil
			}
			return decimal.Zero, fmt.Errorf("no price within snapshot settle window")
		case <-s.done:
			return decimal.Zero, fmt.Errorf("session dropped")
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
}

// PlaceOrder submits an order. The correlation token travels in the
// orderRef field and is echoed back in order rows, which is what makes
// post-drop reconciliation possible.
func (s *Session) PlaceOrder(ctx context.Context, orderID int64, c Contract, o WireOrder) error {
	limit := ""
	if o.LimitPrice.IsPositive() {
		limit = o.LimitPrice.String()
	}
	aux := ""
	if o.StopPrice.IsPositive() {
		aux = o.StopPrice.String()
	}

	// placeOrder: msgID, orderID, conId, symbol, secType, exchange,
	// currency, action, totalQty, orderType, lmtPrice, auxPrice, tif,
	// orderRef, account, transmit.
	msg := fmt.Sprintf("%d\x00%d\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x001\x00",
		outPlaceOrder, orderID,
		c.ConID, c.Symbol, c.SecType, c.Exchange, c.Currency,
		o.Action, o.Quantity.String(), o.OrderType, limit, aux, o.TIF,
		o.OrderRef, o.Account)
	return s.send(ctx, msg)
}

// CancelOrder requests cancellation of a venue order.
func (s *Session) CancelOrder(ctx context.Context, orderID int64) error {
	msg := fmt.Sprintf("%d\x001\x00%d\x00\x00", outCancelOrder, orderID)
	return s.send(ctx, msg)
}

// LastOrderUpdate returns the latest known state for an order id.
func (s *Session) LastOrderUpdate(orderID int64) (OrderUpdate, bool) {
	s.orderMu.RLock()
	defer s.orderMu.RUnlock()
	u, ok := s.orders[orderID]
	return u, ok
}

// WaitOrderStatus blocks up to timeout for any status update on the order.
// A missing update is not an error: the venue may ack asynchronously.
func (s *Session) WaitOrderStatus(ctx context.Context, orderID int64, timeout time.Duration) (OrderUpdate, bool) {
	ch := make(chan OrderUpdate, 4)
	s.mu.Lock()
	s.waiters = append(s.waiters, orderWaiter{orderID: orderID, ch: ch})
	s.mu.Unlock()
	defer s.removeWaiter(ch)

	if u, ok := s.LastOrderUpdate(orderID); ok && u.Status != "" {
		return u, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case u := <-ch:
		return u, true
	case <-timer.C:
		return OrderUpdate{}, false
	case <-s.done:
		return OrderUpdate{}, false
	case <-ctx.Done():
		return OrderUpdate{}, false
	}
}

func (s *Session) notifyWaiters(u OrderUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.waiters {
		if w.orderID == u.OrderID {
			select {
			case w.ch <- u:
			default:
			}
		}
	}
}

func (s *Session) removeWaiter(ch chan OrderUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w.ch == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// OpenOrders scans the venue's working orders.
func (s *Session) OpenOrders(ctx context.Context) ([]OrderUpdate, error) {
	msg := fmt.Sprintf("%d\x001\x00", outReqAllOpenOrders)
	return s.scanOrders(ctx, msg)
}

// CompletedOrders scans recently completed orders.
func (s *Session) CompletedOrders(ctx context.Context) ([]OrderUpdate, error) {
	// apiOnly=0: include orders from other sessions of the credential.
	msg := fmt.Sprintf("%d\x000\x00", outReqCompletedOrders)
	return s.scanOrders(ctx, msg)
}

func (s *Session) scanOrders(ctx context.Context, msg string) ([]OrderUpdate, error) {
	s.mu.Lock()
	if s.scan != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("order scan already in flight")
	}
	scan := &scanCollector{done: make(chan struct{})}
	s.scan = scan
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scan = nil
		s.mu.Unlock()
	}()

	if err := s.send(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-scan.done:
	case <-timer.C:
		return nil, fmt.Errorf("order scan timeout")
	case <-s.done:
		return nil, fmt.Errorf("session dropped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	out := make([]OrderUpdate, len(scan.updates))
	copy(out, scan.updates)
	s.mu.Unlock()
	return out, nil
}
