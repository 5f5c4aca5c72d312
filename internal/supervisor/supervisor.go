// Package supervisor owns the single persistent session to the stateful
// venue. It connects lazily, detects drops, and reconnects in the
// background with linearly increasing delay up to a fixed attempt ceiling.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tathienbao/brokerhub/internal/types"
)

// Session is a live connection to the venue. Done is closed exactly once
// when the session drops, whether the drop was requested or not.
type Session interface {
	Close() error
	Done() <-chan struct{}
}

// Dialer establishes new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// State represents the supervisor lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds supervisor settings.
type Config struct {
	ConnectTimeout     time.Duration
	ReconnectBaseDelay time.Duration // attempt n waits n * base
	MaxReconnectTries  int
}

// DefaultConfig returns default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     10 * time.Second,
		ReconnectBaseDelay: 2 * time.Second,
		MaxReconnectTries:  10,
	}
}

// Supervisor manages one session to the stateful venue. It is safe for
// concurrent use; all connect/disconnect paths serialize on one mutex.
// Drop notifications arrive on the session's Done channel from its own
// read goroutine, so no callback ever runs while the mutex is held.
type Supervisor struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	// StateHook, if set before first use, is invoked after every state
	// change (outside the mutex). Used to feed the session-state gauge.
	StateHook func(State)

	mu           sync.Mutex
	session      Session
	manual       bool // one-shot: next drop was requested, do not reconnect
	reconnecting bool // at most one reconnect worker in flight

	state atomic.Int32 // mirrors lifecycle state for cheap probes
}

// New creates a supervisor. A nil logger falls back to slog.Default().
func New(cfg Config, dialer Dialer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultConfig().ReconnectBaseDelay
	}
	if cfg.MaxReconnectTries <= 0 {
		cfg.MaxReconnectTries = DefaultConfig().MaxReconnectTries
	}

	s := &Supervisor{cfg: cfg, dialer: dialer, logger: logger}
	s.state.Store(int32(StateDisconnected))
	return s
}

// State returns the current lifecycle state without blocking.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// IsConnected is a cheap non-blocking probe for read paths that tolerate
// staleness. Write paths must use Ensure.
func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

// Ensure returns the live session, connecting first if necessary. It is
// the blocking path used before any write. A FAILED supervisor is not
// permanently dead: Ensure dials again from scratch.
func (s *Supervisor) Ensure(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.State() == StateConnected {
		return s.session, nil
	}
	return s.connectLocked(ctx)
}

// connectLocked dials a new session. Caller holds s.mu.
func (s *Supervisor) connectLocked(ctx context.Context) (Session, error) {
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	sess, err := s.dialer.Dial(dialCtx)
	if err != nil {
		s.setState(StateDisconnected)
		return nil, fmt.Errorf("%w: %v", types.ErrConnectionUnavailable, err)
	}

	s.session = sess
	s.manual = false
	s.setState(StateConnected)

	go s.watch(sess)

	s.logger.Info("venue session established")
	return sess, nil
}

// watch waits for the session to drop and routes the event.
func (s *Supervisor) watch(sess Session) {
	<-sess.Done()
	s.handleDrop(sess)
}

// handleDrop processes a session drop. Safe to call more than once for the
// same session: only the first call for the current session has effect.
func (s *Supervisor) handleDrop(sess Session) {
	s.mu.Lock()

	if s.session != sess {
		// Stale notification from an already replaced session.
		s.mu.Unlock()
		return
	}

	s.session = nil
	wasManual := s.manual
	s.manual = false

	if wasManual {
		s.setState(StateDisconnected)
		s.mu.Unlock()
		s.logger.Info("venue session closed")
		return
	}

	if s.reconnecting {
		s.setState(StateDisconnected)
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.setState(StateReconnecting)
	s.mu.Unlock()

	s.logger.Warn("venue session dropped, starting reconnect worker")
	go s.reconnectWorker()
}

// reconnectWorker retries with linearly increasing delay until it succeeds
// or the attempt ceiling is reached. Exactly one worker runs at a time.
func (s *Supervisor) reconnectWorker() {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for attempt := 1; attempt <= s.cfg.MaxReconnectTries; attempt++ {
		time.Sleep(time.Duration(attempt) * s.cfg.ReconnectBaseDelay)

		s.mu.Lock()
		if s.State() == StateConnected {
			// Someone called Ensure in the meantime.
			s.mu.Unlock()
			return
		}

		s.logger.Info("reconnect attempt", "attempt", attempt, "max", s.cfg.MaxReconnectTries)
		_, err := s.connectLocked(context.Background())
		s.mu.Unlock()

		if err == nil {
			s.logger.Info("reconnected to venue", "attempt", attempt)
			return
		}
		s.logger.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
	}

	s.mu.Lock()
	s.setState(StateFailed)
	s.mu.Unlock()
	s.logger.Error("reconnect attempts exhausted, giving up until next Ensure",
		"attempts", s.cfg.MaxReconnectTries,
	)
}

// Disconnect tears the session down deliberately. The drop handler consumes
// the manual flag and never triggers auto-reconnect for this teardown.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.setState(StateDisconnected)
		s.mu.Unlock()
		return nil
	}
	s.manual = true
	s.mu.Unlock()

	// Close outside the lock: the drop notification needs the mutex.
	err := sess.Close()

	// Handle the drop synchronously so callers observe Disconnected on
	// return. The watcher goroutine's duplicate notification is a no-op.
	s.handleDrop(sess)
	return err
}

// setState updates the lifecycle state. Caller holds s.mu (or is in New).
func (s *Supervisor) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st && s.StateHook != nil {
		go s.StateHook(st)
	}
}
