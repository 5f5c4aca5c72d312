package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSession implements Session with a controllable drop channel.
type fakeSession struct {
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (f *fakeSession) Close() error {
	f.drop()
	return nil
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

// drop simulates an unexpected connection loss.
func (f *fakeSession) drop() {
	f.closeOnce.Do(func() { close(f.done) })
}

// fakeDialer hands out fakeSessions and counts dials.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failNext int // fail this many dials before succeeding
	last     *fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("connection refused")
	}
	d.last = newFakeSession()
	return d.last, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConfig() Config {
	return Config{
		ConnectTimeout:     time.Second,
		ReconnectBaseDelay: 5 * time.Millisecond,
		MaxReconnectTries:  3,
	}
}

func TestSupervisor_LazyConnect(t *testing.T) {
	d := &fakeDialer{}
	s := New(testConfig(), d, nil)

	if d.dialCount() != 0 {
		t.Fatal("supervisor must not dial at construction time")
	}
	if s.State() != StateDisconnected {
		t.Errorf("initial state = %v, want disconnected", s.State())
	}

	sess, err := s.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session")
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
	if !s.IsConnected() {
		t.Error("expected IsConnected after Ensure")
	}

	// Second Ensure reuses the live session.
	sess2, err := s.Ensure(context.Background())
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if sess2 != sess {
		t.Error("expected the same session to be reused")
	}
	if d.dialCount() != 1 {
		t.Errorf("dials after reuse = %d, want 1", d.dialCount())
	}
}

func TestSupervisor_EnsureDialFailure(t *testing.T) {
	d := &fakeDialer{failNext: 1000}
	s := New(testConfig(), d, nil)

	_, err := s.Ensure(context.Background())
	if err == nil {
		t.Fatal("expected error when venue unreachable")
	}
	if s.IsConnected() {
		t.Error("must not report connected after failed dial")
	}
}

func TestSupervisor_AutoReconnectAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	s := New(testConfig(), d, nil)

	_, err := s.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	first := d.last
	first.drop()

	waitFor(t, time.Second, func() bool { return s.IsConnected() && d.dialCount() == 2 })
}

// Two rapid synthetic drop events spawn exactly one reconnect worker.
func TestSupervisor_SingleReconnectWorker(t *testing.T) {
	d := &fakeDialer{}
	s := New(testConfig(), d, nil)

	if _, err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	sess := d.last

	var reconnecting atomic.Int32
	s.StateHook = func(st State) {
		if st == StateReconnecting {
			reconnecting.Add(1)
		}
	}

	sess.drop()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleDrop(sess)
		}()
	}
	wg.Wait()

	waitFor(t, time.Second, func() bool { return s.IsConnected() })

	if got := reconnecting.Load(); got > 1 {
		t.Errorf("reconnect worker spawned %d times, want at most 1", got)
	}
	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2 (initial + one reconnect)", d.dialCount())
	}
}

func TestSupervisor_ManualDisconnectNoReconnect(t *testing.T) {
	d := &fakeDialer{}
	s := New(testConfig(), d, nil)

	if _, err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	sess := d.last

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state after Disconnect = %v, want disconnected", s.State())
	}

	// Drop callback firing again after manual disconnect stays a no-op.
	s.handleDrop(sess)

	time.Sleep(50 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (no auto-reconnect after manual disconnect)", d.dialCount())
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestSupervisor_ReconnectCeilingThenFailed(t *testing.T) {
	d := &fakeDialer{}
	s := New(testConfig(), d, nil)

	if _, err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	d.mu.Lock()
	d.failNext = 1000 // every reconnect attempt fails
	d.mu.Unlock()

	d.last.drop()

	waitFor(t, 2*time.Second, func() bool { return s.State() == StateFailed })

	// 1 initial + MaxReconnectTries failed attempts.
	if got := d.dialCount(); got != 1+testConfig().MaxReconnectTries {
		t.Errorf("dials = %d, want %d", got, 1+testConfig().MaxReconnectTries)
	}

	// FAILED is not permanent: a later Ensure dials from scratch.
	d.mu.Lock()
	d.failNext = 0
	d.mu.Unlock()

	if _, err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after FAILED: %v", err)
	}
	if !s.IsConnected() {
		t.Error("expected connected after fresh Ensure")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
