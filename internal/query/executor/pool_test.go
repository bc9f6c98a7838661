package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_CheckoutReusesSession(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	s1, err := p.Checkout(ctx, "/data/a.parquet")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if s1.HTTPFS {
		t.Error("httpfs should be off when not enabled")
	}
	if s1.Locator() != "/data/a.parquet" {
		t.Errorf("Locator = %q", s1.Locator())
	}
	stats := p.Stats()
	if stats.TotalConnections != 1 || stats.ActiveConnections != 1 {
		t.Errorf("stats while checked out = %+v", stats)
	}
	p.Release(s1)

	s2, err := p.Checkout(ctx, "/data/a.parquet")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer p.Release(s2)
	if s1 != s2 {
		t.Error("expected the same session for the same locator")
	}
	if !p.HasConnection("/data/a.parquet") || p.HasConnection("/data/b.parquet") {
		t.Error("HasConnection mismatch")
	}
}

func TestPool_SessionSettings(t *testing.T) {
	p := newTestPool(t)
	s, err := p.Checkout(context.Background(), "x")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer p.Release(s)

	var threads int64
	if err := s.Conn().QueryRowContext(context.Background(), "SELECT current_setting('threads')").Scan(&threads); err != nil {
		t.Fatalf("read threads: %v", err)
	}
	if threads != 2 {
		t.Errorf("threads = %d, want 2", threads)
	}
}

func TestPool_InvalidMemoryFallsBack(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.TempDirectory = t.TempDir()
	cfg.MemoryLimit = "lots"
	p := NewPool(cfg, nil, nil)
	defer p.Close()

	s, err := p.Checkout(context.Background(), "x")
	if err != nil {
		t.Fatalf("Checkout should fall back, got %v", err)
	}
	p.Release(s)
}

func TestPool_SameLocatorSerializes(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	held, err := p.Checkout(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}

	// A different locator proceeds while A is held.
	other := make(chan struct{})
	go func() {
		s, err := p.Checkout(ctx, "B")
		if err == nil {
			p.Release(s)
		}
		close(other)
	}()
	select {
	case <-other:
	case <-time.After(5 * time.Second):
		t.Fatal("checkout of B blocked behind A")
	}

	// The same locator waits for Release.
	same := make(chan struct{})
	go func() {
		s, err := p.Checkout(ctx, "A")
		if err == nil {
			p.Release(s)
		}
		close(same)
	}()
	select {
	case <-same:
		t.Fatal("second checkout of A did not wait")
	case <-time.After(100 * time.Millisecond):
	}

	p.Release(held)
	select {
	case <-same:
	case <-time.After(5 * time.Second):
		t.Fatal("second checkout of A never proceeded")
	}
}

func TestPool_Close(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	s, err := p.Checkout(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Checkout(ctx, "A"); err == nil {
		t.Error("expected error after Close")
	}
	if p.Stats().TotalConnections != 0 {
		t.Error("sessions remain after Close")
	}
}

func TestPool_SlowOpenDoesNotBlockOtherLocators(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	dial := p.dial
	var opens atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	p.dial = func(ctx context.Context, locator string) (*Session, error) {
		if locator == "slow" {
			if opens.Add(1) == 1 {
				close(started)
			}
			<-gate
		}
		return dial(ctx, locator)
	}

	var wg sync.WaitGroup
	slow := make([]*Session, 3)
	for i := range slow {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.Checkout(ctx, "slow")
			if err != nil {
				t.Errorf("Checkout slow: %v", err)
				return
			}
			slow[i] = s
			p.Release(s)
		}(i)
	}
	<-started

	done := make(chan struct{})
	go func() {
		defer close(done)
		s, err := p.Checkout(ctx, "fast")
		if err != nil {
			t.Errorf("Checkout fast: %v", err)
			return
		}
		p.Release(s)
		if p.HasConnection("slow") {
			t.Error("slow session published before its open finished")
		}
		if st := p.Stats(); st.TotalConnections != 1 {
			t.Errorf("stats during slow open = %+v", st)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("checkout of another locator waited on a slow open")
	}

	close(gate)
	wg.Wait()
	if got := opens.Load(); got != 1 {
		t.Errorf("slow locator opened %d times, want 1", got)
	}
	for _, s := range slow {
		if s != slow[0] {
			t.Error("concurrent first checkouts got different sessions")
		}
	}
}

func TestPool_OpenFinishingAfterCloseIsDiscarded(t *testing.T) {
	p := newTestPool(t)
	dial := p.dial
	started := make(chan struct{})
	gate := make(chan struct{})
	p.dial = func(ctx context.Context, locator string) (*Session, error) {
		close(started)
		<-gate
		return dial(ctx, locator)
	}

	result := make(chan error, 1)
	go func() {
		s, err := p.Checkout(context.Background(), "late")
		if err == nil {
			p.Release(s)
		}
		result <- err
	}()
	<-started
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(gate)

	if err := <-result; !errors.Is(err, errPoolClosed) {
		t.Errorf("Checkout after Close = %v, want errPoolClosed", err)
	}
	if p.Stats().TotalConnections != 0 {
		t.Error("session published after Close")
	}
}
