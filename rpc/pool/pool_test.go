package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testItem struct {
	id    int
	dirty bool
}

func newTestPool(t *testing.T, max int, policy ExhaustionPolicy) *Pool[testItem] {
	t.Helper()
	var counter atomic.Int32
	p, err := New(Config{Name: "test", MaximumPooled: max, ExhaustionPolicy: policy},
		func() *testItem { return &testItem{id: int(counter.Add(1))} },
		func(it *testItem) { it.dirty = false },
	)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return p
}

func TestBorrowUpToCapacity(t *testing.T) {
	for _, policy := range []ExhaustionPolicy{BlockUntilAvailable, Fail} {
		t.Run(policy.String(), func(t *testing.T) {
			p := newTestPool(t, 4, policy)
			seen := map[*testItem]bool{}
			for i := 0; i < 4; i++ {
				l, err := p.Borrow(context.Background())
				if err != nil {
					t.Fatalf("borrow %d failed: %v", i, err)
				}
				if seen[l.Value()] {
					t.Fatalf("instance leased twice")
				}
				seen[l.Value()] = true
			}
			if p.Leased() != 4 || p.Available() != 0 {
				t.Errorf("expected 4 leased and 0 available, got %d / %d", p.Leased(), p.Available())
			}
		})
	}
}

func TestFailPolicy(t *testing.T) {
	p := newTestPool(t, 2, Fail)
	for i := 0; i < 2; i++ {
		if _, err := p.Borrow(context.Background()); err != nil {
			t.Fatalf("borrow failed: %v", err)
		}
	}

	start := time.Now()
	if _, err := p.Borrow(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("fail policy blocked")
	}
}

func TestBlockPolicyWaitsForReturn(t *testing.T) {
	p := newTestPool(t, 1, BlockUntilAvailable)
	first, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	got := make(chan Lease[testItem], 1)
	go func() {
		l, err := p.Borrow(context.Background())
		if err != nil {
			t.Errorf("blocked borrow failed: %v", err)
		}
		got <- l
	}()

	select {
	case <-got:
		t.Fatalf("borrow did not block while the pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	first.Value().dirty = true
	if err := p.Return(first); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	select {
	case l := <-got:
		if l.Value() == nil || l.Value().dirty {
			t.Errorf("expected a reset instance, got %+v", l.Value())
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked borrow was not released by the return")
	}
}

func TestBlockPolicyHonoursContext(t *testing.T) {
	p := newTestPool(t, 1, BlockUntilAvailable)
	if _, err := p.Borrow(context.Background()); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Borrow(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestReturnValidation(t *testing.T) {
	p := newTestPool(t, 2, Fail)
	other := newTestPool(t, 2, Fail)

	l, _ := p.Borrow(context.Background())
	foreign, _ := other.Borrow(context.Background())

	if err := p.Return(foreign); !errors.Is(err, ErrForeignLease) {
		t.Errorf("expected ErrForeignLease, got %v", err)
	}
	if err := p.Return(Lease[testItem]{}); !errors.Is(err, ErrForeignLease) {
		t.Errorf("expected ErrForeignLease for zero lease, got %v", err)
	}

	if err := p.Return(l); err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if err := p.Return(l); !errors.Is(err, ErrNotLeased) {
		t.Errorf("expected ErrNotLeased on double return, got %v", err)
	}
	if l.Value() != nil {
		t.Errorf("stale lease still resolves to an instance")
	}

	// a stale handle must not return the instance of the next borrower
	next, _ := p.Borrow(context.Background())
	if err := p.Return(l); !errors.Is(err, ErrNotLeased) {
		t.Errorf("expected ErrNotLeased for stale lease, got %v", err)
	}
	if !next.Valid() {
		t.Errorf("stale return invalidated the current lease")
	}
}

func TestConcurrentBorrowReturn(t *testing.T) {
	p := newTestPool(t, 8, BlockUntilAvailable)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		inUse  = map[*testItem]bool{}
		failed bool
	)

	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l, err := p.Borrow(context.Background())
				if err != nil {
					t.Errorf("borrow failed: %v", err)
					return
				}
				v := l.Value()
				mu.Lock()
				if inUse[v] {
					failed = true
				}
				inUse[v] = true
				mu.Unlock()

				mu.Lock()
				delete(inUse, v)
				mu.Unlock()
				if err := p.Return(l); err != nil {
					t.Errorf("return failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if failed {
		t.Errorf("an instance was leased to two owners at once")
	}
	if p.Created() > 8 || p.Leased() != 0 {
		t.Errorf("expected at most 8 created and none leased, got %d / %d", p.Created(), p.Leased())
	}
}

func TestCloseAbortsBorrow(t *testing.T) {
	p := newTestPool(t, 1, BlockUntilAvailable)
	p.Borrow(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Borrow(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not release the blocked borrow")
	}
}

func TestInvalidConfig(t *testing.T) {
	factory := func() *testItem { return &testItem{} }
	if _, err := New(Config{MaximumPooled: 0}, factory, nil); err == nil {
		t.Errorf("expected error for zero capacity")
	}
	if _, err := New(Config{MaximumPooled: 1, MinimumReserved: 2}, factory, nil); err == nil {
		t.Errorf("expected error for reserve above capacity")
	}
	p, err := New(Config{MaximumPooled: 3, MinimumReserved: 2}, factory, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Created() != 2 || p.Available() != 2 {
		t.Errorf("expected 2 reserved instances, got %d / %d", p.Created(), p.Available())
	}
}
