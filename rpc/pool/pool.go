package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("pool")

var (
	// ErrExhausted is returned by Borrow under the Fail policy when every slot is leased
	ErrExhausted = errors.New("pool: exhausted")
	// ErrForeignLease is returned when a lease is returned to a pool that did not issue it
	ErrForeignLease = errors.New("pool: lease was issued by another pool")
	// ErrNotLeased is returned when a lease is returned twice or is otherwise stale
	ErrNotLeased = errors.New("pool: instance is not leased")
	// ErrClosed is returned by Borrow after Close
	ErrClosed = errors.New("pool: closed")
)

// poolIDs hands out the identity that leases carry to detect foreign returns
var poolIDs atomic.Uint64

// slot holds one pooled instance. gen is bumped on every return so that
// leases issued before the return become stale.
type slot[T any] struct {
	value  *T
	gen    atomic.Uint32
	leased atomic.Bool
}

// Lease is a handle to a borrowed instance. It is a plain value, copying it does
// not duplicate the loan: the first Return wins, every later one fails.
type Lease[T any] struct {
	pool  *Pool[T]
	index int32
	gen   uint32
}

// Pool is a bounded arena of reusable instances addressed by Lease handles.
// Borrow and Return are safe for concurrent use.
type Pool[T any] struct {
	id      uint64
	config  Config
	factory func() *T
	reset   func(*T)

	slots   []slot[T]
	created atomic.Int32
	free    chan int32

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a pool. The factory is called lazily up to MaximumPooled times,
// MinimumReserved instances are created up front. reset (optional) runs on every return.
func New[T any](config Config, factory func() *T, reset func(*T)) (*Pool[T], error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("pool %q: factory must not be nil", config.Name)
	}

	p := &Pool[T]{
		id:      poolIDs.Add(1),
		config:  config,
		factory: factory,
		reset:   reset,
		slots:   make([]slot[T], config.MaximumPooled),
		free:    make(chan int32, config.MaximumPooled),
		closed:  make(chan struct{}),
	}

	for i := 0; i < config.MinimumReserved; i++ {
		idx, ok := p.grow()
		if !ok {
			break
		}
		p.free <- idx
	}

	Logger.Debugf("created pool %q (reserved %d, max %d, policy %s)",
		config.Name, config.MinimumReserved, config.MaximumPooled, config.ExhaustionPolicy)
	return p, nil
}

// --------------------------------------------------------------------------
// Borrow / Return
// --------------------------------------------------------------------------

// Borrow leases a free instance. When every slot is leased the call blocks until a
// return or ctx is done (BlockUntilAvailable) or fails with ErrExhausted (Fail).
func (p *Pool[T]) Borrow(ctx context.Context) (Lease[T], error) {
	select {
	case <-p.closed:
		return Lease[T]{}, ErrClosed
	default:
	}

	// fast path: a free instance
	select {
	case idx := <-p.free:
		return p.lease(idx), nil
	default:
	}

	// create a new instance while below the cap
	if idx, ok := p.grow(); ok {
		return p.lease(idx), nil
	}

	if p.config.ExhaustionPolicy == Fail {
		return Lease[T]{}, fmt.Errorf("%w: %q has %d leased instances", ErrExhausted, p.config.Name, p.config.MaximumPooled)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if p.config.BorrowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.BorrowTimeout)
		defer cancel()
	}

	select {
	case idx := <-p.free:
		return p.lease(idx), nil
	case <-p.closed:
		return Lease[T]{}, ErrClosed
	case <-ctx.Done():
		return Lease[T]{}, fmt.Errorf("pool %q: borrow aborted: %w", p.config.Name, ctx.Err())
	}
}

// Return gives a leased instance back. Returning a lease of another pool, a lease
// that was already returned or a zero lease fails and leaves the pool untouched.
func (p *Pool[T]) Return(l Lease[T]) error {
	if l.pool != p {
		return ErrForeignLease
	}
	s := &p.slots[l.index]
	if s.gen.Load() != l.gen || !s.leased.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: slot %d generation %d", ErrNotLeased, l.index, l.gen)
	}

	if p.reset != nil {
		p.reset(s.value)
	}
	s.gen.Add(1)
	p.free <- l.index
	return nil
}

// Close makes every pending and future Borrow fail with ErrClosed
func (p *Pool[T]) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// --------------------------------------------------------------------------
// Lease accessors
// --------------------------------------------------------------------------

// Value returns the leased instance, or nil when the lease is stale
func (l Lease[T]) Value() *T {
	if l.pool == nil {
		return nil
	}
	s := &l.pool.slots[l.index]
	if s.gen.Load() != l.gen || !s.leased.Load() {
		return nil
	}
	return s.value
}

// Valid reports whether the lease still refers to a leased instance
func (l Lease[T]) Valid() bool {
	return l.Value() != nil
}

// Pool returns the pool that issued the lease
func (l Lease[T]) Pool() *Pool[T] {
	return l.pool
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Name returns the configured pool name
func (p *Pool[T]) Name() string { return p.config.Name }

// Capacity returns the maximum number of instances
func (p *Pool[T]) Capacity() int { return p.config.MaximumPooled }

// Created returns the number of instances created so far
func (p *Pool[T]) Created() int { return int(p.created.Load()) }

// Available returns the number of free instances that were already created
func (p *Pool[T]) Available() int { return len(p.free) }

// Leased returns the number of instances currently on loan
func (p *Pool[T]) Leased() int { return p.Created() - p.Available() }

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// grow creates a new instance if the cap allows it and returns its slot index
func (p *Pool[T]) grow() (int32, bool) {
	for {
		n := p.created.Load()
		if int(n) >= p.config.MaximumPooled {
			return 0, false
		}
		if p.created.CompareAndSwap(n, n+1) {
			p.slots[n].value = p.factory()
			return n, true
		}
	}
}

// lease marks a slot as leased and builds its handle
func (p *Pool[T]) lease(idx int32) Lease[T] {
	s := &p.slots[idx]
	s.leased.Store(true)
	return Lease[T]{pool: p, index: idx, gen: s.gen.Load()}
}
