package pool

import (
	"fmt"
	"time"
)

// ExhaustionPolicy decides what Borrow does when every instance is leased
type ExhaustionPolicy int

const (
	// BlockUntilAvailable makes Borrow wait for a return
	BlockUntilAvailable ExhaustionPolicy = iota
	// Fail makes Borrow return ErrExhausted immediately
	Fail
)

func (p ExhaustionPolicy) String() string {
	switch p {
	case BlockUntilAvailable:
		return "block"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("ExhaustionPolicy(%d)", int(p))
	}
}

// ParseExhaustionPolicy parses "block" or "fail"
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	switch s {
	case "block":
		return BlockUntilAvailable, nil
	case "fail":
		return Fail, nil
	default:
		return 0, fmt.Errorf("invalid exhaustion policy %q (expected block or fail)", s)
	}
}

// Config configures a Pool
type Config struct {
	Name             string
	MinimumReserved  int
	MaximumPooled    int
	ExhaustionPolicy ExhaustionPolicy
	// BorrowTimeout bounds blocking borrows, zero waits for the caller's context only
	BorrowTimeout time.Duration
}

func (c Config) validate() error {
	if c.MaximumPooled <= 0 {
		return fmt.Errorf("pool %q: MaximumPooled must be positive, got %d", c.Name, c.MaximumPooled)
	}
	if c.MinimumReserved < 0 || c.MinimumReserved > c.MaximumPooled {
		return fmt.Errorf("pool %q: MinimumReserved must be in [0, %d], got %d", c.Name, c.MaximumPooled, c.MinimumReserved)
	}
	return nil
}
