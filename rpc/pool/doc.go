// Package pool provides a bounded object pool for message contexts and transports.
//
// Instances live in a fixed arena of slots. Borrow hands out a Lease, a small handle
// holding the slot index and a generation number; Return bumps the generation, so a
// lease that was already returned no longer resolves to an instance and cannot be
// returned a second time. Leases issued by another pool are rejected.
//
// When every slot is leased, Borrow either blocks until a return (BlockUntilAvailable)
// or fails immediately with ErrExhausted (Fail), depending on Config.ExhaustionPolicy.
package pool
