package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
)

// OwnerCapacity is one solver-controlled account's capacity for a resource
// kind, as read from DurableStore's owner_capacity table.
type OwnerCapacity struct {
	OwnerAddress [21]byte
	AvailableSun int64
	ReservedSun  int64 // sum of active reservations for this owner+resource
}

// ReservationStore is the narrow persistence surface DelegateReservation
// needs.
type ReservationStore interface {
	OwnerCapacities(ctx context.Context, resource string) ([]OwnerCapacity, error)
	ReservationForJob(ctx context.Context, jobID int64) (owner [21]byte, resource string, reservedSun int64, found bool, err error)
	UpsertReservation(ctx context.Context, jobID int64, owner [21]byte, resource string, reservedSun int64, ttl time.Duration) error
	DeleteReservation(ctx context.Context, jobID int64) error
}

// DelegateReservation pre-commits solver-owned staked target-chain capacity
// to a job so concurrent jobs never double-book the same stake, per
// spec.md §4.3 and original_source/runner/job.rs::ensure_delegate_reservation.
type DelegateReservation struct {
	store ReservationStore
	ttl   time.Duration
}

func NewDelegateReservation(store ReservationStore, ttl time.Duration) *DelegateReservation {
	return &DelegateReservation{store: store, ttl: ttl}
}

// Ensure selects the owner with the greatest effective capacity
// (available - reserved, floored at 0) that can cover neededSun, ties
// broken by higher effective capacity (a tie implies equal capacity, so any
// stable ordering suffices), and upserts a reservation for jobID.
//
// A job that already holds a live reservation reuses it (refreshing its TTL
// in place) instead of re-running owner selection: OwnerCapacities sums the
// job's own reservation into "reserved", so recomputing on every retry would
// have the job's existing stake count against itself. Grounded on
// original_source/apps/solver/src/runner/job.rs::ensure_delegate_reservation,
// which checks for an existing reservation before touching capacity at all.
func (d *DelegateReservation) Ensure(ctx context.Context, jobID int64, resource string, neededSun int64) ([21]byte, error) {
	if owner, existingResource, reservedSun, found, err := d.store.ReservationForJob(ctx, jobID); err != nil {
		return [21]byte{}, fmt.Errorf("read existing reservation: %w", err)
	} else if found && existingResource == resource && reservedSun >= neededSun {
		if err := d.store.UpsertReservation(ctx, jobID, owner, resource, reservedSun, d.ttl); err != nil {
			return [21]byte{}, fmt.Errorf("refresh delegate reservation: %w", err)
		}
		return owner, nil
	}

	owners, err := d.store.OwnerCapacities(ctx, resource)
	if err != nil {
		return [21]byte{}, fmt.Errorf("read owner capacities: %w", err)
	}

	var chosen *OwnerCapacity
	var chosenEffective int64
	for i := range owners {
		o := &owners[i]
		effective := o.AvailableSun - o.ReservedSun
		if effective < 0 {
			effective = 0
		}
		if effective < neededSun {
			continue
		}
		if chosen == nil || effective > chosenEffective {
			chosen = o
			chosenEffective = effective
		}
	}
	if chosen == nil {
		return [21]byte{}, joberr.NewFatal("delegate_capacity_insufficient: resource=%s needed_sun=%d", resource, neededSun)
	}

	if err := d.store.UpsertReservation(ctx, jobID, chosen.OwnerAddress, resource, neededSun, d.ttl); err != nil {
		return [21]byte{}, fmt.Errorf("upsert delegate reservation: %w", err)
	}
	return chosen.OwnerAddress, nil
}

// Release deletes the reservation on job completion or fatal failure.
func (d *DelegateReservation) Release(ctx context.Context, jobID int64) error {
	if err := d.store.DeleteReservation(ctx, jobID); err != nil {
		return fmt.Errorf("release delegate reservation: %w", err)
	}
	return nil
}
