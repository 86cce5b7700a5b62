package safety

import (
	"context"
	"time"
)

// ReservationStoreFuncs adapts store.DurableStore's OwnerCapacities (which
// returns store.OwnerCapacityRow, to keep store free of any dependency on
// safety's types) to the ReservationStore interface this package consumes.
// cmd/solver constructs one of these around the concrete *store.DurableStore.
type ReservationStoreFuncs struct {
	OwnerCapacitiesFn   func(ctx context.Context, resource string) ([]OwnerCapacity, error)
	ReservationForJobFn func(ctx context.Context, jobID int64) (owner [21]byte, resource string, reservedSun int64, found bool, err error)
	UpsertReservationFn func(ctx context.Context, jobID int64, owner [21]byte, resource string, reservedSun int64, ttl time.Duration) error
	DeleteReservationFn func(ctx context.Context, jobID int64) error
}

func (f ReservationStoreFuncs) OwnerCapacities(ctx context.Context, resource string) ([]OwnerCapacity, error) {
	return f.OwnerCapacitiesFn(ctx, resource)
}

func (f ReservationStoreFuncs) ReservationForJob(ctx context.Context, jobID int64) (owner [21]byte, resource string, reservedSun int64, found bool, err error) {
	return f.ReservationForJobFn(ctx, jobID)
}

func (f ReservationStoreFuncs) UpsertReservation(ctx context.Context, jobID int64, owner [21]byte, resource string, reservedSun int64, ttl time.Duration) error {
	return f.UpsertReservationFn(ctx, jobID, owner, resource, reservedSun, ttl)
}

func (f ReservationStoreFuncs) DeleteReservation(ctx context.Context, jobID int64) error {
	return f.DeleteReservationFn(ctx, jobID)
}
