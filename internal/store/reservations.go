package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OwnerCapacityRow mirrors safety.OwnerCapacity without importing the
// safety package (store must not depend on its own consumers).
type OwnerCapacityRow struct {
	OwnerAddress [21]byte
	AvailableSun int64
	ReservedSun  int64
}

// OwnerCapacities returns every solver-controlled account's capacity for a
// resource kind, joined against the sum of its currently-live reservations.
func (s *DurableStore) OwnerCapacities(ctx context.Context, resource string) ([]OwnerCapacityRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		select oc.owner_address, oc.available_sun,
			coalesce((
				select sum(dr.reserved_sun) from solver.delegate_reservations dr
				where dr.owner_address = oc.owner_address and dr.resource = oc.resource
					and dr.expires_at > now()
			), 0) as reserved_sun
		from solver.owner_capacity oc
		where oc.resource = $1`, resource)
	if err != nil {
		return nil, fmt.Errorf("owner_capacities: %w", err)
	}
	defer rows.Close()

	var out []OwnerCapacityRow
	for rows.Next() {
		var addr []byte
		var row OwnerCapacityRow
		if err := rows.Scan(&addr, &row.AvailableSun, &row.ReservedSun); err != nil {
			return nil, fmt.Errorf("owner_capacities scan: %w", err)
		}
		copy(row.OwnerAddress[:], addr)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReservationForJob returns jobID's current reservation, if any live one
// exists. Used to make Ensure idempotent across handler retries: a job that
// already holds a reservation must reuse it rather than re-running owner
// selection against capacity figures that already include its own stake.
func (s *DurableStore) ReservationForJob(ctx context.Context, jobID int64) (owner [21]byte, resource string, reservedSun int64, found bool, err error) {
	var addr []byte
	err = s.db.QueryRowContext(ctx, `
		select owner_address, resource, reserved_sun
		from solver.delegate_reservations
		where job_id = $1 and expires_at > now()`, jobID).Scan(&addr, &resource, &reservedSun)
	if err == sql.ErrNoRows {
		return [21]byte{}, "", 0, false, nil
	}
	if err != nil {
		return [21]byte{}, "", 0, false, fmt.Errorf("reservation_for_job: %w", err)
	}
	copy(owner[:], addr)
	return owner, resource, reservedSun, true, nil
}

// UpsertReservation pre-commits reservedSun of resource to jobID, owned by
// owner, expiring after ttl.
func (s *DurableStore) UpsertReservation(ctx context.Context, jobID int64, owner [21]byte, resource string, reservedSun int64, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		insert into solver.delegate_reservations(job_id, owner_address, resource, reserved_sun, expires_at)
		values ($1, $2, $3, $4, now() + make_interval(secs => $5))
		on conflict (job_id) do update set
			owner_address = excluded.owner_address,
			resource = excluded.resource,
			reserved_sun = excluded.reserved_sun,
			expires_at = excluded.expires_at`,
		jobID, owner[:], resource, reservedSun, int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("upsert_reservation: %w", err)
	}
	return nil
}

// DeleteReservation removes job_id's reservation, a no-op if none exists.
func (s *DurableStore) DeleteReservation(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `delete from solver.delegate_reservations where job_id=$1`, jobID)
	if err != nil {
		return fmt.Errorf("delete_reservation: %w", err)
	}
	return nil
}

// CleanupExpiredReservations deletes rows past their TTL. Nothing in this
// repository calls it on a schedule; rows past expires_at are left in the
// table until it is called.
func (s *DurableStore) CleanupExpiredReservations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from solver.delegate_reservations where expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup_expired_reservations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
