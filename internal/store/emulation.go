package store

import (
	"context"
	"database/sql"
	"fmt"
)

// IntentEmulation is a prior simulation result for an intent, recorded
// before broadcast so a later on-chain failure can be compared against what
// simulation predicted. Grounded on
// original_source/apps/solver/src/db/intents.rs's IntentEmulationRow.
type IntentEmulation struct {
	OK       bool
	Reason   string
	Contract []byte
	Selector []byte
}

// UpsertIntentEmulation records (or replaces) the emulation outcome for an
// intent, keyed on intent_id so a later re-emulation overwrites rather than
// accumulating history.
func (s *DurableStore) UpsertIntentEmulation(ctx context.Context, intentID [32]byte, intentType IntentType, ok bool, reason string, contract, selector []byte) error {
	_, err := s.db.ExecContext(ctx, `
		insert into solver.intent_emulations (intent_id, intent_type, ok, reason, contract, selector, checked_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,now(),now())
		on conflict (intent_id) do update set
			intent_type=excluded.intent_type, ok=excluded.ok, reason=excluded.reason,
			contract=excluded.contract, selector=excluded.selector, checked_at=now(), updated_at=now()`,
		intentID[:], int16(intentType), ok, nullString(reason), contract, selector)
	if err != nil {
		return fmt.Errorf("upsert intent emulation: %w", err)
	}
	return nil
}

// IntentEmulation returns the most recently recorded emulation result for an
// intent, if any.
func (s *DurableStore) IntentEmulation(ctx context.Context, intentID [32]byte) (*IntentEmulation, bool, error) {
	var out IntentEmulation
	var reason sql.NullString
	row := s.db.QueryRowContext(ctx, `
		select ok, reason, contract, selector from solver.intent_emulations where intent_id=$1`, intentID[:])
	err := row.Scan(&out.OK, &reason, &out.Contract, &out.Selector)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query intent emulation: %w", err)
	}
	out.Reason = reason.String
	return &out, true, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
