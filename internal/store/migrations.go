package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erigontech/erigon-lib/log/v3"
)

// migrationLockKey is the Postgres advisory lock key guarding schema
// migrations. It is the ASCII bytes of "UNTRSOLV" packed into an int64,
// mirroring how original_source pins a single fixed constant
// (MIGRATION_LOCK_KEY) so any number of concurrently starting workers
// serialize on the same lock rather than colliding on hashed names.
const migrationLockKey int64 = 0x554e_5452_534f_4c56

// migration is one ordered, idempotent schema statement. Statements must be
// safe to re-run (IF NOT EXISTS / ON CONFLICT), matching
// original_source/apps/solver/src/db/migrations.rs's MIGRATIONS list.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"0001_schema", `create schema if not exists solver`},
	{"0002_jobs", `
		create table if not exists solver.jobs (
			job_id bigserial primary key,
			intent_id bytea not null unique,
			intent_type smallint not null,
			intent_specs bytea not null,
			deadline bigint not null,
			state text not null default 'ready',
			attempts bigint not null default 0,
			leased_by text,
			lease_until timestamptz,
			next_retry_at timestamptz not null default now(),
			last_error text,
			claim_tx_hash bytea,
			prove_tx_hash bytea,
			target_txid bytea,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`},
	{"0003_jobs_lease_idx", `create index if not exists jobs_lease_idx on solver.jobs (state, next_retry_at)`},
	{"0004_target_signed_txs", `
		create table if not exists solver.target_signed_txs (
			job_id bigint not null references solver.jobs(job_id),
			step int not null,
			txid bytea not null,
			tx_bytes bytea not null,
			fee_limit bigint not null,
			energy_required bigint not null,
			size_bytes bigint not null,
			primary key (job_id, step)
		)`},
	{"0005_inclusion_proofs", `
		create table if not exists solver.inclusion_proofs (
			txid bytea primary key,
			blocks bytea[] not null,
			encoded_tx bytea not null,
			proof_path bytea[] not null,
			index_dec text not null,
			written_at timestamptz not null default now()
		)`},
	{"0006_target_tx_costs", `
		create table if not exists solver.target_tx_costs (
			job_id bigint not null,
			txid bytea not null,
			intent_type smallint,
			fee_sun bigint,
			energy_usage_total bigint,
			net_usage bigint,
			energy_fee_sun bigint,
			net_fee_sun bigint,
			block_number bigint,
			block_timestamp bigint,
			result_code int,
			result_message text,
			primary key (job_id, txid)
		)`},
	{"0007_circuit_breakers", `
		create table if not exists solver.circuit_breakers (
			contract bytea not null,
			selector bytea,
			fail_count bigint not null default 0,
			cooldown_until timestamptz not null default now()
		);
		create unique index if not exists circuit_breakers_contract_selector_uidx
			on solver.circuit_breakers (contract, (coalesce(selector, ''::bytea)))`},
	{"0008_rate_limits", `
		create table if not exists solver.rate_limits (
			key text not null,
			window_start timestamptz not null,
			count bigint not null default 0,
			updated_at timestamptz not null default now(),
			primary key (key, window_start)
		)`},
	{"0009_global_pause", `
		create table if not exists solver.global_pause (
			id int primary key,
			pause_until timestamptz not null,
			reason text,
			updated_at timestamptz not null default now()
		)`},
	{"0010_delegate_reservations", `
		create table if not exists solver.delegate_reservations (
			job_id bigint primary key,
			owner_address bytea not null,
			resource text not null,
			reserved_sun bigint not null,
			expires_at timestamptz not null
		)`},
	{"0011_hub_userops", `
		create table if not exists solver.hub_userops (
			intent_id bytea not null,
			kind text not null,
			state text not null default 'pending',
			userop_hash bytea not null,
			tx_hash bytea,
			block_number bigint,
			success boolean,
			receipt jsonb,
			primary key (intent_id, kind)
		)`},
	{"0012_owner_capacity", `
		create table if not exists solver.owner_capacity (
			owner_address bytea not null,
			resource text not null,
			available_sun bigint not null,
			updated_at timestamptz not null default now(),
			primary key (owner_address, resource)
		)`},
	{"0013_intent_emulations", `
		create table if not exists solver.intent_emulations (
			intent_id bytea primary key,
			intent_type smallint not null,
			ok boolean not null,
			reason text,
			contract bytea,
			selector bytea,
			checked_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`},
}

// Migrate runs every not-yet-applied migration under a Postgres advisory
// lock held on a single dedicated connection, so concurrently starting
// workers serialize cleanly instead of racing DDL. Grounded on
// ep-eaglepoint-ai-bd_datasets_002's dblock.AcquireLock/ReleaseLock pattern
// (pg_advisory_lock on a pinned *sql.Conn) and original_source's
// SolverDb::migrate.
func Migrate(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `select pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			log.Warn("release migration advisory lock failed", "err", err)
		}
	}()

	if _, err := conn.ExecContext(ctx, `create schema if not exists solver`); err != nil {
		return fmt.Errorf("ensure solver schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `
		create table if not exists solver.schema_migrations (
			name text primary key,
			applied_at timestamptz not null default now()
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		row := conn.QueryRowContext(ctx, `select exists(select 1 from solver.schema_migrations where name=$1)`, m.name)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if exists {
			continue
		}
		if _, err := conn.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := conn.ExecContext(ctx, `insert into solver.schema_migrations(name) values ($1)`, m.name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		log.Info("applied migration", "name", m.name)
	}
	return nil
}
