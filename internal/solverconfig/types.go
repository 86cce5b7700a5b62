// Package solverconfig defines the TOML-parsed configuration surface for
// the solver binary. Grounded on
// original_source/apps/solver/src/config/types.rs, trimmed to the durable
// job engine's scope (pricing/controller-rebalance fields are out of scope
// per spec.md's Non-goals and are not carried over).
package solverconfig

import "time"

type HubTxMode string

const (
	HubTxModeEOA      HubTxMode = "eoa"
	HubTxModeSafe4337 HubTxMode = "safe4337"
)

type TargetMode string

const (
	TargetModeGRPC TargetMode = "grpc"
	TargetModeMock TargetMode = "mock"
)

// AppConfig is the root of solver.toml.
type AppConfig struct {
	Indexer  IndexerConfig  `toml:"indexer"`
	Hub      HubConfig      `toml:"hub"`
	Target   TargetConfig   `toml:"target"`
	Jobs     JobConfig      `toml:"jobs"`
	Policy   PolicyConfig   `toml:"policy"`
	DBUrl    string         `toml:"db_url"`
	InstanceID string       `toml:"instance_id"`
}

type IndexerConfig struct {
	BaseURL          string        `toml:"base_url"`
	Timeout          time.Duration `toml:"timeout"`
	MaxHeadLagBlocks int64         `toml:"max_head_lag_blocks"`
}

type PaymasterServiceConfig struct {
	URL     string `toml:"url"`
	Context string `toml:"context"`
}

type HubConfig struct {
	TxMode             HubTxMode                `toml:"tx_mode"`
	RPCURL             string                   `toml:"rpc_url"`
	ChainID            *uint64                  `toml:"chain_id"`
	Pool               string                   `toml:"pool"`
	EntryPoint         string                   `toml:"entrypoint"`
	Safe               string                   `toml:"safe"`
	Safe4337Module     string                   `toml:"safe_4337_module"`
	BundlerURLs        []string                 `toml:"bundler_urls"`
	Paymasters         []PaymasterServiceConfig `toml:"paymasters"`
	SignerPrivateKeyHex string                  `toml:"signer_private_key"`
}

type TargetConfig struct {
	Mode                   TargetMode `toml:"mode"`
	GrpcURL                string     `toml:"grpc_url"`
	APIKey                 string     `toml:"api_key"`
	PrivateKeysHex         []string   `toml:"private_keys"`
	ControllerAddress      string     `toml:"controller_address"`
	BlockLag               int64      `toml:"block_lag"`
	FeeLimitCapSun         int64      `toml:"fee_limit_cap_sun"`
	FeeLimitHeadroomPPM    int64      `toml:"fee_limit_headroom_ppm"`
	StakeTotalsCacheTTL    time.Duration `toml:"stake_totals_cache_ttl"`
	EmulationEnabled       bool       `toml:"emulation_enabled"`
}

type JobConfig struct {
	TickInterval time.Duration `toml:"tick_interval"`

	FillMaxClaims  int64 `toml:"fill_max_claims"`
	MaxInFlightJobs int64 `toml:"max_in_flight_jobs"`

	ConcurrencyTrxTransfer          int64 `toml:"concurrency_trx_transfer"`
	ConcurrencyUsdtTransfer         int64 `toml:"concurrency_usdt_transfer"`
	ConcurrencyDelegateResource     int64 `toml:"concurrency_delegate_resource"`
	ConcurrencyTriggerSmartContract int64 `toml:"concurrency_trigger_smart_contract"`
	ConcurrencyTargetBroadcast      int64 `toml:"concurrency_target_broadcast"`

	ConsolidationEnabled               bool  `toml:"consolidation_enabled"`
	ConsolidationMaxPreTxs             int   `toml:"consolidation_max_pre_txs"`
	ConsolidationMaxTotalTrxPullSun    int64 `toml:"consolidation_max_total_trx_pull_sun"`
	ConsolidationMaxPerTxTrxPullSun    int64 `toml:"consolidation_max_per_tx_trx_pull_sun"`
	ConsolidationMaxTotalUsdtPullAmount int64 `toml:"consolidation_max_total_usdt_pull_amount"`
	ConsolidationMaxPerTxUsdtPullAmount int64 `toml:"consolidation_max_per_tx_usdt_pull_amount"`

	RateLimitClaimsPerMinuteGlobal                  int64 `toml:"rate_limit_claims_per_minute_global"`
	RateLimitClaimsPerMinuteTrxTransfer              int64 `toml:"rate_limit_claims_per_minute_trx_transfer"`
	RateLimitClaimsPerMinuteUsdtTransfer             int64 `toml:"rate_limit_claims_per_minute_usdt_transfer"`
	RateLimitClaimsPerMinuteDelegateResource         int64 `toml:"rate_limit_claims_per_minute_delegate_resource"`
	RateLimitClaimsPerMinuteTriggerSmartContract     int64 `toml:"rate_limit_claims_per_minute_trigger_smart_contract"`

	GlobalPauseFatalThreshold int64         `toml:"global_pause_fatal_threshold"`
	GlobalPauseWindow         time.Duration `toml:"global_pause_window"`
	GlobalPauseDuration       time.Duration `toml:"global_pause_duration"`

	BreakerMismatchPenalty int32 `toml:"breaker_mismatch_penalty"`

	DelegateReservationTTL time.Duration `toml:"delegate_reservation_ttl"`

	LeaseDuration    time.Duration `toml:"lease_duration"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
}

// PolicyConfig gates which intent types this worker will service and the
// coarse per-type caps from spec.md §9's "pluggable profitability check";
// the pricing math itself stays out of scope.
type PolicyConfig struct {
	EnabledIntentTypes []int16 `toml:"enabled_intent_types"`
	MinDeadlineSlackSecs int64 `toml:"min_deadline_slack_secs"`

	TriggerContractAllowlist []string `toml:"trigger_contract_allowlist"`
	TriggerContractDenylist  []string `toml:"trigger_contract_denylist"`
	TriggerSelectorDenylist  []string `toml:"trigger_selector_denylist"`
	TriggerAllowFallbackCalls bool    `toml:"trigger_allow_fallback_calls"`

	MaxTrxTransferSun       *int64 `toml:"max_trx_transfer_sun"`
	MaxUsdtTransferAmount   *int64 `toml:"max_usdt_transfer_amount"`
	MaxDelegateBalanceSun   *int64 `toml:"max_delegate_balance_sun"`
	MaxTriggerCallValueSun  *int64 `toml:"max_trigger_call_value_sun"`
	MaxTriggerCalldataLen   *int64 `toml:"max_trigger_calldata_len"`
}
