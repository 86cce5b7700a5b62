// Command solver runs the durable job-engine worker: it connects to
// Postgres, applies pending migrations, wires the indexer/hub/target
// collaborators, and runs the tick/dispatcher loop until interrupted.
// Grounded on ep-eaglepoint-ai-bd_datasets_002/m5pt43-event-sourcing-go's
// cmd/eventstore/main.go for the connect -> serve -> graceful-shutdown
// shape, and original_source/apps/solver/src/main.rs for the boot sequence.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/ultrasoundlabs/untron-solver/internal/aa"
	"github.com/ultrasoundlabs/untron-solver/internal/dispatcher"
	"github.com/ultrasoundlabs/untron-solver/internal/hub"
	"github.com/ultrasoundlabs/untron-solver/internal/hubflow"
	"github.com/ultrasoundlabs/untron-solver/internal/indexer"
	"github.com/ultrasoundlabs/untron-solver/internal/profitability"
	"github.com/ultrasoundlabs/untron-solver/internal/safety"
	"github.com/ultrasoundlabs/untron-solver/internal/solverconfig"
	"github.com/ultrasoundlabs/untron-solver/internal/store"
	"github.com/ultrasoundlabs/untron-solver/internal/target"
	"github.com/ultrasoundlabs/untron-solver/internal/targetflow"
	"github.com/ultrasoundlabs/untron-solver/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var flags solverconfig.CLIFlags
	kong.Parse(&flags, kong.Description("Cross-chain intent solver worker."))

	if err := run(flags); err != nil {
		log.Error("solver exited with error", "err", err)
		os.Exit(1)
	}
}

func run(flags solverconfig.CLIFlags) error {
	cfg, err := solverconfig.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	workerID := cfg.InstanceID
	if flags.WorkerID != "" {
		workerID = flags.WorkerID
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	durableStore, err := store.Open(ctx, cfg.DBUrl)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer durableStore.Close()
	db := durableStore.DB()

	if !flags.DryRun {
		if err := store.Migrate(ctx, db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	idx := indexer.NewHTTPClient(cfg.Indexer.BaseURL)
	tele := telemetry.New(prometheus.DefaultRegisterer)

	breaker := safety.NewCircuitBreaker(safety.SQLBreakerStore{DB: db}, cfg.Jobs.BreakerMismatchPenalty)
	reservations := safety.NewDelegateReservation(reservationAdapter(durableStore), cfg.Jobs.DelegateReservationTTL)

	targetDriver, closeDriver, err := dialTargetDriver(cfg.Target)
	if err != nil {
		return fmt.Errorf("dial target driver: %w", err)
	}
	defer closeDriver()

	hubEth, err := ethclient.DialContext(ctx, cfg.Hub.RPCURL)
	if err != nil {
		return fmt.Errorf("dial hub rpc: %w", err)
	}
	defer hubEth.Close()

	hubClient, err := dialHubClient(ctx, hubEth, cfg.Hub, durableStore)
	if err != nil {
		return fmt.Errorf("build hub client: %w", err)
	}

	dispatch := &dispatcher.Dispatcher{
		Store:         durableStore,
		Indexer:       idx,
		Telemetry:     tele,
		WorkerID:      workerID,
		LeaseDuration: cfg.Jobs.LeaseDuration,
		MaxInFlight:   cfg.Jobs.MaxInFlightJobs,
		FillMaxClaims: int(cfg.Jobs.FillMaxClaims),
		TypeSemaphores: map[store.IntentType]*semaphore.Weighted{
			store.IntentTrxTransfer:      semaphore.NewWeighted(max1(cfg.Jobs.ConcurrencyTrxTransfer)),
			store.IntentUsdtTransfer:     semaphore.NewWeighted(max1(cfg.Jobs.ConcurrencyUsdtTransfer)),
			store.IntentDelegateResource: semaphore.NewWeighted(max1(cfg.Jobs.ConcurrencyDelegateResource)),
			store.IntentTriggerContract:  semaphore.NewWeighted(max1(cfg.Jobs.ConcurrencyTriggerSmartContract)),
		},
		Handlers: dispatcher.HandlerSet{
			Hub: &hubflow.Handlers{
				Store:       durableStore,
				GlobalPause: safety.NewGlobalPause(durableStore, cfg.Jobs.GlobalPauseFatalThreshold, int64(cfg.Jobs.GlobalPauseWindow.Seconds()), int64(cfg.Jobs.GlobalPauseDuration.Seconds())),
				RateLimit: safety.NewRateLimit(durableStore, map[string]int64{
					"claim:global":                    cfg.Jobs.RateLimitClaimsPerMinuteGlobal,
					"claim:trx_transfer":               cfg.Jobs.RateLimitClaimsPerMinuteTrxTransfer,
					"claim:usdt_transfer":              cfg.Jobs.RateLimitClaimsPerMinuteUsdtTransfer,
					"claim:delegate_resource":          cfg.Jobs.RateLimitClaimsPerMinuteDelegateResource,
					"claim:trigger_smart_contract":     cfg.Jobs.RateLimitClaimsPerMinuteTriggerSmartContract,
				}),
				IndexerLag:    &safety.IndexerLagGuard{MaxHeadLagBlocks: cfg.Indexer.MaxHeadLagBlocks},
				Profitability: profitability.AlwaysAllow{},
				IndexerHead: func(ctx context.Context) (int64, error) { return idx.LatestIndexedBlock(ctx) },
				HubHead: func(ctx context.Context) (int64, error) {
					n, err := hubEth.BlockNumber(ctx)
					return int64(n), err
				},
				Hub:      hubClient,
				WorkerID: workerID,
			},
			Target: &targetflow.Handlers{
				Store:              durableStore,
				Driver:             targetDriver,
				Breaker:            breaker,
				Reservations:       reservations,
				Hub:                hubClient,
				Telemetry:          tele,
				WorkerID:           workerID,
				LeaseDuration:      cfg.Jobs.LeaseDuration,
				BroadcastSem:       semaphore.NewWeighted(max1(cfg.Jobs.ConcurrencyTargetBroadcast)),
				InclusionTimeout:   60 * time.Second,
				ProofBuildDeadline: 180 * time.Second,
				PollInterval:       time.Second,
			},
		},
	}

	log.Info("solver starting", "worker_id", workerID, "tick_interval", cfg.Jobs.TickInterval)

	ticker := time.NewTicker(cfg.Jobs.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("solver shutting down")
			return nil
		case <-ticker.C:
			if err := dispatch.Tick(ctx); err != nil {
				log.Warn("tick aborted", "err", err)
			}
		}
	}
}

// dialTargetDriver wires target.Driver to either a live gRPC driver service
// (target.GrpcClient, using the JSON content-subtype codec registered in
// internal/target/jsoncodec.go) or the in-memory mock, per
// TargetConfig.Mode. The returned closer is a no-op for the mock.
func dialTargetDriver(cfg solverconfig.TargetConfig) (target.Driver, func(), error) {
	if cfg.Mode == solverconfig.TargetModeMock {
		return target.NewMockDriver(), func() {}, nil
	}
	conn, err := grpc.NewClient(cfg.GrpcURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, func() {}, fmt.Errorf("dial target driver grpc: %w", err)
	}
	return target.NewGrpcClient(conn), func() { conn.Close() }, nil
}

// dialHubClient builds the hub.Client for the configured tx mode: a plain
// EOA signer, or an AA/ERC-4337 bundler path wrapping a Safe-owned
// UserOperation per intent call.
func dialHubClient(ctx context.Context, eth *ethclient.Client, cfg solverconfig.HubConfig, st *store.DurableStore) (hub.Client, error) {
	intentsABI, err := hub.IntentsABI()
	if err != nil {
		return nil, fmt.Errorf("build intents abi: %w", err)
	}
	chainID, err := resolveChainID(ctx, eth, cfg.ChainID)
	if err != nil {
		return nil, err
	}

	switch cfg.TxMode {
	case solverconfig.HubTxModeEOA:
		key, err := crypto.HexToECDSA(cfg.SignerPrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("parse signer private key: %w", err)
		}
		signer := hub.NewECDSASigner(eth, key, chainID)
		return hub.NewEOAClient(eth, common.HexToAddress(cfg.Pool), signer, intentsABI), nil

	case solverconfig.HubTxModeSafe4337:
		owner, err := crypto.HexToECDSA(cfg.SignerPrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("parse safe owner private key: %w", err)
		}
		if len(cfg.BundlerURLs) == 0 {
			return nil, fmt.Errorf("hub.bundler_urls must name at least one bundler for tx_mode=safe4337")
		}
		logReader, err := hub.NewEntryPointLogReader(eth)
		if err != nil {
			return nil, err
		}
		return hub.NewSafe4337Client(
			eth, chainID,
			aa.Safe4337Config{
				EntryPoint:     common.HexToAddress(cfg.EntryPoint),
				Safe4337Module: common.HexToAddress(cfg.Safe4337Module),
			},
			owner,
			common.HexToAddress(cfg.Safe),
			common.HexToAddress(cfg.Pool),
			intentsABI,
			aa.NewHTTPBundler(cfg.BundlerURLs[0]),
			logReader,
			hubUserOpStoreAdapter{st},
		), nil

	default:
		return nil, fmt.Errorf("hub tx_mode %q not supported by this build", cfg.TxMode)
	}
}

// hubUserOpStoreAdapter bridges DurableStore's store.HubUserOp(Kind) types
// to hub.UserOpStore's narrower aliases, the same pattern reservationAdapter
// uses for safety.ReservationStore.
type hubUserOpStoreAdapter struct {
	s *store.DurableStore
}

func (a hubUserOpStoreAdapter) UpsertHubUserOp(ctx context.Context, op hub.UserOpRow) error {
	row := store.HubUserOp{
		IntentID:    op.IntentID,
		Kind:        store.HubUserOpKind(op.Kind),
		State:       store.HubUserOpState(op.State),
		UserOpHash:  op.UserOpHash,
		TxHash:      op.TxHash,
		BlockNumber: op.BlockNumber,
		Success:     op.Success,
		Receipt:     op.Receipt,
	}
	return a.s.UpsertHubUserOp(ctx, row)
}

func (a hubUserOpStoreAdapter) HubUserOpFor(ctx context.Context, intentID [32]byte, kind hub.UserOpKind) (*hub.UserOpRow, bool, error) {
	row, found, err := a.s.HubUserOpFor(ctx, intentID, store.HubUserOpKind(kind))
	if err != nil || !found {
		return nil, found, err
	}
	return &hub.UserOpRow{
		IntentID:    row.IntentID,
		Kind:        hub.UserOpKind(row.Kind),
		State:       string(row.State),
		UserOpHash:  row.UserOpHash,
		TxHash:      row.TxHash,
		BlockNumber: row.BlockNumber,
		Success:     row.Success,
		Receipt:     row.Receipt,
	}, true, nil
}

func resolveChainID(ctx context.Context, eth *ethclient.Client, configured *uint64) (*big.Int, error) {
	if configured != nil {
		return new(big.Int).SetUint64(*configured), nil
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return id, nil
}

func max1(n int64) int64 {
	if n < 1 {
		return 1
	}
	return n
}

// reservationAdapter bridges DurableStore's concrete OwnerCapacityRow
// return type to safety.ReservationStore's OwnerCapacity shape.
func reservationAdapter(s *store.DurableStore) safety.ReservationStore {
	return safety.ReservationStoreFuncs{
		OwnerCapacitiesFn: func(ctx context.Context, resource string) ([]safety.OwnerCapacity, error) {
			rows, err := s.OwnerCapacities(ctx, resource)
			if err != nil {
				return nil, err
			}
			out := make([]safety.OwnerCapacity, len(rows))
			for i, r := range rows {
				out[i] = safety.OwnerCapacity{OwnerAddress: r.OwnerAddress, AvailableSun: r.AvailableSun, ReservedSun: r.ReservedSun}
			}
			return out, nil
		},
		ReservationForJobFn: s.ReservationForJob,
		UpsertReservationFn: s.UpsertReservation,
		DeleteReservationFn: s.DeleteReservation,
	}
}
