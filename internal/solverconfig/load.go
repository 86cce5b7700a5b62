package solverconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// CLIFlags is parsed by kong in cmd/solver/main.go; ConfigPath names the
// TOML file to load, and the rest are narrow overrides useful for local
// runs without editing the file.
type CLIFlags struct {
	ConfigPath string `kong:"name='config',short='c',default='solver.toml',help='Path to solver TOML config.'"`
	WorkerID   string `kong:"name='worker-id',help='Override instance_id / worker id for this process.'"`
	DryRun     bool   `kong:"name='dry-run',help='Run the tick loop without ever calling store.Migrate (schema must already exist).'"`
}

// defaults applied before parsing, mirroring original_source's AppConfig
// construction defaults for timing knobs omitted from a minimal solver.toml.
func defaults() AppConfig {
	return AppConfig{
		Jobs: JobConfig{
			TickInterval:      5 * time.Second,
			FillMaxClaims:     50,
			MaxInFlightJobs:   20,
			LeaseDuration:     60 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			ConsolidationMaxPreTxs: 4,
			BreakerMismatchPenalty: 10,
			DelegateReservationTTL: 5 * time.Minute,
		},
		Indexer: IndexerConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a solver.toml file into AppConfig, applying
// defaults first so a minimal config file only needs to override what
// matters for a given deployment.
func Load(path string) (AppConfig, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.InstanceID == "" {
		return cfg, fmt.Errorf("config %s: instance_id must be set", path)
	}
	return cfg, nil
}
