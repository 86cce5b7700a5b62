package safety

import (
	"context"

	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
)

// IndexerLagGuard rejects work with a Retryable "indexer_lag:" error when the
// indexer's view of the hub chain has fallen too far behind. It is checked
// per Ready job inside hubflow.Handlers.HandleReady, so the rejection is
// recorded on that job; the dispatcher tick itself does not consult it, and
// ingest of new job rows continues while the indexer lags.
type IndexerLagGuard struct {
	MaxHeadLagBlocks int64 // 0 disables the guard.
}

// indexerHead and hubHead are supplied by the caller (HandleReady), which
// reads them from the indexer and hub clients.
func (g *IndexerLagGuard) Check(ctx context.Context, indexerHead, hubHead int64) error {
	if g.MaxHeadLagBlocks <= 0 {
		return nil
	}
	lag := hubHead - indexerHead
	if lag < 0 {
		lag = 0
	}
	if lag > g.MaxHeadLagBlocks {
		return joberr.NewRetryable(0, "indexer_lag:behind_by_%d_blocks", lag)
	}
	return nil
}
