package safety

import (
	"context"
	"fmt"

	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
)

// PauseStore is the narrow persistence surface GlobalPause needs.
type PauseStore interface {
	GlobalPauseActive(ctx context.Context) (secsLeft int64, reason string, active bool, err error)
	SetGlobalPauseForSecs(ctx context.Context, secs int64, reason string) error
	CountRecentFatalErrors(ctx context.Context, windowSecs int64) (int64, error)
}

// GlobalPause gates claims on the DurableStore-wide pause row.
type GlobalPause struct {
	store PauseStore
	// AutoPauseThreshold/Window/Duration configure the auto-pause armer: if
	// within Window seconds more than AutoPauseThreshold jobs went
	// FailedFatal, the envelope itself arms a pause for Duration.
	AutoPauseThreshold int64
	AutoPauseWindow     int64
	AutoPauseDuration    int64
}

func NewGlobalPause(store PauseStore, threshold, windowSecs, durationSecs int64) *GlobalPause {
	return &GlobalPause{store: store, AutoPauseThreshold: threshold, AutoPauseWindow: windowSecs, AutoPauseDuration: durationSecs}
}

// CheckBeforeClaim returns a Retryable error if the envelope is paused;
// nil otherwise. Callers must skip the tick entirely on a non-nil result,
// per spec.md §4.3.
func (g *GlobalPause) CheckBeforeClaim(ctx context.Context) error {
	secsLeft, reason, active, err := g.store.GlobalPauseActive(ctx)
	if err != nil {
		return fmt.Errorf("global pause check: %w", err)
	}
	if !active {
		return nil
	}
	if reason == "" {
		reason = "unspecified"
	}
	return joberr.NewRetryable(durationFromSecs(secsLeft), "global_pause:%s", reason)
}

// MaybeAutoPause arms the global pause if recent fatal errors exceed the
// configured threshold, per spec.md §4.3's auto_pause_fatal_threshold_exceeded.
func (g *GlobalPause) MaybeAutoPause(ctx context.Context) error {
	if g.AutoPauseThreshold <= 0 {
		return nil
	}
	n, err := g.store.CountRecentFatalErrors(ctx, g.AutoPauseWindow)
	if err != nil {
		return fmt.Errorf("count recent fatal errors: %w", err)
	}
	if n <= g.AutoPauseThreshold {
		return nil
	}
	return g.store.SetGlobalPauseForSecs(ctx, g.AutoPauseDuration, "auto_pause_fatal_threshold_exceeded")
}
