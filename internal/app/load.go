package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/core"
)

// RunLoad copies already-enriched leads from in into out, replacing whatever
// out held before.
func RunLoad(ctx context.Context, in core.InputAdapter[lead.Lead], out core.OutputAdapter[lead.Lead], logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	leads, err := in.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load input: %w", err)
	}
	if err := out.Store(ctx, leads); err != nil {
		return 0, err
	}
	logger.Info("leads loaded", "count", len(leads), "duration", time.Since(start).Round(time.Millisecond))
	return len(leads), nil
}
