package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/internal/annotator"
	"github.com/palantir/lead-enrichment-pipeline/internal/pipeline"
	"github.com/palantir/lead-enrichment-pipeline/internal/util"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/worker"
)

// tracedAnnotator logs every annotator attempt with its outcome.
type tracedAnnotator struct {
	next           annotator.Annotator
	logger         *slog.Logger
	maxRetries     int
	requestTimeout time.Duration
}

func newTracedAnnotator(next annotator.Annotator, logger *slog.Logger, maxRetries int, requestTimeout time.Duration) *tracedAnnotator {
	return &tracedAnnotator{
		next:           next,
		logger:         logger,
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
	}
}

func (t *tracedAnnotator) Generate(ctx context.Context, model, prompt string) (string, error) {
	logger := t.logger
	if runID, ok := pipeline.RunIDFromContext(ctx); ok {
		logger = logger.With("run_id", runID)
	}
	if u, ok := pipeline.UnitFromContext(ctx); ok {
		logger = logger.With("record_id", u.RecordID, "field", u.Field)
	}
	// Calls made outside the worker are single attempts.
	attempt, ok := worker.AttemptFromContext(ctx)
	if !ok {
		attempt = 1
	}

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	logger.Debug("annotator request",
		"model", model,
		"attempt", attempt,
		"timeout", t.requestTimeout,
		"deadline_in", deadlineIn,
		"prompt", prompt,
	)

	start := time.Now()
	out, err := t.next.Generate(ctx, model, prompt)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		retryable := worker.IsTransient(err)
		kind := "unknown"
		if k, ok := annotator.KindOf(err); ok {
			kind = k.String()
		}
		logger.Warn("annotator response",
			"model", model,
			"attempt", attempt,
			"duration", elapsed,
			"status", "error",
			"kind", kind,
			"retryable", retryable,
			"will_retry", retryable && attempt <= t.maxRetries && ctx.Err() == nil,
			"error", util.RedactSecrets(err.Error()),
		)
		return out, err
	}
	logger.Debug("annotator response",
		"model", model,
		"attempt", attempt,
		"duration", elapsed,
		"status", "ok",
		"response", out,
	)
	return out, nil
}
