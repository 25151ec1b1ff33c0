// Package app wires inputs, the enrichment pipeline, the record store and the
// HTTP API into the commands the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/internal/enrich"
	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/internal/pipeline"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/core"
)

// ErrCancelled is returned when an enrichment run was stopped before it
// finished. Nothing is committed to the store in that case.
var ErrCancelled = errors.New("enrichment run cancelled")

// EnrichParams describes one enrich command invocation.
type EnrichParams struct {
	Input      core.InputAdapter[lead.RawRecord]
	Strategies []enrich.Strategy
	// Output receives the persistable leads. Nil skips persistence.
	Output core.OutputAdapter[lead.Lead]
	// HoldPartial keeps records with a failed field out of Output.
	HoldPartial bool
	// ReportPath, when set, receives the per-record report CSV.
	ReportPath string
}

// RunEnrich loads raw records, enriches them and commits the result.
func RunEnrich(ctx context.Context, p *pipeline.Pipeline, params EnrichParams, logger *slog.Logger) (pipeline.Report, error) {
	if logger == nil {
		logger = slog.Default()
	}

	readStart := time.Now()
	records, err := params.Input.Load(ctx)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("load input: %w", err)
	}
	logger.Info("loaded raw records", "count", len(records), "duration", time.Since(readStart).Round(time.Millisecond))

	report, err := p.Run(ctx, records, params.Strategies)
	if err != nil {
		return pipeline.Report{}, err
	}
	logger = logger.With("run_id", report.RunID)

	if params.ReportPath != "" {
		if err := writeReport(params.ReportPath, report); err != nil {
			return report, fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written", "path", params.ReportPath)
	}

	if report.Cancelled {
		logger.Warn("run cancelled; store left unchanged", "pending", report.Pending)
		return report, ErrCancelled
	}
	if params.Output == nil {
		logger.Info("dry run; store left unchanged")
		return report, nil
	}

	leads := report.Leads(params.HoldPartial)
	writeStart := time.Now()
	if err := params.Output.Store(ctx, leads); err != nil {
		return report, err
	}
	logger.Info("leads committed",
		"count", len(leads),
		"held_partial", len(report.Records)-len(leads),
		"duration", time.Since(writeStart).Round(time.Millisecond),
	)
	return report, nil
}

func writeReport(path string, report pipeline.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := pipeline.WriteCSV(f, report); err != nil {
		return err
	}
	return f.Close()
}

// StoreOutput commits leads by replacing the store contents.
type StoreOutput struct {
	Target store.Store
}

var _ core.OutputAdapter[lead.Lead] = StoreOutput{}

func (o StoreOutput) Store(ctx context.Context, leads []lead.Lead) error {
	return o.Target.ReplaceAll(ctx, leads)
}
