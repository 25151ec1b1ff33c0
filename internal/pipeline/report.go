package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/internal/annotator"
	"github.com/palantir/lead-enrichment-pipeline/internal/enrich"
	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/internal/util"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/worker"
)

// FieldStatus is the terminal state of one strategy for one record.
type FieldStatus string

const (
	FieldPending   FieldStatus = "pending"
	FieldSucceeded FieldStatus = "succeeded"
	FieldFailed    FieldStatus = "failed"
)

// RecordStatus classifies a record once the run is over.
type RecordStatus string

const (
	// RecordComplete means every requested field succeeded.
	RecordComplete RecordStatus = "complete"
	// RecordPartial means at least one field failed.
	RecordPartial RecordStatus = "partial"
	// RecordPending means the run was cancelled before every field was
	// attempted and none failed.
	RecordPending RecordStatus = "pending"
)

// FailureKind names why a field has no value.
type FailureKind string

const (
	FailureUnavailable FailureKind = "annotator_unavailable"
	FailureTimeout     FailureKind = "generation_timeout"
	FailureGeneration  FailureKind = "generation_error"
	FailureEmpty       FailureKind = "empty_enrichment"
	FailureAmbiguous   FailureKind = "ambiguous_label"
)

// KindOf maps an enrichment error onto the failure taxonomy.
func KindOf(err error) FailureKind {
	switch {
	case errors.Is(err, enrich.ErrAmbiguousLabel):
		return FailureAmbiguous
	case errors.Is(err, enrich.ErrEmptyEnrichment):
		return FailureEmpty
	}
	if k, ok := annotator.KindOf(err); ok {
		switch k {
		case annotator.KindUnavailable:
			return FailureUnavailable
		case annotator.KindTimeout:
			return FailureTimeout
		}
		return FailureGeneration
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureGeneration
}

// FieldResult is the outcome of one strategy for one record.
type FieldResult struct {
	Field    enrich.Field
	Status   FieldStatus
	Value    string
	Err      error
	Attempts int
	Cached   bool
}

// EnrichedRecord is a raw record plus the fields produced for it, in
// strategy order.
type EnrichedRecord struct {
	Index  int
	Record lead.RawRecord
	Fields []FieldResult
	Status RecordStatus
}

// Value returns the produced value for field, if it succeeded.
func (r EnrichedRecord) Value(field enrich.Field) (string, bool) {
	for _, f := range r.Fields {
		if f.Field == field && f.Status == FieldSucceeded {
			return f.Value, true
		}
	}
	return "", false
}

// Lead converts the record into a persistable lead. Fields that did not
// succeed stay nil, and a lead with only one enrichment field is flagged
// partial even when that was the only field requested.
func (r EnrichedRecord) Lead() lead.Lead {
	l := lead.FromRaw(r.Record)
	if v, ok := r.Value(enrich.FieldSummary); ok {
		s := v
		l.Summary = &s
	}
	if v, ok := r.Value(enrich.FieldQuality); ok {
		if q, ok := lead.ParseQuality(v); ok {
			l.LeadQuality = &q
		}
	}
	l.EnrichmentStatus = l.DeriveStatus()
	if r.Status == RecordPartial {
		l.EnrichmentStatus = lead.StatusPartial
	}
	return l
}

// Failure is one (record, field, kind) entry of a report.
type Failure struct {
	RecordID int64
	Index    int
	Field    enrich.Field
	Kind     FailureKind
	Message  string
	Attempts int
}

// Report is the result of one pipeline run.
type Report struct {
	RunID     string
	Model     string
	Total     int
	Complete  int
	Partial   int
	Pending   int
	Failures  []Failure
	Records   []EnrichedRecord
	Cancelled bool
	StartedAt time.Time
	Duration  time.Duration
}

// Leads returns the records ready to persist. Pending records are always
// left out; partial records are left out when holdPartial is set.
func (r Report) Leads(holdPartial bool) []lead.Lead {
	out := make([]lead.Lead, 0, len(r.Records))
	for _, rec := range r.Records {
		switch rec.Status {
		case RecordPending:
			continue
		case RecordPartial:
			if holdPartial {
				continue
			}
		}
		out = append(out, rec.Lead())
	}
	return out
}

// fold merges index-addressed unit results back into per-record jobs. units
// were issued record-major, so result k belongs to record k/len(strategies).
func fold(records []lead.RawRecord, strategies []enrich.Strategy, results []worker.Result[unit, unitOutput]) Report {
	report := Report{
		Total:   len(records),
		Records: make([]EnrichedRecord, len(records)),
	}
	for i, rec := range records {
		fields := make([]FieldResult, len(strategies))
		for j, s := range strategies {
			fields[j] = FieldResult{Field: s.Field(), Status: FieldPending}
		}
		report.Records[i] = EnrichedRecord{Index: i, Record: rec, Fields: fields}
	}

	for k, res := range results {
		i, j := k/len(strategies), k%len(strategies)
		f := &report.Records[i].Fields[j]
		f.Attempts = res.Attempts
		switch {
		case !res.Attempted:
		case res.Interrupted:
		case res.Err != nil:
			f.Status = FieldFailed
			f.Err = res.Err
		default:
			f.Status = FieldSucceeded
			f.Value = res.Output.value.Text
			f.Cached = res.Output.cached
		}
	}

	for i := range report.Records {
		rec := &report.Records[i]
		rec.Status = classify(rec.Fields)
		switch rec.Status {
		case RecordComplete:
			report.Complete++
		case RecordPartial:
			report.Partial++
		default:
			report.Pending++
		}
		for _, f := range rec.Fields {
			if f.Status != FieldFailed {
				continue
			}
			report.Failures = append(report.Failures, Failure{
				RecordID: rec.Record.ID,
				Index:    rec.Index,
				Field:    f.Field,
				Kind:     KindOf(f.Err),
				Message:  util.RedactSecrets(f.Err.Error()),
				Attempts: f.Attempts,
			})
		}
	}
	return report
}

func classify(fields []FieldResult) RecordStatus {
	pending := false
	for _, f := range fields {
		switch f.Status {
		case FieldFailed:
			return RecordPartial
		case FieldPending:
			pending = true
		}
	}
	if pending {
		return RecordPending
	}
	return RecordComplete
}
